package store

import (
	"database/sql"
	"fmt"
	"time"
)

// PinStore persists per-user PIN hashes used to confirm sensitive operations.
type PinStore struct {
	db *sql.DB
}

func NewPinStore(db *sql.DB) *PinStore {
	return &PinStore{db: db}
}

// Set stores or replaces a user's PIN hash.
func (s *PinStore) Set(userID, pinHash string) error {
	_, err := s.db.Exec(
		`INSERT INTO user_pins (user_id, pin_hash, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET pin_hash = excluded.pin_hash, updated_at = excluded.updated_at`,
		userID, pinHash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	return nil
}

// GetHash returns the stored PIN hash, or "" when the user has no PIN.
func (s *PinStore) GetHash(userID string) (string, error) {
	var hash string
	err := s.db.QueryRow("SELECT pin_hash FROM user_pins WHERE user_id = ?", userID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query pin: %w", err)
	}
	return hash, nil
}

// Clear removes a user's PIN. Idempotent.
func (s *PinStore) Clear(userID string) error {
	if _, err := s.db.Exec("DELETE FROM user_pins WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clear pin: %w", err)
	}
	return nil
}
