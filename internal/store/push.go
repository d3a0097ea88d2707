package store

import (
	"database/sql"
	"fmt"

	"github.com/mhutchison/packrat/internal/model"
)

// PushStore persists web-push subscriptions.
type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

// Subscribe records a device's push endpoint, replacing any prior
// registration of the same endpoint.
func (s *PushStore) Subscribe(userID, endpoint, p256dh, auth string) error {
	_, err := s.db.Exec(
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh_key, auth_key) VALUES (?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET user_id = excluded.user_id, p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key`,
		userID, endpoint, p256dh, auth,
	)
	if err != nil {
		return fmt.Errorf("subscribe push: %w", err)
	}
	return nil
}

// DeleteByEndpoint removes a subscription, typically after the push service
// reports it gone.
func (s *PushStore) DeleteByEndpoint(endpoint string) error {
	if _, err := s.db.Exec("DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

// List returns all registered subscriptions.
func (s *PushStore) List() ([]model.PushSubscription, error) {
	rows, err := s.db.Query("SELECT id, user_id, endpoint, p256dh_key, auth_key, created_at FROM push_subscriptions")
	if err != nil {
		return nil, fmt.Errorf("query push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		var sub model.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
