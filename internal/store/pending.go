package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/mhutchison/packrat/internal/model"
)

// PendingStore persists the queue of change records awaiting a flush. Rows
// are deleted only on acknowledgment or an explicit clear, so a crash between
// flush and ack re-sends rather than loses changes.
type PendingStore struct {
	db *sql.DB
}

func NewPendingStore(db *sql.DB) *PendingStore {
	return &PendingStore{db: db}
}

// Append adds one change record to the tail of the queue.
func (s *PendingStore) Append(c model.ChangeRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO pending_changes
		 (id, action, entity_type, entity_id, data, actor_id, actor_nickname, warehouse_id, conflict_priority, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Action, c.EntityType, c.EntityID, string(c.Data),
		c.ActorID, c.ActorNickname, c.WarehouseID, c.ConflictPriority, c.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append pending change: %w", err)
	}
	return nil
}

// List returns the queued changes in arrival order. The returned slice is a
// fresh copy; callers may batch it up without racing later queue mutations.
func (s *PendingStore) List() ([]model.ChangeRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, action, entity_type, entity_id, data, actor_id, actor_nickname, warehouse_id, conflict_priority, created_at
		 FROM pending_changes ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending changes: %w", err)
	}
	defer rows.Close()

	var changes []model.ChangeRecord
	for rows.Next() {
		var c model.ChangeRecord
		var data string
		var warehouse sql.NullString
		if err := rows.Scan(&c.ID, &c.Action, &c.EntityType, &c.EntityID, &data,
			&c.ActorID, &c.ActorNickname, &warehouse, &c.ConflictPriority, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pending change: %w", err)
		}
		c.Data = []byte(data)
		if warehouse.Valid {
			c.WarehouseID = &warehouse.String
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// Count returns the number of queued changes.
func (s *PendingStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pending_changes").Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending changes: %w", err)
	}
	return n, nil
}

// Delete drains the given change ids, typically after a batch acknowledgment.
func (s *PendingStore) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.Exec("DELETE FROM pending_changes WHERE id IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("delete pending changes: %w", err)
	}
	return nil
}

// Clear empties the queue.
func (s *PendingStore) Clear() error {
	if _, err := s.db.Exec("DELETE FROM pending_changes"); err != nil {
		return fmt.Errorf("clear pending changes: %w", err)
	}
	return nil
}
