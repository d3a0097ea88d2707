package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mhutchison/packrat/internal/model"
)

// TrashStore persists trash items, their reminders, and the append-only
// permanent disposal log.
type TrashStore struct {
	db *sql.DB
}

func NewTrashStore(db *sql.DB) *TrashStore {
	return &TrashStore{db: db}
}

const trashColumns = "id, name, quantity, original_location, disposed_by, disposed_at, disposal_reason, estimated_decomposition_days, actual_disposal_date, restored_at"

func scanTrashItem(row interface{ Scan(...any) error }) (*model.TrashItem, error) {
	var t model.TrashItem
	var days sql.NullInt64
	var disposed, restored sql.NullTime
	err := row.Scan(&t.ID, &t.Name, &t.Quantity, &t.OriginalLocation, &t.DisposedBy,
		&t.DisposedAt, &t.DisposalReason, &days, &disposed, &restored)
	if err != nil {
		return nil, err
	}
	if days.Valid {
		d := int(days.Int64)
		t.EstimatedDecompositionDays = &d
	}
	if disposed.Valid {
		t.ActualDisposalDate = &disposed.Time
	}
	if restored.Valid {
		t.RestoredAt = &restored.Time
	}
	return &t, nil
}

// Insert adds a freshly disposed item to active trash.
func (s *TrashStore) Insert(t model.TrashItem) error {
	_, err := s.db.Exec(
		`INSERT INTO trash_items
		 (id, name, quantity, original_location, disposed_by, disposed_at, disposal_reason, estimated_decomposition_days)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Quantity, t.OriginalLocation, t.DisposedBy, t.DisposedAt, t.DisposalReason, t.EstimatedDecompositionDays,
	)
	if err != nil {
		return fmt.Errorf("insert trash item: %w", err)
	}
	return nil
}

// Get returns a trash item by id, or nil if unknown.
func (s *TrashStore) Get(id string) (*model.TrashItem, error) {
	t, err := scanTrashItem(s.db.QueryRow("SELECT "+trashColumns+" FROM trash_items WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query trash item: %w", err)
	}
	return t, nil
}

// ListActive returns items still in the reversible trash state.
func (s *TrashStore) ListActive() ([]model.TrashItem, error) {
	rows, err := s.db.Query(
		"SELECT " + trashColumns + " FROM trash_items WHERE restored_at IS NULL AND actual_disposal_date IS NULL ORDER BY disposed_at",
	)
	if err != nil {
		return nil, fmt.Errorf("query active trash: %w", err)
	}
	defer rows.Close()

	var items []model.TrashItem
	for rows.Next() {
		t, err := scanTrashItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trash item: %w", err)
		}
		items = append(items, *t)
	}
	return items, rows.Err()
}

// MarkRestored records the restore transition. Returns false when the item is
// missing or already terminal, so the transition happens at most once.
func (s *TrashStore) MarkRestored(id string, at time.Time) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE trash_items SET restored_at = ? WHERE id = ? AND restored_at IS NULL AND actual_disposal_date IS NULL",
		at, id,
	)
	if err != nil {
		return false, fmt.Errorf("mark restored: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkDisposed records the permanent-disposal transition under the same
// at-most-once rule as MarkRestored.
func (s *TrashStore) MarkDisposed(id string, at time.Time) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE trash_items SET actual_disposal_date = ? WHERE id = ? AND restored_at IS NULL AND actual_disposal_date IS NULL",
		at, id,
	)
	if err != nil {
		return false, fmt.Errorf("mark disposed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// AppendLog writes one entry to the permanent disposal log. Entries are never
// updated or deleted.
func (s *TrashStore) AppendLog(e model.DisposalLogEntry) error {
	_, err := s.db.Exec(
		"INSERT INTO disposal_log (item_id, name, quantity, disposed_by, disposed_at, finalized_at, reason) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.ItemID, e.Name, e.Quantity, e.DisposedBy, e.DisposedAt, e.FinalizedAt, e.Reason,
	)
	if err != nil {
		return fmt.Errorf("append disposal log: %w", err)
	}
	return nil
}

// ListLog returns the permanent disposal log, oldest first.
func (s *TrashStore) ListLog() ([]model.DisposalLogEntry, error) {
	rows, err := s.db.Query(
		"SELECT id, item_id, name, quantity, disposed_by, disposed_at, finalized_at, reason FROM disposal_log ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("query disposal log: %w", err)
	}
	defer rows.Close()

	var entries []model.DisposalLogEntry
	for rows.Next() {
		var e model.DisposalLogEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Name, &e.Quantity, &e.DisposedBy, &e.DisposedAt, &e.FinalizedAt, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan disposal log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const reminderColumns = "id, item_id, item_name, estimated_removal_date, priority, reason, completed_at, notified_at"

func scanReminder(row interface{ Scan(...any) error }) (*model.DisposalReminder, error) {
	var r model.DisposalReminder
	var completed, notified sql.NullTime
	err := row.Scan(&r.ID, &r.ItemID, &r.ItemName, &r.EstimatedRemovalDate, &r.Priority, &r.Reason, &completed, &notified)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		r.CompletedAt = &completed.Time
	}
	if notified.Valid {
		r.NotifiedAt = &notified.Time
	}
	return &r, nil
}

// InsertReminder schedules a disposal reminder.
func (s *TrashStore) InsertReminder(r model.DisposalReminder) error {
	_, err := s.db.Exec(
		"INSERT INTO disposal_reminders (id, item_id, item_name, estimated_removal_date, priority, reason) VALUES (?, ?, ?, ?, ?, ?)",
		r.ID, r.ItemID, r.ItemName, r.EstimatedRemovalDate, r.Priority, r.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

// GetReminderByItem returns the open reminder for a trash item, or nil.
func (s *TrashStore) GetReminderByItem(itemID string) (*model.DisposalReminder, error) {
	r, err := scanReminder(s.db.QueryRow(
		"SELECT "+reminderColumns+" FROM disposal_reminders WHERE item_id = ? AND completed_at IS NULL", itemID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query reminder by item: %w", err)
	}
	return r, nil
}

// ListReminders returns open reminders ordered by removal date.
func (s *TrashStore) ListReminders() ([]model.DisposalReminder, error) {
	return s.queryReminders(
		"SELECT " + reminderColumns + " FROM disposal_reminders WHERE completed_at IS NULL ORDER BY estimated_removal_date",
	)
}

// ListDueReminders returns open, un-notified reminders whose removal date
// falls on or before the cutoff.
func (s *TrashStore) ListDueReminders(cutoff time.Time) ([]model.DisposalReminder, error) {
	return s.queryReminders(
		"SELECT "+reminderColumns+" FROM disposal_reminders WHERE completed_at IS NULL AND notified_at IS NULL AND estimated_removal_date <= ? ORDER BY estimated_removal_date",
		cutoff,
	)
}

func (s *TrashStore) queryReminders(query string, args ...any) ([]model.DisposalReminder, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []model.DisposalReminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, *r)
	}
	return reminders, rows.Err()
}

// CompleteReminder acknowledges a reminder. Returns false when it is missing
// or already completed.
func (s *TrashStore) CompleteReminder(id string, at time.Time) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE disposal_reminders SET completed_at = ? WHERE id = ? AND completed_at IS NULL",
		at, id,
	)
	if err != nil {
		return false, fmt.Errorf("complete reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteReminderByItem cancels the open reminder for a trash item, if any.
func (s *TrashStore) DeleteReminderByItem(itemID string) error {
	if _, err := s.db.Exec("DELETE FROM disposal_reminders WHERE item_id = ? AND completed_at IS NULL", itemID); err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	return nil
}

// MarkReminderNotified records that a push notification went out, so the
// scheduler does not repeat it on the next tick.
func (s *TrashStore) MarkReminderNotified(id string, at time.Time) error {
	if _, err := s.db.Exec("UPDATE disposal_reminders SET notified_at = ? WHERE id = ?", at, id); err != nil {
		return fmt.Errorf("mark reminder notified: %w", err)
	}
	return nil
}
