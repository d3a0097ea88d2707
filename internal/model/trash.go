package model

import "time"

// TrashItem is a disposed inventory item in the reversible trash state.
// RestoredAt and ActualDisposalDate are mutually exclusive: an item either
// rejoins the inventory or is frozen into the permanent disposal log, never
// both.
type TrashItem struct {
	ID                         string     `json:"id"`
	Name                       string     `json:"name"`
	Quantity                   int        `json:"quantity"`
	OriginalLocation           string     `json:"original_location"`
	DisposedBy                 string     `json:"disposed_by"`
	DisposedAt                 time.Time  `json:"disposed_at"`
	DisposalReason             string     `json:"disposal_reason,omitempty"`
	EstimatedDecompositionDays *int       `json:"estimated_decomposition_days,omitempty"`
	ActualDisposalDate         *time.Time `json:"actual_disposal_date,omitempty"`
	RestoredAt                 *time.Time `json:"restored_at,omitempty"`
}

// Terminal reports whether the item has left active trash.
func (t *TrashItem) Terminal() bool {
	return t.RestoredAt != nil || t.ActualDisposalDate != nil
}

// RestorableItem is the payload handed back to the inventory layer when a
// trash item is restored.
type RestorableItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Location string `json:"location"`
}

// DisposalLogEntry is one row of the append-only permanent disposal log.
type DisposalLogEntry struct {
	ID          int64     `json:"id"`
	ItemID      string    `json:"item_id"`
	Name        string    `json:"name"`
	Quantity    int       `json:"quantity"`
	DisposedBy  string    `json:"disposed_by"`
	DisposedAt  time.Time `json:"disposed_at"`
	FinalizedAt time.Time `json:"finalized_at"`
	Reason      string    `json:"reason,omitempty"`
}

// ReminderPriority orders disposal reminders by urgency.
type ReminderPriority string

const (
	ReminderHigh   ReminderPriority = "high"
	ReminderMedium ReminderPriority = "medium"
	ReminderLow    ReminderPriority = "low"
)

// DisposalReminder schedules a nudge to actually remove a decomposing item.
type DisposalReminder struct {
	ID                   string           `json:"id"`
	ItemID               string           `json:"item_id"`
	ItemName             string           `json:"item_name"`
	EstimatedRemovalDate time.Time        `json:"estimated_removal_date"`
	Priority             ReminderPriority `json:"priority"`
	Reason               string           `json:"reason,omitempty"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
	NotifiedAt           *time.Time       `json:"notified_at,omitempty"`
}
