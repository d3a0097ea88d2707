package model

import (
	"encoding/json"
	"time"
)

// Action is the kind of mutation a change record describes.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// EntityType identifies which part of the inventory hierarchy a change touches.
type EntityType string

const (
	EntityWarehouse EntityType = "warehouse"
	EntityRoom      EntityType = "room"
	EntityShelf     EntityType = "shelf"
	EntityItem      EntityType = "item"
	EntityUser      EntityType = "user"
)

// ChangeRecord is one local mutation captured for synchronization. Data is a
// field→value snapshot of the entity after the mutation. ConflictPriority is
// derived from the actor's role grant at record time and travels with the
// record so peers can auto-resolve conflicts without knowing our registry.
type ChangeRecord struct {
	ID               string          `json:"id"`
	Action           Action          `json:"action"`
	EntityType       EntityType      `json:"entity_type"`
	EntityID         string          `json:"entity_id"`
	Data             json.RawMessage `json:"data"`
	ActorID          string          `json:"actor_id"`
	ActorNickname    string          `json:"actor_nickname"`
	WarehouseID      *string         `json:"warehouse_id,omitempty"`
	ConflictPriority int64           `json:"conflict_priority"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Fields decodes the data snapshot into a field→value map.
func (c *ChangeRecord) Fields() (map[string]any, error) {
	if len(c.Data) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// BatchStatus is the delivery state of a sync batch.
type BatchStatus string

const (
	BatchPending BatchStatus = "pending"
	BatchSent    BatchStatus = "sent"
	BatchFailed  BatchStatus = "failed"
)

// SyncBatch is an atomically transmitted bundle of change records.
type SyncBatch struct {
	BatchID    string         `json:"batch_id"`
	Changes    []ChangeRecord `json:"changes"`
	Status     BatchStatus    `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	RetryCount int            `json:"retry_count"`
}

// SyncPayload is the wire shape exchanged with peers. The transport that
// carries it (HTTP, WebRTC, whatever the pairing layer negotiated) is not
// this package's concern.
type SyncPayload struct {
	BatchID          string         `json:"batch_id"`
	Changes          []ChangeRecord `json:"changes"`
	SenderID         string         `json:"sender_id"`
	SenderDeviceName string         `json:"sender_device_name"`
	SentAt           time.Time      `json:"sent_at"`
}
