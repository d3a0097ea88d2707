// Package disposal manages the reversible trash lifecycle: items enter
// active trash, then transition exactly once to restored or permanently
// disposed. Decomposing items get a timed reminder.
package disposal

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mhutchison/packrat/internal/model"
	"github.com/mhutchison/packrat/internal/registry"
	"github.com/mhutchison/packrat/internal/store"
)

// Manager is the disposal lifecycle manager. All lifecycle entry points are
// permission-gated; a denied or invalid operation is a harmless no-op.
type Manager struct {
	registry *registry.Registry
	trash    *store.TrashStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewManager(reg *registry.Registry, trash *store.TrashStore, logger *slog.Logger) *Manager {
	return &Manager{registry: reg, trash: trash, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// reminderPriority derives urgency from how soon removal is estimated.
func reminderPriority(days int) model.ReminderPriority {
	switch {
	case days <= 3:
		return model.ReminderHigh
	case days <= 14:
		return model.ReminderMedium
	default:
		return model.ReminderLow
	}
}

// DisposeItem moves an item into active trash. Returns nil without mutation
// when the actor lacks item.delete in scope or the item id is already in
// trash. A finite decomposition estimate also schedules a DisposalReminder.
func (m *Manager) DisposeItem(actorID, itemID, name string, quantity int, location, actorNickname, reason, category string, warehouseID *string) *model.TrashItem {
	if !m.registry.HasPermission(actorID, "item.delete", warehouseID) {
		m.logger.Debug("dispose denied", "actor", actorID, "item", itemID)
		return nil
	}
	if existing, err := m.trash.Get(itemID); err != nil || existing != nil {
		if err != nil {
			m.logger.Error("lookup trash item", "item", itemID, "error", err)
		}
		return nil
	}

	item := model.TrashItem{
		ID:               itemID,
		Name:             name,
		Quantity:         quantity,
		OriginalLocation: location,
		DisposedBy:       actorNickname,
		DisposedAt:       m.now(),
		DisposalReason:   reason,
	}
	days, finite := DecompositionDays(category, name)
	if finite {
		item.EstimatedDecompositionDays = &days
	}
	if err := m.trash.Insert(item); err != nil {
		m.logger.Error("insert trash item", "item", itemID, "error", err)
		return nil
	}

	if finite {
		reminder := model.DisposalReminder{
			ID:                   uuid.NewString(),
			ItemID:               itemID,
			ItemName:             name,
			EstimatedRemovalDate: item.DisposedAt.Add(time.Duration(days) * 24 * time.Hour),
			Priority:             reminderPriority(days),
			Reason:               fmt.Sprintf("%s decomposes in about %d days", name, days),
		}
		if err := m.trash.InsertReminder(reminder); err != nil {
			m.logger.Error("insert reminder", "item", itemID, "error", err)
		}
	}

	m.logger.Info("item disposed", "item", itemID, "name", name, "by", actorNickname)
	return &item
}

// RestoreFromTrash moves an active trash item back toward the inventory.
// Returns nil when the id is missing or the item is already terminal. The
// permanent disposal log is never touched.
func (m *Manager) RestoreFromTrash(itemID string) *model.RestorableItem {
	item, err := m.trash.Get(itemID)
	if err != nil {
		m.logger.Error("lookup trash item", "item", itemID, "error", err)
		return nil
	}
	if item == nil || item.Terminal() {
		return nil
	}

	ok, err := m.trash.MarkRestored(itemID, m.now())
	if err != nil {
		m.logger.Error("mark restored", "item", itemID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	if err := m.trash.DeleteReminderByItem(itemID); err != nil {
		m.logger.Error("cancel reminder", "item", itemID, "error", err)
	}

	m.logger.Info("item restored", "item", itemID, "name", item.Name)
	return &model.RestorableItem{
		ID:       item.ID,
		Name:     item.Name,
		Quantity: item.Quantity,
		Location: item.OriginalLocation,
	}
}

// MarkAsActuallyDisposed finalizes a trash item: it leaves active trash, its
// reminder is cancelled, and an entry is frozen into the append-only log.
// Returns false when the item is missing or already terminal.
func (m *Manager) MarkAsActuallyDisposed(itemID string) bool {
	item, err := m.trash.Get(itemID)
	if err != nil {
		m.logger.Error("lookup trash item", "item", itemID, "error", err)
		return false
	}
	if item == nil || item.Terminal() {
		return false
	}

	now := m.now()
	ok, err := m.trash.MarkDisposed(itemID, now)
	if err != nil {
		m.logger.Error("mark disposed", "item", itemID, "error", err)
		return false
	}
	if !ok {
		return false
	}

	if err := m.trash.AppendLog(model.DisposalLogEntry{
		ItemID:      item.ID,
		Name:        item.Name,
		Quantity:    item.Quantity,
		DisposedBy:  item.DisposedBy,
		DisposedAt:  item.DisposedAt,
		FinalizedAt: now,
		Reason:      item.DisposalReason,
	}); err != nil {
		m.logger.Error("append disposal log", "item", itemID, "error", err)
	}
	if err := m.trash.DeleteReminderByItem(itemID); err != nil {
		m.logger.Error("cancel reminder", "item", itemID, "error", err)
	}

	m.logger.Info("item permanently disposed", "item", itemID, "name", item.Name)
	return true
}

// CompleteReminder acknowledges a reminder without touching the item's state
// machine. Returns false for unknown or already-completed reminders.
func (m *Manager) CompleteReminder(reminderID string) bool {
	ok, err := m.trash.CompleteReminder(reminderID, m.now())
	if err != nil {
		m.logger.Error("complete reminder", "reminder", reminderID, "error", err)
		return false
	}
	return ok
}

// ActiveTrash lists items still in the reversible trash state.
func (m *Manager) ActiveTrash() ([]model.TrashItem, error) {
	return m.trash.ListActive()
}

// DisposalLog lists the append-only permanent disposal log.
func (m *Manager) DisposalLog() ([]model.DisposalLogEntry, error) {
	return m.trash.ListLog()
}

// Reminders lists open disposal reminders ordered by removal date.
func (m *Manager) Reminders() ([]model.DisposalReminder, error) {
	return m.trash.ListReminders()
}
