package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mhutchison/packrat/internal/disposal"
	"github.com/mhutchison/packrat/internal/model"
	ws "github.com/mhutchison/packrat/internal/websocket"
)

// DisposalHandler exposes the trash lifecycle.
type DisposalHandler struct {
	manager *disposal.Manager
	hub     *ws.Hub
	logger  *slog.Logger
}

func NewDisposalHandler(m *disposal.Manager, hub *ws.Hub, logger *slog.Logger) *DisposalHandler {
	return &DisposalHandler{manager: m, hub: hub, logger: logger}
}

func (h *DisposalHandler) broadcastChange(action string, itemID string) {
	h.hub.Broadcast(ws.Event{Type: ws.EventTrashChanged, Payload: map[string]string{
		"action":  action,
		"item_id": itemID,
	}})
}

type disposeRequest struct {
	ActorID       string `json:"actor_id"`
	ActorNickname string `json:"actor_nickname"`
	ItemID        string `json:"item_id"`
	Name          string `json:"name"`
	Quantity      int    `json:"quantity"`
	Location      string `json:"location"`
	Reason        string `json:"reason"`
	Category      string `json:"category"`
	WarehouseID   string `json:"warehouse_id"`
}

// Dispose moves an item into trash and, when the category has a
// decomposition estimate, schedules a reminder.
func (h *DisposalHandler) Dispose(w http.ResponseWriter, r *http.Request) {
	var req disposeRequest
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.ActorID) == "" || strings.TrimSpace(req.ItemID) == "" || strings.TrimSpace(req.Name) == "" {
		errorJSON(w, http.StatusBadRequest, "actor_id, item_id and name are required")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	item := h.manager.DisposeItem(req.ActorID, req.ItemID, req.Name, req.Quantity,
		req.Location, req.ActorNickname, req.Reason, req.Category, optionalWarehouse(req.WarehouseID))
	if item == nil {
		errorJSON(w, http.StatusForbidden, "disposal refused")
		return
	}
	h.broadcastChange("disposed", item.ID)
	writeJSON(w, http.StatusOK, item)
}

// Restore pulls an item back out of trash, cancelling its reminder.
func (h *DisposalHandler) Restore(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("id")
	restored := h.manager.RestoreFromTrash(itemID)
	if restored == nil {
		errorJSON(w, http.StatusNotFound, "item not restorable")
		return
	}
	h.broadcastChange("restored", restored.ID)
	writeJSON(w, http.StatusOK, restored)
}

// MarkDisposed records physical disposal, the other terminal state.
func (h *DisposalHandler) MarkDisposed(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("id")
	if !h.manager.MarkAsActuallyDisposed(itemID) {
		errorJSON(w, http.StatusNotFound, "item not in trash")
		return
	}
	h.broadcastChange("finalized", itemID)
	writeJSON(w, http.StatusOK, map[string]bool{"disposed": true})
}

// Trash lists items still sitting in trash.
func (h *DisposalHandler) Trash(w http.ResponseWriter, r *http.Request) {
	items, err := h.manager.ActiveTrash()
	if err != nil {
		h.logger.Error("list trash", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to list trash")
		return
	}
	if items == nil {
		items = []model.TrashItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Log returns the append-only disposal history.
func (h *DisposalHandler) Log(w http.ResponseWriter, r *http.Request) {
	entries, err := h.manager.DisposalLog()
	if err != nil {
		h.logger.Error("list disposal log", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to list disposal log")
		return
	}
	if entries == nil {
		entries = []model.DisposalLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Reminders lists open disposal reminders.
func (h *DisposalHandler) Reminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := h.manager.Reminders()
	if err != nil {
		h.logger.Error("list reminders", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to list reminders")
		return
	}
	if reminders == nil {
		reminders = []model.DisposalReminder{}
	}
	writeJSON(w, http.StatusOK, reminders)
}

// CompleteReminder dismisses a reminder once the trash actually went out.
func (h *DisposalHandler) CompleteReminder(w http.ResponseWriter, r *http.Request) {
	reminderID := r.PathValue("id")
	if !h.manager.CompleteReminder(reminderID) {
		errorJSON(w, http.StatusNotFound, "reminder not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"completed": true})
}
