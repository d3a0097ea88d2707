package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mhutchison/packrat/internal/conflict"
	"github.com/mhutchison/packrat/internal/model"
	"github.com/mhutchison/packrat/internal/syncer"
	ws "github.com/mhutchison/packrat/internal/websocket"
)

// SyncHandler exposes the change recorder, batch scheduler, and conflict
// pipeline to the presentation layer.
type SyncHandler struct {
	syncer   *syncer.Syncer
	resolver *conflict.Resolver
	hub      *ws.Hub
	logger   *slog.Logger
}

func NewSyncHandler(s *syncer.Syncer, r *conflict.Resolver, hub *ws.Hub, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{syncer: s, resolver: r, hub: hub, logger: logger}
}

type addChangeRequest struct {
	ActorID     string          `json:"actor_id"`
	Action      model.Action    `json:"action"`
	EntityType  model.EntityType `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Data        json.RawMessage `json:"data"`
	WarehouseID string          `json:"warehouse_id"`
}

// AddChange records a local mutation. Permission denial returns accepted:false
// with 200; it is not an error.
func (h *SyncHandler) AddChange(w http.ResponseWriter, r *http.Request) {
	var req addChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.EntityID = strings.TrimSpace(req.EntityID)
	if req.ActorID == "" || req.EntityID == "" {
		errorJSON(w, http.StatusBadRequest, "actor_id and entity_id are required")
		return
	}

	accepted := h.syncer.AddChange(req.ActorID, req.Action, req.EntityType, req.EntityID, req.Data, optionalWarehouse(req.WarehouseID))
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

// ForceSend flushes the pending queue immediately.
func (h *SyncHandler) ForceSend(w http.ResponseWriter, r *http.Request) {
	h.syncer.ForceSend()
	writeJSON(w, http.StatusOK, h.syncer.Status())
}

// Status returns the current sync status snapshot.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.syncer.Status())
}

// Resync retries permanently failed batches.
func (h *SyncHandler) Resync(w http.ResponseWriter, r *http.Request) {
	h.syncer.Resync()
	writeJSON(w, http.StatusOK, h.syncer.Status())
}

// ClearPending drops the whole queue.
func (h *SyncHandler) ClearPending(w http.ResponseWriter, r *http.Request) {
	if err := h.syncer.ClearPending(); err != nil {
		h.logger.Error("clear pending", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to clear pending changes")
		return
	}
	writeJSON(w, http.StatusOK, h.syncer.Status())
}

// FailedBatches lists batches awaiting manual resync.
func (h *SyncHandler) FailedBatches(w http.ResponseWriter, r *http.Request) {
	failed := h.syncer.FailedBatches()
	if failed == nil {
		failed = []syncer.FailedBatch{}
	}
	writeJSON(w, http.StatusOK, failed)
}

// Inbound accepts a sync payload from a peer. Malformed payloads are
// rejected wholesale.
func (h *SyncHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	var payload model.SyncPayload
	if err := decodeJSON(r, &payload); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.syncer.Receive(payload); err != nil {
		errorJSON(w, http.StatusBadRequest, "malformed batch")
		return
	}
	h.hub.Broadcast(ws.Event{Type: ws.EventBatchReceived, Payload: map[string]any{
		"batch_id": payload.BatchID,
		"sender":   payload.SenderDeviceName,
		"changes":  len(payload.Changes),
	}})
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

// Conflicts lists conflicts awaiting manual resolution.
func (h *SyncHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	manual := h.resolver.Manual()
	if manual == nil {
		manual = []model.Conflict{}
	}
	writeJSON(w, http.StatusOK, manual)
}

type resolveRequest struct {
	Resolutions map[string]model.Resolution `json:"resolutions"`
}

// ResolveConflicts applies manual resolutions by conflict id.
func (h *SyncHandler) ResolveConflicts(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Resolutions) == 0 {
		errorJSON(w, http.StatusBadRequest, "resolutions are required")
		return
	}
	h.resolver.Resolve(req.Resolutions)
	writeJSON(w, http.StatusOK, map[string]int{"remaining": len(h.resolver.Manual())})
}
