package handler

import (
	"log/slog"
	"net/http"

	"github.com/mhutchison/packrat/internal/push"
	"github.com/mhutchison/packrat/internal/store"
)

// PushHandler manages webpush subscriptions.
type PushHandler struct {
	service *push.Service
	store   *store.PushStore
	logger  *slog.Logger
}

func NewPushHandler(svc *push.Service, st *store.PushStore, logger *slog.Logger) *PushHandler {
	return &PushHandler{service: svc, store: st, logger: logger}
}

// VAPIDKey hands the public key to browser clients.
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.service.VAPIDPublicKey()})
}

type subscribeRequest struct {
	UserID   string `json:"user_id"`
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" || req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		errorJSON(w, http.StatusBadRequest, "user_id, endpoint and keys are required")
		return
	}
	if err := h.store.Subscribe(req.UserID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth); err != nil {
		h.logger.Error("save push subscription", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"subscribed": true})
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Endpoint == "" {
		errorJSON(w, http.StatusBadRequest, "endpoint is required")
		return
	}
	if err := h.store.DeleteByEndpoint(req.Endpoint); err != nil {
		h.logger.Error("delete push subscription", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unsubscribed": true})
}
