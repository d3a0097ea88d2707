package handler

import (
	"log/slog"
	"net/http"

	"github.com/mhutchison/packrat/internal/auth"
	"github.com/mhutchison/packrat/internal/store"
)

// PinHandler sets and verifies the confirmation PIN used for
// destructive operations like emptying trash.
type PinHandler struct {
	store  *store.PinStore
	logger *slog.Logger
}

func NewPinHandler(st *store.PinStore, logger *slog.Logger) *PinHandler {
	return &PinHandler{store: st, logger: logger}
}

type pinRequest struct {
	UserID string `json:"user_id"`
	PIN    string `json:"pin"`
}

func (h *PinHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" {
		errorJSON(w, http.StatusBadRequest, "user_id is required")
		return
	}
	hash, err := auth.HashPIN(req.PIN)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.Set(req.UserID, hash); err != nil {
		h.logger.Error("save pin", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to save PIN")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"set": true})
}

func (h *PinHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" {
		errorJSON(w, http.StatusBadRequest, "user_id is required")
		return
	}
	hash, err := h.store.GetHash(req.UserID)
	if err != nil {
		h.logger.Error("load pin", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to load PIN")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": auth.VerifyPIN(hash, req.PIN)})
}
