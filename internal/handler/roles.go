package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mhutchison/packrat/internal/model"
	"github.com/mhutchison/packrat/internal/registry"
)

// RoleHandler exposes the role/permission registry.
type RoleHandler struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func NewRoleHandler(reg *registry.Registry, logger *slog.Logger) *RoleHandler {
	return &RoleHandler{registry: reg, logger: logger}
}

type grantRequest struct {
	CallerID    string     `json:"caller_id"`
	UserID      string     `json:"user_id"`
	Nickname    string     `json:"nickname"`
	Role        model.Role `json:"role"`
	WarehouseID string     `json:"warehouse_id"`
}

// Grant creates or overwrites a role grant. A denied grant is granted:false,
// not an HTTP error.
func (h *RoleHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.CallerID) == "" || strings.TrimSpace(req.UserID) == "" {
		errorJSON(w, http.StatusBadRequest, "caller_id and user_id are required")
		return
	}
	ok := h.registry.GrantRole(req.CallerID, req.UserID, req.Nickname, req.Role, optionalWarehouse(req.WarehouseID))
	writeJSON(w, http.StatusOK, map[string]bool{"granted": ok})
}

type targetRequest struct {
	CallerID    string `json:"caller_id"`
	UserID      string `json:"user_id"`
	WarehouseID string `json:"warehouse_id"`
}

func (h *RoleHandler) decodeTarget(w http.ResponseWriter, r *http.Request) (targetRequest, bool) {
	var req targetRequest
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return req, false
	}
	if strings.TrimSpace(req.CallerID) == "" || strings.TrimSpace(req.UserID) == "" {
		errorJSON(w, http.StatusBadRequest, "caller_id and user_id are required")
		return req, false
	}
	return req, true
}

// Revoke removes a grant.
func (h *RoleHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTarget(w, r)
	if !ok {
		return
	}
	done := h.registry.RevokeRole(req.CallerID, req.UserID, optionalWarehouse(req.WarehouseID))
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": done})
}

// Ban deactivates a grant, keeping it for a later unban.
func (h *RoleHandler) Ban(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTarget(w, r)
	if !ok {
		return
	}
	done := h.registry.BanUser(req.CallerID, req.UserID, optionalWarehouse(req.WarehouseID))
	writeJSON(w, http.StatusOK, map[string]bool{"banned": done})
}

// Unban reactivates a banned grant.
func (h *RoleHandler) Unban(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTarget(w, r)
	if !ok {
		return
	}
	done := h.registry.UnbanUser(req.CallerID, req.UserID, optionalWarehouse(req.WarehouseID))
	writeJSON(w, http.StatusOK, map[string]bool{"unbanned": done})
}

// CheckPermission answers a capability query:
// GET /api/permissions/check?user_id=&key=&warehouse_id=
func (h *RoleHandler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	key := r.URL.Query().Get("key")
	if userID == "" || key == "" {
		errorJSON(w, http.StatusBadRequest, "user_id and key are required")
		return
	}
	allowed := h.registry.HasPermission(userID, key, optionalWarehouse(r.URL.Query().Get("warehouse_id")))
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

// WarehouseUsers lists the users visible in a warehouse.
func (h *RoleHandler) WarehouseUsers(w http.ResponseWriter, r *http.Request) {
	warehouseID := r.PathValue("warehouse_id")
	if warehouseID == "" {
		errorJSON(w, http.StatusBadRequest, "warehouse_id is required")
		return
	}
	users, err := h.registry.WarehouseUsers(warehouseID)
	if err != nil {
		h.logger.Error("list warehouse users", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []model.RoleGrant{}
	}
	writeJSON(w, http.StatusOK, users)
}

// AllUsers lists every grant.
func (h *RoleHandler) AllUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.registry.AllUsers()
	if err != nil {
		h.logger.Error("list users", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []model.RoleGrant{}
	}
	writeJSON(w, http.StatusOK, users)
}
