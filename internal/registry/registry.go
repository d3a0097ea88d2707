// Package registry answers capability checks against the role grant table and
// derives the numeric priority that rides along with every change record.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/mhutchison/packrat/internal/cache"
	"github.com/mhutchison/packrat/internal/model"
	"github.com/mhutchison/packrat/internal/store"
)

// rolePermissions is the closed capability table. Keys are "entity.verb";
// "*" wildcards either side. Resolution never falls through between roles, so
// a change here is the whole story for what a role can do.
var rolePermissions = map[model.Role][]string{
	model.RoleMaster: {"*"},
	model.RoleAdmin:  {"item.*", "room.*", "shelf.*", "warehouse.view", "user.ban", "user.assign-roles"},
	model.RoleEditor: {"item.create", "item.update", "item.view"},
	model.RoleViewer: {"*.view"},
	model.RoleGuest:  {"warehouse.view-public"},
}

// permitted reports whether a role's capability set covers the given key.
func permitted(role model.Role, key string) bool {
	caps, ok := rolePermissions[role]
	if !ok {
		return false
	}
	entity, verb, found := strings.Cut(key, ".")
	if !found {
		return false
	}
	for _, c := range caps {
		if c == "*" || c == key {
			return true
		}
		ce, cv, ok := strings.Cut(c, ".")
		if !ok {
			continue
		}
		if (ce == "*" || ce == entity) && (cv == "*" || cv == verb) {
			return true
		}
	}
	return false
}

// Priority bands leave room for ~30k years of recency seconds before one role
// could overtake the next, so rank always dominates.
const (
	priorityEpoch = 1577836800 // 2020-01-01T00:00:00Z
	priorityBand  = int64(1_000_000_000_000)
)

// PriorityOf derives the conflict priority for a grant: a per-role base far
// apart from its neighbors plus seconds-since-epoch of the grant as a
// deterministic recency tie-breaker. Newer grants of the same role win.
func PriorityOf(role model.Role, grantedAt time.Time) int64 {
	recency := grantedAt.Unix() - priorityEpoch
	if recency < 0 {
		recency = 0
	}
	if recency >= priorityBand {
		recency = priorityBand - 1
	}
	return int64(role.Rank())*priorityBand + recency
}

// Registry is the role/permission registry. All mutations are gated on the
// caller's own capabilities; a denied mutation returns false with no side
// effect and no error.
type Registry struct {
	grants   *store.GrantStore
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
}

func New(grants *store.GrantStore, c cache.Cache, cacheTTL time.Duration, logger *slog.Logger) *Registry {
	return &Registry{grants: grants, cache: c, cacheTTL: cacheTTL, logger: logger}
}

type cachedGrant struct {
	Role      model.Role `json:"role"`
	Nickname  string     `json:"nickname"`
	GrantedAt time.Time  `json:"granted_at"`
}

func scopeKey(userID string, warehouseID *string) string {
	if warehouseID == nil {
		return "grant:" + userID + ":@global"
	}
	return "grant:" + userID + ":" + *warehouseID
}

// resolve returns the active grant governing the scope, consulting the cache
// first. Misses (user has no access at all) are cached too.
func (r *Registry) resolve(userID string, warehouseID *string) *cachedGrant {
	ctx := context.Background()
	key := scopeKey(userID, warehouseID)

	if data, err := r.cache.Get(ctx, key); err == nil {
		if string(data) == "none" {
			return nil
		}
		var cg cachedGrant
		if err := json.Unmarshal(data, &cg); err == nil {
			return &cg
		}
	}

	g, err := r.grants.Resolve(userID, warehouseID)
	if err != nil {
		r.logger.Error("resolve grant", "user_id", userID, "error", err)
		return nil
	}
	if g == nil {
		_ = r.cache.Set(ctx, key, []byte("none"), r.cacheTTL)
		return nil
	}

	cg := cachedGrant{Role: g.Role, Nickname: g.Nickname, GrantedAt: g.GrantedAt}
	if data, err := json.Marshal(cg); err == nil {
		_ = r.cache.Set(ctx, key, data, r.cacheTTL)
	}
	return &cg
}

// invalidate drops all cached resolutions. Grant mutations are rare compared
// to permission checks, so a full flush keeps the bookkeeping trivial.
func (r *Registry) invalidate() {
	if err := r.cache.Clear(context.Background()); err != nil {
		r.logger.Warn("clear permission cache", "error", err)
	}
}

// HasPermission reports whether the user holds the capability in the given
// scope: warehouse-specific active grant first, then global, then deny.
func (r *Registry) HasPermission(userID, key string, warehouseID *string) bool {
	g := r.resolve(userID, warehouseID)
	if g == nil {
		return false
	}
	return permitted(g.Role, key)
}

// PriorityFor returns the conflict priority of the user's governing grant in
// the scope, or 0 when the user has no active grant.
func (r *Registry) PriorityFor(userID string, warehouseID *string) int64 {
	g := r.resolve(userID, warehouseID)
	if g == nil {
		return 0
	}
	return PriorityOf(g.Role, g.GrantedAt)
}

// NicknameFor returns the nickname recorded on the governing grant.
func (r *Registry) NicknameFor(userID string, warehouseID *string) string {
	g := r.resolve(userID, warehouseID)
	if g == nil {
		return ""
	}
	return g.Nickname
}

// mayAdminister checks the shared gate for grant mutations: the caller holds
// the capability in scope and the target does not already outrank or equal
// the caller.
func (r *Registry) mayAdminister(callerID, targetID, capability string, warehouseID *string) bool {
	caller := r.resolve(callerID, warehouseID)
	if caller == nil || !permitted(caller.Role, capability) {
		return false
	}
	if target := r.resolve(targetID, warehouseID); target != nil && target.Role.Rank() >= caller.Role.Rank() {
		return false
	}
	return true
}

// GrantRole creates or overwrites a grant. Returns false with no mutation
// when the caller lacks user.assign-roles in scope, the target already holds
// a role at or above the caller's rank, or the role is unknown.
func (r *Registry) GrantRole(callerID, userID, nickname string, role model.Role, warehouseID *string) bool {
	if !role.Valid() {
		return false
	}
	if !r.mayAdminister(callerID, userID, "user.assign-roles", warehouseID) {
		r.logger.Debug("grant denied", "caller", callerID, "target", userID, "role", role)
		return false
	}
	if _, err := r.grants.Upsert(userID, nickname, role, warehouseID, callerID); err != nil {
		r.logger.Error("grant role", "target", userID, "error", err)
		return false
	}
	r.invalidate()
	r.logger.Info("role granted", "caller", callerID, "target", userID, "role", role)
	return true
}

// RevokeRole removes the target's grant at the scope. Idempotent.
func (r *Registry) RevokeRole(callerID, userID string, warehouseID *string) bool {
	if !r.mayAdminister(callerID, userID, "user.assign-roles", warehouseID) {
		return false
	}
	if err := r.grants.Delete(userID, warehouseID); err != nil {
		r.logger.Error("revoke role", "target", userID, "error", err)
		return false
	}
	r.invalidate()
	return true
}

// BanUser deactivates the target's grant without deleting it, so an unban
// restores the exact prior permission set. Idempotent.
func (r *Registry) BanUser(callerID, userID string, warehouseID *string) bool {
	if !r.mayAdminister(callerID, userID, "user.ban", warehouseID) {
		return false
	}
	if err := r.grants.SetActive(userID, warehouseID, false); err != nil {
		r.logger.Error("ban user", "target", userID, "error", err)
		return false
	}
	r.invalidate()
	r.logger.Info("user banned", "caller", callerID, "target", userID)
	return true
}

// UnbanUser reactivates a banned grant. Idempotent.
func (r *Registry) UnbanUser(callerID, userID string, warehouseID *string) bool {
	caller := r.resolve(callerID, warehouseID)
	if caller == nil || !permitted(caller.Role, "user.ban") {
		return false
	}
	if err := r.grants.SetActive(userID, warehouseID, true); err != nil {
		r.logger.Error("unban user", "target", userID, "error", err)
		return false
	}
	r.invalidate()
	return true
}

// Bootstrap installs the first master grant on an empty registry. It refuses
// once any grant exists; later grants must flow through GrantRole.
func (r *Registry) Bootstrap(userID, nickname string) bool {
	all, err := r.grants.ListAll()
	if err != nil {
		r.logger.Error("bootstrap registry", "error", err)
		return false
	}
	if len(all) > 0 {
		return false
	}
	if _, err := r.grants.Upsert(userID, nickname, model.RoleMaster, nil, userID); err != nil {
		r.logger.Error("bootstrap master grant", "error", err)
		return false
	}
	r.invalidate()
	return true
}

// WarehouseUsers is a side-effect-free projection of the users visible in a
// warehouse: warehouse-scoped grants plus global fallbacks.
func (r *Registry) WarehouseUsers(warehouseID string) ([]model.RoleGrant, error) {
	return r.grants.ListByWarehouse(warehouseID)
}

// AllUsers is a side-effect-free projection of every grant.
func (r *Registry) AllUsers() ([]model.RoleGrant, error) {
	return r.grants.ListAll()
}
