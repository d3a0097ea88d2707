package model

import "time"

// Role is the closed set of permission roles a user can hold.
type Role string

const (
	RoleMaster Role = "master"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleGuest  Role = "guest"
)

// Rank returns the numeric rank of a role. Higher rank outranks lower.
// Unknown roles rank below guest so a corrupted grant never gains access.
func (r Role) Rank() int {
	switch r {
	case RoleMaster:
		return 5
	case RoleAdmin:
		return 4
	case RoleEditor:
		return 3
	case RoleViewer:
		return 2
	case RoleGuest:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the five known roles.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// RoleGrant assigns a role to a user, optionally scoped to one warehouse.
// WarehouseID nil means the grant is global and acts as the fallback when no
// warehouse-specific grant exists. A banned user keeps the grant row with
// IsActive false so an unban restores the exact prior permission set.
type RoleGrant struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Nickname    string    `json:"nickname"`
	Role        Role      `json:"role"`
	WarehouseID *string   `json:"warehouse_id,omitempty"`
	GrantedBy   string    `json:"granted_by"`
	GrantedAt   time.Time `json:"granted_at"`
	IsActive    bool      `json:"is_active"`
}
