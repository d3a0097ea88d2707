package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mhutchison/packrat/internal/model"
)

// GrantStore persists role grants keyed by (user, warehouse|global).
type GrantStore struct {
	db *sql.DB
}

func NewGrantStore(db *sql.DB) *GrantStore {
	return &GrantStore{db: db}
}

const grantColumns = "id, user_id, nickname, role, warehouse_id, granted_by, granted_at, is_active"

func scanGrant(row interface{ Scan(...any) error }) (*model.RoleGrant, error) {
	var g model.RoleGrant
	var warehouse sql.NullString
	err := row.Scan(&g.ID, &g.UserID, &g.Nickname, &g.Role, &warehouse, &g.GrantedBy, &g.GrantedAt, &g.IsActive)
	if err != nil {
		return nil, err
	}
	if warehouse.Valid {
		g.WarehouseID = &warehouse.String
	}
	return &g, nil
}

// Upsert creates or replaces the grant for (userID, warehouseID). Replacing
// resets granted_at so priority recency follows the newest grant.
func (s *GrantStore) Upsert(userID, nickname string, role model.Role, warehouseID *string, grantedBy string) (*model.RoleGrant, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM role_grants WHERE user_id = ? AND IFNULL(warehouse_id, '') = IFNULL(?, '')",
		userID, warehouseID,
	); err != nil {
		return nil, fmt.Errorf("clear prior grant: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT INTO role_grants (user_id, nickname, role, warehouse_id, granted_by, granted_at, is_active) VALUES (?, ?, ?, ?, ?, ?, 1)",
		userID, nickname, role, warehouseID, grantedBy, time.Now().UTC(),
	); err != nil {
		return nil, fmt.Errorf("insert grant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit grant: %w", err)
	}
	return s.Get(userID, warehouseID)
}

// Get returns the grant at exactly the given scope, or nil if none exists.
func (s *GrantStore) Get(userID string, warehouseID *string) (*model.RoleGrant, error) {
	g, err := scanGrant(s.db.QueryRow(
		"SELECT "+grantColumns+" FROM role_grants WHERE user_id = ? AND IFNULL(warehouse_id, '') = IFNULL(?, '')",
		userID, warehouseID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query grant: %w", err)
	}
	return g, nil
}

// Resolve returns the active grant governing the given scope: the
// warehouse-specific grant when one exists, otherwise the global grant,
// otherwise nil.
func (s *GrantStore) Resolve(userID string, warehouseID *string) (*model.RoleGrant, error) {
	if warehouseID != nil {
		g, err := s.activeGrant(userID, warehouseID)
		if err != nil {
			return nil, err
		}
		if g != nil {
			return g, nil
		}
	}
	return s.activeGrant(userID, nil)
}

func (s *GrantStore) activeGrant(userID string, warehouseID *string) (*model.RoleGrant, error) {
	g, err := scanGrant(s.db.QueryRow(
		"SELECT "+grantColumns+" FROM role_grants WHERE user_id = ? AND IFNULL(warehouse_id, '') = IFNULL(?, '') AND is_active = 1",
		userID, warehouseID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active grant: %w", err)
	}
	return g, nil
}

// SetActive toggles the ban flag on an existing grant. Missing grants are a
// no-op so ban/unban stay idempotent.
func (s *GrantStore) SetActive(userID string, warehouseID *string, active bool) error {
	_, err := s.db.Exec(
		"UPDATE role_grants SET is_active = ? WHERE user_id = ? AND IFNULL(warehouse_id, '') = IFNULL(?, '')",
		active, userID, warehouseID,
	)
	if err != nil {
		return fmt.Errorf("set grant active: %w", err)
	}
	return nil
}

// Delete removes the grant at the given scope. Idempotent.
func (s *GrantStore) Delete(userID string, warehouseID *string) error {
	_, err := s.db.Exec(
		"DELETE FROM role_grants WHERE user_id = ? AND IFNULL(warehouse_id, '') = IFNULL(?, '')",
		userID, warehouseID,
	)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

// ListByWarehouse returns grants visible in a warehouse: warehouse-scoped
// grants plus global grants for users without one.
func (s *GrantStore) ListByWarehouse(warehouseID string) ([]model.RoleGrant, error) {
	rows, err := s.db.Query(
		`SELECT `+grantColumns+` FROM role_grants
		 WHERE warehouse_id = ?
		    OR (warehouse_id IS NULL AND user_id NOT IN
		        (SELECT user_id FROM role_grants WHERE warehouse_id = ?))
		 ORDER BY granted_at`,
		warehouseID, warehouseID,
	)
	if err != nil {
		return nil, fmt.Errorf("query warehouse grants: %w", err)
	}
	defer rows.Close()
	return collectGrants(rows)
}

// ListAll returns every grant, global and warehouse-scoped.
func (s *GrantStore) ListAll() ([]model.RoleGrant, error) {
	rows, err := s.db.Query("SELECT " + grantColumns + " FROM role_grants ORDER BY granted_at")
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()
	return collectGrants(rows)
}

func collectGrants(rows *sql.Rows) ([]model.RoleGrant, error) {
	var grants []model.RoleGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, *g)
	}
	return grants, rows.Err()
}
