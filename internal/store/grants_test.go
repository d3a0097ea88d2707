package store

import (
	"testing"

	"github.com/mhutchison/packrat/internal/database"
	"github.com/mhutchison/packrat/internal/model"
)

func setupGrantTestDB(t *testing.T) *GrantStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewGrantStore(db)
}

func strptr(s string) *string { return &s }

func TestGrantUpsertAndGet(t *testing.T) {
	gs := setupGrantTestDB(t)

	g, err := gs.Upsert("u1", "Mum", model.RoleAdmin, nil, "u0")
	if err != nil {
		t.Fatalf("upsert grant: %v", err)
	}
	if g.Role != model.RoleAdmin {
		t.Errorf("role = %q, want admin", g.Role)
	}
	if g.WarehouseID != nil {
		t.Errorf("expected global grant, got warehouse %q", *g.WarehouseID)
	}
	if !g.IsActive {
		t.Error("new grant should be active")
	}

	got, err := gs.Get("u1", nil)
	if err != nil {
		t.Fatalf("get grant: %v", err)
	}
	if got == nil || got.Nickname != "Mum" {
		t.Fatalf("get returned %+v, want nickname Mum", got)
	}
}

func TestGrantUpsertReplacesAndResetsGrantedAt(t *testing.T) {
	gs := setupGrantTestDB(t)

	first, _ := gs.Upsert("u1", "Mum", model.RoleViewer, nil, "u0")
	second, err := gs.Upsert("u1", "Mum", model.RoleEditor, nil, "u0")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.Role != model.RoleEditor {
		t.Errorf("role = %q, want editor", second.Role)
	}
	if second.GrantedAt.Before(first.GrantedAt) {
		t.Error("replacement should not move granted_at backwards")
	}

	all, err := gs.ListAll()
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected single grant after replace, got %d", len(all))
	}
}

func TestGrantGetMissing(t *testing.T) {
	gs := setupGrantTestDB(t)

	g, err := gs.Get("nobody", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if g != nil {
		t.Errorf("expected nil for missing grant, got %+v", g)
	}
}

func TestGrantScopesAreIndependent(t *testing.T) {
	gs := setupGrantTestDB(t)

	gs.Upsert("u1", "Mum", model.RoleViewer, nil, "u0")
	gs.Upsert("u1", "Mum", model.RoleAdmin, strptr("garage"), "u0")

	global, _ := gs.Get("u1", nil)
	scoped, _ := gs.Get("u1", strptr("garage"))
	if global == nil || global.Role != model.RoleViewer {
		t.Fatalf("global grant = %+v, want viewer", global)
	}
	if scoped == nil || scoped.Role != model.RoleAdmin {
		t.Fatalf("scoped grant = %+v, want admin", scoped)
	}
}

func TestGrantResolvePrefersWarehouseScope(t *testing.T) {
	gs := setupGrantTestDB(t)

	gs.Upsert("u1", "Mum", model.RoleViewer, nil, "u0")
	gs.Upsert("u1", "Mum", model.RoleAdmin, strptr("garage"), "u0")

	g, err := gs.Resolve("u1", strptr("garage"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if g == nil || g.Role != model.RoleAdmin {
		t.Fatalf("resolve = %+v, want warehouse admin grant", g)
	}

	g, _ = gs.Resolve("u1", strptr("attic"))
	if g == nil || g.Role != model.RoleViewer {
		t.Fatalf("resolve without scoped grant = %+v, want global viewer", g)
	}
}

func TestGrantResolveSkipsInactive(t *testing.T) {
	gs := setupGrantTestDB(t)

	gs.Upsert("u1", "Mum", model.RoleViewer, nil, "u0")
	gs.Upsert("u1", "Mum", model.RoleAdmin, strptr("garage"), "u0")
	if err := gs.SetActive("u1", strptr("garage"), false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	// Deactivated warehouse grant falls through to the global one.
	g, err := gs.Resolve("u1", strptr("garage"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if g == nil || g.Role != model.RoleViewer {
		t.Fatalf("resolve = %+v, want global viewer", g)
	}

	gs.SetActive("u1", nil, false)
	g, _ = gs.Resolve("u1", strptr("garage"))
	if g != nil {
		t.Errorf("expected no grant after both deactivated, got %+v", g)
	}
}

func TestGrantSetActiveRoundTrip(t *testing.T) {
	gs := setupGrantTestDB(t)

	gs.Upsert("u1", "Kid", model.RoleEditor, nil, "u0")
	gs.SetActive("u1", nil, false)

	g, _ := gs.Get("u1", nil)
	if g == nil || g.IsActive {
		t.Fatal("grant should survive deactivation with is_active=false")
	}

	gs.SetActive("u1", nil, true)
	g, _ = gs.Get("u1", nil)
	if g == nil || !g.IsActive {
		t.Fatal("grant should be active again")
	}
	if g.Role != model.RoleEditor {
		t.Errorf("role after reactivation = %q, want editor", g.Role)
	}
}

func TestGrantDeleteIdempotent(t *testing.T) {
	gs := setupGrantTestDB(t)

	gs.Upsert("u1", "Kid", model.RoleEditor, nil, "u0")
	if err := gs.Delete("u1", nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := gs.Delete("u1", nil); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	g, _ := gs.Get("u1", nil)
	if g != nil {
		t.Errorf("grant still present after delete: %+v", g)
	}
}

func TestGrantListByWarehouse(t *testing.T) {
	gs := setupGrantTestDB(t)

	gs.Upsert("u1", "Mum", model.RoleMaster, nil, "u1")
	gs.Upsert("u2", "Kid", model.RoleEditor, strptr("garage"), "u1")
	gs.Upsert("u3", "Guest", model.RoleGuest, strptr("attic"), "u1")
	// u2 also has a global grant that the garage-scoped one shadows.
	gs.Upsert("u2", "Kid", model.RoleViewer, nil, "u1")

	grants, err := gs.ListByWarehouse("garage")
	if err != nil {
		t.Fatalf("list by warehouse: %v", err)
	}
	byUser := make(map[string]model.RoleGrant)
	for _, g := range grants {
		byUser[g.UserID] = g
	}
	if len(grants) != 2 {
		t.Fatalf("expected 2 grants visible in garage, got %d", len(grants))
	}
	if byUser["u1"].Role != model.RoleMaster {
		t.Errorf("u1 role = %q, want master via global fallback", byUser["u1"].Role)
	}
	if byUser["u2"].Role != model.RoleEditor {
		t.Errorf("u2 role = %q, want the garage-scoped editor grant", byUser["u2"].Role)
	}
	if _, ok := byUser["u3"]; ok {
		t.Error("attic-only grant should not appear in garage")
	}
}
