package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mhutchison/packrat/internal/database"
	"github.com/mhutchison/packrat/internal/model"
)

func setupPendingTestDB(t *testing.T) *PendingStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPendingStore(db)
}

func testChange(id string, ts time.Time) model.ChangeRecord {
	return model.ChangeRecord{
		ID:               id,
		Action:           model.ActionUpdate,
		EntityType:       model.EntityItem,
		EntityID:         "item-1",
		Data:             json.RawMessage(`{"quantity":3}`),
		ActorID:          "u1",
		ActorNickname:    "Mum",
		ConflictPriority: 42,
		Timestamp:        ts,
	}
}

func TestPendingAppendAndList(t *testing.T) {
	ps := setupPendingTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	if err := ps.Append(testChange("c1", now)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := ps.Append(testChange("c2", now.Add(time.Second))); err != nil {
		t.Fatalf("append: %v", err)
	}

	changes, err := ps.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if changes[0].ID != "c1" || changes[1].ID != "c2" {
		t.Errorf("changes out of arrival order: %s, %s", changes[0].ID, changes[1].ID)
	}
	fields, err := changes[0].Fields()
	if err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if fields["quantity"] != float64(3) {
		t.Errorf("quantity = %v, want 3", fields["quantity"])
	}
	if changes[0].ConflictPriority != 42 {
		t.Errorf("conflict_priority = %d, want 42", changes[0].ConflictPriority)
	}
}

func TestPendingCount(t *testing.T) {
	ps := setupPendingTestDB(t)

	n, err := ps.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}

	now := time.Now().UTC()
	ps.Append(testChange("c1", now))
	ps.Append(testChange("c2", now))
	if n, _ = ps.Count(); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestPendingDeleteDrainsOnlyGivenIDs(t *testing.T) {
	ps := setupPendingTestDB(t)

	now := time.Now().UTC()
	ps.Append(testChange("c1", now))
	ps.Append(testChange("c2", now))
	ps.Append(testChange("c3", now))

	if err := ps.Delete([]string{"c1", "c3"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	changes, _ := ps.List()
	if len(changes) != 1 || changes[0].ID != "c2" {
		t.Fatalf("expected only c2 to remain, got %+v", changes)
	}

	// Empty id list is a no-op, not an error.
	if err := ps.Delete(nil); err != nil {
		t.Fatalf("delete with no ids: %v", err)
	}
}

func TestPendingClear(t *testing.T) {
	ps := setupPendingTestDB(t)

	ps.Append(testChange("c1", time.Now().UTC()))
	if err := ps.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := ps.Count(); n != 0 {
		t.Errorf("count after clear = %d, want 0", n)
	}
}
