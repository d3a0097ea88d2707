package store

import (
	"testing"

	"github.com/mhutchison/packrat/internal/database"
)

func setupPinTestDB(t *testing.T) *PinStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPinStore(db)
}

func TestPinSetAndGetHash(t *testing.T) {
	ps := setupPinTestDB(t)

	if err := ps.Set("u1", "hash-one"); err != nil {
		t.Fatalf("set: %v", err)
	}
	hash, err := ps.GetHash("u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if hash != "hash-one" {
		t.Errorf("hash = %q, want hash-one", hash)
	}

	// Setting again replaces.
	ps.Set("u1", "hash-two")
	if hash, _ = ps.GetHash("u1"); hash != "hash-two" {
		t.Errorf("hash = %q, want hash-two", hash)
	}
}

func TestPinGetHashMissing(t *testing.T) {
	ps := setupPinTestDB(t)

	hash, err := ps.GetHash("nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if hash != "" {
		t.Errorf("hash = %q, want empty for unset PIN", hash)
	}
}

func TestPinClear(t *testing.T) {
	ps := setupPinTestDB(t)

	ps.Set("u1", "hash")
	if err := ps.Clear("u1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if hash, _ := ps.GetHash("u1"); hash != "" {
		t.Errorf("hash = %q, want empty after clear", hash)
	}
}
