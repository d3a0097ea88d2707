package store

import (
	"testing"

	"github.com/mhutchison/packrat/internal/database"
)

func setupPushTestDB(t *testing.T) *PushStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPushStore(db)
}

func TestPushSubscribeAndList(t *testing.T) {
	ps := setupPushTestDB(t)

	if err := ps.Subscribe("u1", "https://push.example.com/sub1", "p256dh1", "auth1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := ps.Subscribe("u2", "https://push.example.com/sub2", "p256dh2", "auth2"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	subs, err := ps.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}
}

func TestPushSubscribeUpsertsByEndpoint(t *testing.T) {
	ps := setupPushTestDB(t)

	ps.Subscribe("u1", "https://push.example.com/sub1", "key1", "auth1")
	if err := ps.Subscribe("u1", "https://push.example.com/sub1", "key2", "auth2"); err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}

	subs, _ := ps.List()
	if len(subs) != 1 {
		t.Fatalf("expected single subscription after upsert, got %d", len(subs))
	}
	if subs[0].P256dhKey != "key2" {
		t.Errorf("p256dh = %q, want rotated key2", subs[0].P256dhKey)
	}
}

func TestPushDeleteByEndpoint(t *testing.T) {
	ps := setupPushTestDB(t)

	ps.Subscribe("u1", "https://push.example.com/sub1", "key1", "auth1")
	if err := ps.DeleteByEndpoint("https://push.example.com/sub1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	subs, _ := ps.List()
	if len(subs) != 0 {
		t.Errorf("expected no subscriptions, got %d", len(subs))
	}
	// Deleting an already-gone endpoint is a no-op.
	if err := ps.DeleteByEndpoint("https://push.example.com/sub1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
