package conflict

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/mhutchison/packrat/internal/model"
)

// memPending is an in-memory PendingSource for tests.
type memPending struct {
	changes []model.ChangeRecord
}

func (m *memPending) List() ([]model.ChangeRecord, error) {
	return m.changes, nil
}

func change(id string, entityID string, data string, priority int64, ts time.Time) model.ChangeRecord {
	return model.ChangeRecord{
		ID:               id,
		Action:           model.ActionUpdate,
		EntityType:       model.EntityItem,
		EntityID:         entityID,
		Data:             json.RawMessage(data),
		ActorID:          "remote-user",
		ConflictPriority: priority,
		Timestamp:        ts,
	}
}

func payload(batchID string, changes ...model.ChangeRecord) model.SyncPayload {
	return model.SyncPayload{
		BatchID:          batchID,
		Changes:          changes,
		SenderID:         "peer-1",
		SenderDeviceName: "Dad's phone",
		SentAt:           time.Now().UTC(),
	}
}

func TestDetectFindsPendingOverlap(t *testing.T) {
	now := time.Now().UTC()
	pending := &memPending{changes: []model.ChangeRecord{
		change("local-1", "item-1", `{"quantity":5}`, 100, now),
	}}
	r := NewResolver(pending, slog.Default())

	conflicts := r.Detect(payload("b1", change("remote-1", "item-1", `{"quantity":7}`, 100, now.Add(time.Second))))
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.Field != "quantity" {
		t.Errorf("field = %q, want quantity", c.Field)
	}
	if c.LocalValue != float64(5) || c.RemoteValue != float64(7) {
		t.Errorf("values = %v vs %v, want 5 vs 7", c.LocalValue, c.RemoteValue)
	}
	if c.SourceDeviceName != "Dad's phone" {
		t.Errorf("source device = %q", c.SourceDeviceName)
	}
}

func TestDetectIgnoresEqualValuesAndOtherEntities(t *testing.T) {
	now := time.Now().UTC()
	pending := &memPending{changes: []model.ChangeRecord{
		change("local-1", "item-1", `{"quantity":5}`, 100, now),
	}}
	r := NewResolver(pending, slog.Default())

	// Same value: no divergence. Different entity: no overlap.
	conflicts := r.Detect(payload("b1",
		change("remote-1", "item-1", `{"quantity":5}`, 100, now),
		change("remote-2", "item-2", `{"quantity":9}`, 100, now),
	))
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", conflicts)
	}
}

func TestDetectNewerRemoteSupersedesConfirmedState(t *testing.T) {
	now := time.Now().UTC()
	pending := &memPending{}
	r := NewResolver(pending, slog.Default())
	r.ConfirmLocal([]model.ChangeRecord{change("c1", "item-1", `{"name":"Hammer"}`, 100, now)})

	// A strictly newer remote edit over confirmed state is just progress.
	conflicts := r.Detect(payload("b1", change("remote-1", "item-1", `{"name":"Mallet"}`, 100, now.Add(time.Minute))))
	if len(conflicts) != 0 {
		t.Fatalf("newer remote over confirmed state should not conflict, got %+v", conflicts)
	}
	// An older or same-timestamp remote edit does conflict.
	conflicts = r.Detect(payload("b2", change("remote-2", "item-1", `{"name":"Club"}`, 100, now.Add(-time.Minute))))
	if len(conflicts) != 1 {
		t.Fatalf("stale remote edit should conflict, got %d", len(conflicts))
	}
}

func TestDetectOneConflictPerEntityField(t *testing.T) {
	now := time.Now().UTC()
	pending := &memPending{changes: []model.ChangeRecord{
		change("local-1", "item-1", `{"quantity":5}`, 100, now),
	}}
	r := NewResolver(pending, slog.Default())

	// Two remote records touching the same field yield one conflict.
	conflicts := r.Detect(payload("b1",
		change("remote-1", "item-1", `{"quantity":7}`, 100, now),
		change("remote-2", "item-1", `{"quantity":8}`, 100, now),
	))
	if len(conflicts) != 1 {
		t.Fatalf("expected exactly 1 conflict for the field, got %d", len(conflicts))
	}
}

func TestApplyAutoResolvesByPriority(t *testing.T) {
	now := time.Now().UTC()
	pending := &memPending{changes: []model.ChangeRecord{
		change("local-1", "item-1", `{"quantity":5}`, 200, now),
	}}
	r := NewResolver(pending, slog.Default())

	// Remote outranks local: remote value lands in confirmed state.
	manual := r.Apply(payload("b1", change("remote-1", "item-1", `{"quantity":7}`, 900, now)))
	if len(manual) != 0 {
		t.Fatalf("priority difference should auto-resolve, got %d manual", len(manual))
	}
	if v, ok := r.Value(model.EntityItem, "item-1", "quantity"); !ok || v != float64(7) {
		t.Errorf("confirmed value = %v, want remote 7", v)
	}

	// Local outranks remote on another item: local value is kept.
	pending.changes = []model.ChangeRecord{
		change("local-2", "item-2", `{"quantity":3}`, 900, now),
	}
	r.Apply(payload("b2", change("remote-2", "item-2", `{"quantity":4}`, 200, now)))
	if v, ok := r.Value(model.EntityItem, "item-2", "quantity"); !ok || v != float64(3) {
		t.Errorf("confirmed value = %v, want local 3", v)
	}
}

func TestApplyQueuesEqualPriorityForManual(t *testing.T) {
	now := time.Now().UTC()
	pending := &memPending{changes: []model.ChangeRecord{
		change("local-1", "item-1", `{"quantity":5}`, 500, now),
	}}
	r := NewResolver(pending, slog.Default())

	var notified []model.Conflict
	r.SetListener(func(c model.Conflict) { notified = append(notified, c) })

	manual := r.Apply(payload("b1", change("remote-1", "item-1", `{"quantity":7}`, 500, now)))
	if len(manual) != 1 {
		t.Fatalf("equal priority should queue for manual resolution, got %d", len(manual))
	}
	if len(notified) != 1 {
		t.Fatalf("listener should fire once, fired %d times", len(notified))
	}
	if len(r.Manual()) != 1 {
		t.Errorf("manual queue should hold the conflict")
	}
	// The conflicted field must not silently take either side.
	if _, ok := r.Value(model.EntityItem, "item-1", "quantity"); ok {
		t.Error("conflicted field should stay unresolved in confirmed state")
	}
}

func TestApplyIdempotentOnRedelivery(t *testing.T) {
	now := time.Now().UTC()
	pending := &memPending{changes: []model.ChangeRecord{
		change("local-1", "item-1", `{"quantity":5}`, 500, now),
	}}
	r := NewResolver(pending, slog.Default())

	p := payload("b1", change("remote-1", "item-1", `{"quantity":7}`, 500, now))
	first := r.Apply(p)
	second := r.Apply(p)
	if len(first) != 1 {
		t.Fatalf("first apply should queue 1 conflict, got %d", len(first))
	}
	if len(second) != 0 {
		t.Errorf("redelivered payload must not re-queue, got %d", len(second))
	}
	if len(r.Manual()) != 1 {
		t.Errorf("manual queue = %d, want 1", len(r.Manual()))
	}
}

func TestResolveLocalAndServer(t *testing.T) {
	now := time.Now().UTC()
	pending := &memPending{changes: []model.ChangeRecord{
		change("local-1", "item-1", `{"quantity":5}`, 500, now),
		change("local-2", "item-2", `{"name":"Saw"}`, 500, now),
	}}
	r := NewResolver(pending, slog.Default())

	r.Apply(payload("b1",
		change("remote-1", "item-1", `{"quantity":7}`, 500, now),
		change("remote-2", "item-2", `{"name":"Axe"}`, 500, now),
	))
	queued := r.Manual()
	if len(queued) != 2 {
		t.Fatalf("expected 2 queued conflicts, got %d", len(queued))
	}

	choices := make(map[string]model.Resolution)
	for _, c := range queued {
		if c.EntityID == "item-1" {
			choices[c.ID] = model.ResolutionLocal
		} else {
			choices[c.ID] = model.ResolutionServer
		}
	}
	r.Resolve(choices)

	if len(r.Manual()) != 0 {
		t.Errorf("manual queue should drain, %d left", len(r.Manual()))
	}
	if v, _ := r.Value(model.EntityItem, "item-1", "quantity"); v != float64(5) {
		t.Errorf("item-1 = %v, want local 5", v)
	}
	if v, _ := r.Value(model.EntityItem, "item-2", "name"); v != "Axe" {
		t.Errorf("item-2 = %v, want remote Axe", v)
	}
}

func TestResolveMergeDisjointSubFields(t *testing.T) {
	now := time.Now().UTC()
	pending := &memPending{changes: []model.ChangeRecord{
		change("local-1", "item-1", `{"attrs":{"color":"red"}}`, 500, now),
	}}
	r := NewResolver(pending, slog.Default())

	r.Apply(payload("b1", change("remote-1", "item-1", `{"attrs":{"weight":"2kg"}}`, 500, now)))
	queued := r.Manual()
	if len(queued) != 1 {
		t.Fatalf("expected 1 queued conflict, got %d", len(queued))
	}

	r.Resolve(map[string]model.Resolution{queued[0].ID: model.ResolutionMerge})
	v, ok := r.Value(model.EntityItem, "item-1", "attrs")
	if !ok {
		t.Fatal("merged value missing")
	}
	attrs, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("merged value is %T, want map", v)
	}
	if attrs["color"] != "red" || attrs["weight"] != "2kg" {
		t.Errorf("merged attrs = %v", attrs)
	}
}

func TestResolveMergeOverlapFallsBackToLocal(t *testing.T) {
	now := time.Now().UTC()
	pending := &memPending{changes: []model.ChangeRecord{
		change("local-1", "item-1", `{"attrs":{"color":"red"}}`, 500, now),
	}}
	r := NewResolver(pending, slog.Default())

	r.Apply(payload("b1", change("remote-1", "item-1", `{"attrs":{"color":"blue"}}`, 500, now)))
	queued := r.Manual()
	if len(queued) != 1 {
		t.Fatalf("expected 1 queued conflict, got %d", len(queued))
	}

	r.Resolve(map[string]model.Resolution{queued[0].ID: model.ResolutionMerge})
	v, _ := r.Value(model.EntityItem, "item-1", "attrs")
	attrs, _ := v.(map[string]any)
	if attrs["color"] != "red" {
		t.Errorf("overlapping merge should keep local, got %v", attrs)
	}
}

func TestResolveUnknownIDIsNoOp(t *testing.T) {
	r := NewResolver(&memPending{}, slog.Default())
	r.Resolve(map[string]model.Resolution{"ghost": model.ResolutionServer})
	if len(r.Manual()) != 0 {
		t.Error("resolving an unknown conflict should change nothing")
	}
}

func TestEffectivePrefersPendingOverlay(t *testing.T) {
	now := time.Now().UTC()
	pending := &memPending{changes: []model.ChangeRecord{
		change("local-1", "item-1", `{"quantity":9}`, 500, now.Add(time.Minute)),
	}}
	r := NewResolver(pending, slog.Default())
	r.ConfirmLocal([]model.ChangeRecord{change("c0", "item-1", `{"quantity":2}`, 500, now)})

	if v, ok := r.Effective(model.EntityItem, "item-1", "quantity"); !ok || v != float64(9) {
		t.Errorf("effective = %v, want pending 9", v)
	}
	if v, ok := r.Value(model.EntityItem, "item-1", "quantity"); !ok || v != float64(2) {
		t.Errorf("confirmed = %v, want 2", v)
	}

	// Once the pending change is acknowledged the overlay collapses.
	pending.changes = nil
	if v, _ := r.Effective(model.EntityItem, "item-1", "quantity"); v != float64(2) {
		t.Errorf("effective after ack = %v, want confirmed 2", v)
	}
}
