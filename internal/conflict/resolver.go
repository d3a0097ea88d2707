// Package conflict compares incoming sync batches against local state and
// decides which side's value survives. Priorities auto-resolve; ties are
// queued for a human. Entity state lives in a flat id-keyed table so
// detection never walks the warehouse→room→shelf→item graph.
package conflict

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mhutchison/packrat/internal/model"
)

// fieldVersion is the confirmed value of one entity field plus the metadata
// needed to compare it against a remote edit.
type fieldVersion struct {
	value     any
	timestamp time.Time
	priority  int64
}

// PendingSource supplies the unacknowledged local changes that an incoming
// batch must be checked against.
type PendingSource interface {
	List() ([]model.ChangeRecord, error)
}

// Resolver holds confirmed entity state, detects divergences, and applies
// resolutions. A Listener, when set, is invoked for every conflict that
// requires manual resolution.
type Resolver struct {
	mu       sync.Mutex
	state    map[string]map[string]fieldVersion
	pending  PendingSource
	manual   map[string]model.Conflict
	applied  map[string]struct{}
	resolved map[string]struct{}
	listener func(model.Conflict)
	logger   *slog.Logger
}

func NewResolver(pending PendingSource, logger *slog.Logger) *Resolver {
	return &Resolver{
		state:    make(map[string]map[string]fieldVersion),
		pending:  pending,
		manual:   make(map[string]model.Conflict),
		applied:  make(map[string]struct{}),
		resolved: make(map[string]struct{}),
		logger:   logger,
	}
}

// SetListener registers the callback invoked when a conflict is queued for
// manual resolution. Must be called before the first Apply.
func (r *Resolver) SetListener(fn func(model.Conflict)) {
	r.listener = fn
}

func entityKey(t model.EntityType, id string) string {
	return string(t) + "/" + id
}

// conflictKey identifies a divergence independent of the generated conflict
// id, so redelivered batches do not re-queue an already-settled conflict.
func conflictKey(c model.Conflict) string {
	return fmt.Sprintf("%s/%s/%s/%d/%d", c.EntityType, c.EntityID, c.Field,
		c.LocalTimestamp.UnixNano(), c.RemoteTimestamp.UnixNano())
}

// localVersion finds the value this device currently holds for a field:
// the newest unacknowledged pending change wins over confirmed state.
func (r *Resolver) localVersion(pending []model.ChangeRecord, t model.EntityType, id, field string) (fieldVersion, bool, bool) {
	var v fieldVersion
	var found bool
	for _, p := range pending {
		if p.EntityType != t || p.EntityID != id {
			continue
		}
		fields, err := p.Fields()
		if err != nil {
			continue
		}
		val, ok := fields[field]
		if !ok {
			continue
		}
		if !found || p.Timestamp.After(v.timestamp) {
			v = fieldVersion{value: val, timestamp: p.Timestamp, priority: p.ConflictPriority}
			found = true
		}
	}
	if found {
		return v, true, true
	}
	if fields, ok := r.state[entityKey(t, id)]; ok {
		if fv, ok := fields[field]; ok {
			return fv, true, false
		}
	}
	return fieldVersion{}, false, false
}

// Detect reports every same-entity/same-field divergence between the incoming
// payload and local state, exactly one conflict per (entity, field). It does
// not mutate state.
func (r *Resolver) Detect(payload model.SyncPayload) []model.Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detectLocked(payload)
}

func (r *Resolver) detectLocked(payload model.SyncPayload) []model.Conflict {
	pending, err := r.pending.List()
	if err != nil {
		r.logger.Error("list pending changes", "error", err)
		pending = nil
	}

	var conflicts []model.Conflict
	seen := make(map[string]struct{})
	for _, rec := range payload.Changes {
		fields, err := rec.Fields()
		if err != nil {
			continue
		}
		for field, remoteVal := range fields {
			fieldKey := entityKey(rec.EntityType, rec.EntityID) + "/" + field
			if _, dup := seen[fieldKey]; dup {
				continue
			}
			local, ok, fromPending := r.localVersion(pending, rec.EntityType, rec.EntityID, field)
			if !ok || reflect.DeepEqual(local.value, remoteVal) {
				continue
			}
			// A strictly newer remote edit supersedes confirmed state;
			// an unacked pending edit always overlaps.
			if !fromPending && rec.Timestamp.After(local.timestamp) {
				continue
			}
			seen[fieldKey] = struct{}{}
			conflicts = append(conflicts, model.Conflict{
				ID:               uuid.NewString(),
				EntityType:       rec.EntityType,
				EntityID:         rec.EntityID,
				Field:            field,
				LocalValue:       local.value,
				RemoteValue:      remoteVal,
				LocalTimestamp:   local.timestamp,
				RemoteTimestamp:  rec.Timestamp,
				LocalPriority:    local.priority,
				RemotePriority:   rec.ConflictPriority,
				SourceDeviceName: payload.SenderDeviceName,
			})
		}
	}
	return conflicts
}

// Apply runs the full inbound pipeline for one payload: detect divergences,
// auto-resolve where priorities differ, queue ties for manual resolution, and
// fold everything else into confirmed state. Re-applying a payload whose
// records were already applied is a no-op.
func (r *Resolver) Apply(payload model.SyncPayload) (manual []model.Conflict) {
	r.mu.Lock()

	conflicts := r.detectLocked(payload)
	conflicted := make(map[string]model.Conflict, len(conflicts))
	for _, c := range conflicts {
		conflicted[entityKey(c.EntityType, c.EntityID)+"/"+c.Field] = c
	}

	var notify []model.Conflict
	for _, rec := range payload.Changes {
		if _, done := r.applied[rec.ID]; done {
			continue
		}
		r.applied[rec.ID] = struct{}{}

		fields, err := rec.Fields()
		if err != nil {
			r.logger.Warn("skip malformed change data", "change_id", rec.ID, "error", err)
			continue
		}
		for field, remoteVal := range fields {
			c, isConflict := conflicted[entityKey(rec.EntityType, rec.EntityID)+"/"+field]
			if !isConflict {
				r.setField(rec.EntityType, rec.EntityID, field, fieldVersion{
					value: remoteVal, timestamp: rec.Timestamp, priority: rec.ConflictPriority,
				})
				continue
			}
			if _, settled := r.resolved[conflictKey(c)]; settled {
				continue
			}
			switch {
			case c.RemotePriority > c.LocalPriority:
				r.setField(c.EntityType, c.EntityID, c.Field, fieldVersion{
					value: c.RemoteValue, timestamp: c.RemoteTimestamp, priority: c.RemotePriority,
				})
				r.resolved[conflictKey(c)] = struct{}{}
			case c.RemotePriority < c.LocalPriority:
				// Local side outranks: keep our value, confirmed at its
				// own timestamp so a redelivery compares identically.
				r.setField(c.EntityType, c.EntityID, c.Field, fieldVersion{
					value: c.LocalValue, timestamp: c.LocalTimestamp, priority: c.LocalPriority,
				})
				r.resolved[conflictKey(c)] = struct{}{}
			default:
				// Equal priority: never auto-resolve.
				if _, queued := r.manual[c.ID]; !queued {
					r.manual[c.ID] = c
					notify = append(notify, c)
					manual = append(manual, c)
				}
			}
		}
	}
	r.mu.Unlock()

	if r.listener != nil {
		for _, c := range notify {
			r.listener(c)
		}
	}
	return manual
}

// ConfirmLocal folds acknowledged local changes into confirmed state.
func (r *Resolver) ConfirmLocal(changes []model.ChangeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range changes {
		fields, err := rec.Fields()
		if err != nil {
			continue
		}
		for field, val := range fields {
			r.setField(rec.EntityType, rec.EntityID, field, fieldVersion{
				value: val, timestamp: rec.Timestamp, priority: rec.ConflictPriority,
			})
		}
	}
}

func (r *Resolver) setField(t model.EntityType, id, field string, v fieldVersion) {
	key := entityKey(t, id)
	fields, ok := r.state[key]
	if !ok {
		fields = make(map[string]fieldVersion)
		r.state[key] = fields
	}
	fields[field] = v
}

// Value returns the confirmed value of an entity field.
func (r *Resolver) Value(t model.EntityType, id, field string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fields, ok := r.state[entityKey(t, id)]; ok {
		if fv, ok := fields[field]; ok {
			return fv.value, true
		}
	}
	return nil, false
}

// Effective returns the value the device should display: the pending overlay
// when an unacknowledged local edit exists, otherwise confirmed state.
func (r *Resolver) Effective(t model.EntityType, id, field string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending, err := r.pending.List()
	if err != nil {
		pending = nil
	}
	if v, ok, _ := r.localVersion(pending, t, id, field); ok {
		return v.value, true
	}
	return nil, false
}

// Manual returns the conflicts awaiting manual resolution.
func (r *Resolver) Manual() []model.Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Conflict, 0, len(r.manual))
	for _, c := range r.manual {
		out = append(out, c)
	}
	return out
}

// Resolve applies the chosen side for each queued conflict. merge is legal
// only when both sides are structured values touching disjoint sub-fields;
// otherwise it is treated as local. Each conflict's resolution is applied
// atomically, and resolving an unknown or already-resolved id is a no-op.
func (r *Resolver) Resolve(choices map[string]model.Resolution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, choice := range choices {
		c, ok := r.manual[id]
		if !ok {
			continue
		}
		var winner fieldVersion
		switch choice {
		case model.ResolutionServer:
			winner = fieldVersion{value: c.RemoteValue, timestamp: c.RemoteTimestamp, priority: c.RemotePriority}
		case model.ResolutionMerge:
			if merged, ok := mergeValues(c.LocalValue, c.RemoteValue); ok {
				ts := c.LocalTimestamp
				if c.RemoteTimestamp.After(ts) {
					ts = c.RemoteTimestamp
				}
				winner = fieldVersion{value: merged, timestamp: ts, priority: c.LocalPriority}
				break
			}
			fallthrough
		default: // local
			winner = fieldVersion{value: c.LocalValue, timestamp: c.LocalTimestamp, priority: c.LocalPriority}
		}
		r.setField(c.EntityType, c.EntityID, c.Field, winner)
		r.resolved[conflictKey(c)] = struct{}{}
		delete(r.manual, id)
	}
}

// mergeValues combines two structured values when their sub-fields are
// disjoint. Any overlap, or a non-map value on either side, refuses.
func mergeValues(local, remote any) (any, bool) {
	lm, ok := local.(map[string]any)
	if !ok {
		return nil, false
	}
	rm, ok := remote.(map[string]any)
	if !ok {
		return nil, false
	}
	merged := make(map[string]any, len(lm)+len(rm))
	for k, v := range lm {
		merged[k] = v
	}
	for k, v := range rm {
		if _, clash := merged[k]; clash {
			return nil, false
		}
		merged[k] = v
	}
	return merged, true
}
