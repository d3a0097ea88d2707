// Package syncer queues local edits, batches them on a debounce/size policy,
// and reconciles batches arriving from peers.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/mhutchison/packrat/internal/conflict"
	"github.com/mhutchison/packrat/internal/model"
	"github.com/mhutchison/packrat/internal/registry"
	"github.com/mhutchison/packrat/internal/store"
)

// Config tunes batching and retry behavior.
type Config struct {
	DeviceID    string
	DeviceName  string
	Debounce    time.Duration
	MaxPending  int
	MaxRetries  int
	RetryBase   time.Duration
	SendTimeout time.Duration
}

// Status is the externally observable sync state. It is a value snapshot;
// subscribers receive a fresh one on every transition.
type Status struct {
	IsPending      bool          `json:"is_pending"`
	PendingChanges int           `json:"pending_changes"`
	TimeUntilSend  time.Duration `json:"time_until_send"`
	FailedBatches  int           `json:"failed_batches"`
	LastSyncAt     *time.Time    `json:"last_sync_at,omitempty"`
}

// FailedBatch is a batch that exhausted its retry budget toward one peer.
// It is retried only through an explicit Resync.
type FailedBatch struct {
	Batch    model.SyncBatch `json:"batch"`
	PeerID   string          `json:"peer_id"`
	FailedAt time.Time       `json:"failed_at"`
}

// Syncer is the change recorder and batch scheduler for one device.
type Syncer struct {
	cfg       Config
	registry  *registry.Registry
	pending   *store.PendingStore
	resolver  *conflict.Resolver
	transport Transport
	logger    *slog.Logger

	mu         sync.Mutex
	timer      *time.Timer
	flushAt    time.Time
	acked      map[string]bool
	failed     []FailedBatch
	lastSyncAt *time.Time
	observers  map[int]func(Status)
	nextObs    int
	closed     bool

	wg sync.WaitGroup
}

func New(cfg Config, reg *registry.Registry, pending *store.PendingStore, resolver *conflict.Resolver, transport Transport, logger *slog.Logger) *Syncer {
	return &Syncer{
		cfg:       cfg,
		registry:  reg,
		pending:   pending,
		resolver:  resolver,
		transport: transport,
		logger:    logger,
		acked:     make(map[string]bool),
		observers: make(map[int]func(Status)),
	}
}

// permissionKey maps a mutation to the capability it requires.
func permissionKey(action model.Action, entity model.EntityType) string {
	return string(entity) + "." + string(action)
}

// AddChange records a local mutation. It is a silent no-op returning false
// when the actor lacks the corresponding capability in scope. On success the
// record is stamped with the actor's current priority, appended to the
// persistent queue, and the debounce timer is re-armed. AddChange never
// blocks on transmission.
func (s *Syncer) AddChange(actorID string, action model.Action, entity model.EntityType, entityID string, data json.RawMessage, warehouseID *string) bool {
	if !s.registry.HasPermission(actorID, permissionKey(action, entity), warehouseID) {
		s.logger.Debug("change rejected", "actor", actorID, "action", action, "entity", entity)
		return false
	}

	rec := model.ChangeRecord{
		ID:               uuid.NewString(),
		Action:           action,
		EntityType:       entity,
		EntityID:         entityID,
		Data:             data,
		ActorID:          actorID,
		ActorNickname:    s.registry.NicknameFor(actorID, warehouseID),
		WarehouseID:      warehouseID,
		ConflictPriority: s.registry.PriorityFor(actorID, warehouseID),
		Timestamp:        time.Now().UTC(),
	}
	if err := s.pending.Append(rec); err != nil {
		s.logger.Error("append change", "error", err)
		return false
	}

	count, err := s.pending.Count()
	if err != nil {
		s.logger.Error("count pending", "error", err)
		count = 0
	}

	s.mu.Lock()
	if count > s.cfg.MaxPending {
		s.stopTimerLocked()
		s.mu.Unlock()
		s.flush()
	} else {
		s.armTimerLocked()
		s.mu.Unlock()
	}
	s.notify()
	return true
}

// ForceSend cancels the debounce timer and flushes immediately. An already
// in-flight batch send is unaffected; it runs to completion or times out.
func (s *Syncer) ForceSend() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
	s.flush()
}

// ClearPending drops all queued changes without sending them.
func (s *Syncer) ClearPending() error {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
	if err := s.pending.Clear(); err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *Syncer) armTimerLocked() {
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.flushAt = time.Now().Add(s.cfg.Debounce)
	s.timer = time.AfterFunc(s.cfg.Debounce, func() {
		s.mu.Lock()
		s.timer = nil
		s.flushAt = time.Time{}
		s.mu.Unlock()
		s.flush()
	})
}

func (s *Syncer) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.flushAt = time.Time{}
}

// flush snapshots the queue into a batch and fans it out to every reachable
// peer. The snapshot is a copy: queue mutations after this point cannot
// corrupt the in-flight batch.
func (s *Syncer) flush() {
	changes, err := s.pending.List()
	if err != nil {
		s.logger.Error("snapshot pending", "error", err)
		return
	}
	if len(changes) == 0 {
		return
	}

	peers := s.transport.Peers()
	if len(peers) == 0 {
		// Nothing reachable; the queue stays intact for the next flush.
		s.logger.Debug("flush skipped, no peers")
		return
	}

	batch := model.SyncBatch{
		BatchID:   uuid.NewString(),
		Changes:   changes,
		Status:    model.BatchPending,
		CreatedAt: time.Now().UTC(),
	}
	s.logger.Info("flushing batch", "batch_id", batch.BatchID, "changes", len(changes), "peers", len(peers))

	for _, peerID := range peers {
		s.wg.Add(1)
		go func(peerID string) {
			defer s.wg.Done()
			s.sendWithRetry(peerID, batch)
		}(peerID)
	}
}

// sendWithRetry delivers one batch to one peer with bounded fibonacci
// backoff. The first successful delivery acknowledges the batch; exhausting
// the budget records a permanently failed batch.
func (s *Syncer) sendWithRetry(peerID string, batch model.SyncBatch) {
	payload := model.SyncPayload{
		BatchID:          batch.BatchID,
		Changes:          batch.Changes,
		SenderID:         s.cfg.DeviceID,
		SenderDeviceName: s.cfg.DeviceName,
		SentAt:           time.Now().UTC(),
	}

	attempts := 0
	backoff := retry.WithMaxRetries(uint64(s.cfg.MaxRetries), retry.NewFibonacci(s.cfg.RetryBase))
	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		attempts++
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
		if err := s.transport.Send(sendCtx, peerID, payload); err != nil {
			s.logger.Warn("send failed", "batch_id", batch.BatchID, "peer", peerID, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})

	if err != nil {
		batch.Status = model.BatchFailed
		batch.RetryCount = attempts
		s.mu.Lock()
		s.failed = append(s.failed, FailedBatch{Batch: batch, PeerID: peerID, FailedAt: time.Now().UTC()})
		s.mu.Unlock()
		s.logger.Error("batch permanently failed", "batch_id", batch.BatchID, "peer", peerID, "attempts", attempts)
		s.notify()
		return
	}

	s.ack(batch)
}

// ack drains the batch's records from the pending queue and confirms them
// locally. Only the first peer acknowledgment for a batch does the draining.
func (s *Syncer) ack(batch model.SyncBatch) {
	s.mu.Lock()
	if s.acked[batch.BatchID] {
		s.mu.Unlock()
		return
	}
	s.acked[batch.BatchID] = true
	now := time.Now().UTC()
	s.lastSyncAt = &now
	s.mu.Unlock()

	ids := make([]string, len(batch.Changes))
	for i, c := range batch.Changes {
		ids[i] = c.ID
	}
	if err := s.pending.Delete(ids); err != nil {
		s.logger.Error("drain acked changes", "batch_id", batch.BatchID, "error", err)
	}
	s.resolver.ConfirmLocal(batch.Changes)
	s.logger.Info("batch acknowledged", "batch_id", batch.BatchID, "changes", len(batch.Changes))
	s.notify()
}

// Resync retries every permanently failed batch with a fresh retry budget.
// This is the only path that revives a failed batch.
func (s *Syncer) Resync() {
	s.mu.Lock()
	failed := s.failed
	s.failed = nil
	s.mu.Unlock()
	if len(failed) == 0 {
		return
	}
	s.logger.Info("manual resync", "batches", len(failed))
	for _, f := range failed {
		f.Batch.Status = model.BatchPending
		s.wg.Add(1)
		go func(f FailedBatch) {
			defer s.wg.Done()
			s.sendWithRetry(f.PeerID, f.Batch)
		}(f)
	}
	s.notify()
}

// Receive handles an inbound payload from a peer. A malformed payload is
// rejected wholesale; nothing from it is applied.
func (s *Syncer) Receive(payload model.SyncPayload) error {
	if err := validatePayload(payload); err != nil {
		s.logger.Warn("rejected inbound batch", "batch_id", payload.BatchID, "sender", payload.SenderID, "error", err)
		return err
	}

	manual := s.resolver.Apply(payload)

	s.mu.Lock()
	now := time.Now().UTC()
	s.lastSyncAt = &now
	s.mu.Unlock()

	s.logger.Info("applied inbound batch", "batch_id", payload.BatchID,
		"sender", payload.SenderDeviceName, "changes", len(payload.Changes), "manual_conflicts", len(manual))
	s.notify()
	return nil
}

func validatePayload(p model.SyncPayload) error {
	if p.BatchID == "" {
		return fmt.Errorf("missing batch id")
	}
	if p.SenderID == "" {
		return fmt.Errorf("missing sender id")
	}
	if len(p.Changes) == 0 {
		return fmt.Errorf("empty batch")
	}
	for i, c := range p.Changes {
		switch {
		case c.ID == "":
			return fmt.Errorf("change %d: missing id", i)
		case c.EntityID == "":
			return fmt.Errorf("change %d: missing entity id", i)
		case c.Action != model.ActionCreate && c.Action != model.ActionUpdate && c.Action != model.ActionDelete:
			return fmt.Errorf("change %d: unknown action %q", i, c.Action)
		}
		switch c.EntityType {
		case model.EntityWarehouse, model.EntityRoom, model.EntityShelf, model.EntityItem, model.EntityUser:
		default:
			return fmt.Errorf("change %d: unknown entity type %q", i, c.EntityType)
		}
		if _, err := c.Fields(); err != nil {
			return fmt.Errorf("change %d: bad data snapshot: %w", i, err)
		}
	}
	return nil
}

// Status returns the current sync state.
func (s *Syncer) Status() Status {
	count, err := s.pending.Count()
	if err != nil {
		s.logger.Error("count pending", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var until time.Duration
	if !s.flushAt.IsZero() {
		if until = time.Until(s.flushAt); until < 0 {
			until = 0
		}
	}
	return Status{
		IsPending:      count > 0,
		PendingChanges: count,
		TimeUntilSend:  until,
		FailedBatches:  len(s.failed),
		LastSyncAt:     s.lastSyncAt,
	}
}

// FailedBatches returns the batches awaiting a manual resync.
func (s *Syncer) FailedBatches() []FailedBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FailedBatch, len(s.failed))
	copy(out, s.failed)
	return out
}

// Subscribe registers a status observer and returns its unsubscribe func.
// Observers are invoked synchronously on every state transition.
func (s *Syncer) Subscribe(fn func(Status)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Syncer) notify() {
	status := s.Status()
	s.mu.Lock()
	fns := make([]func(Status), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(status)
	}
}

// Close stops the debounce timer and waits for in-flight sends to finish.
func (s *Syncer) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopTimerLocked()
	s.mu.Unlock()
	s.wg.Wait()
}
