package syncer

import (
	"context"
	"errors"
	"sync"

	"github.com/mhutchison/packrat/internal/model"
)

// Transport delivers sync payloads to peers. The wire mechanics (framing,
// discovery, pairing) belong to whoever implements this; the syncer only
// cares that Send either succeeds within its context or returns an error.
type Transport interface {
	// Peers returns the ids of currently reachable peers.
	Peers() []string
	// Send delivers the payload to one peer, honoring ctx cancellation.
	Send(ctx context.Context, peerID string, payload model.SyncPayload) error
}

// ErrPeerUnreachable is returned by Loopback for unknown peer ids.
var ErrPeerUnreachable = errors.New("peer unreachable")

// Loopback is an in-process Transport connecting syncers directly, used in
// tests and single-host setups.
type Loopback struct {
	mu       sync.RWMutex
	handlers map[string]func(model.SyncPayload) error
}

func NewLoopback() *Loopback {
	return &Loopback{handlers: make(map[string]func(model.SyncPayload) error)}
}

// Connect registers a peer's inbound handler under the given id.
func (l *Loopback) Connect(peerID string, handler func(model.SyncPayload) error) {
	l.mu.Lock()
	l.handlers[peerID] = handler
	l.mu.Unlock()
}

// Disconnect removes a peer.
func (l *Loopback) Disconnect(peerID string) {
	l.mu.Lock()
	delete(l.handlers, peerID)
	l.mu.Unlock()
}

func (l *Loopback) Peers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	peers := make([]string, 0, len(l.handlers))
	for id := range l.handlers {
		peers = append(peers, id)
	}
	return peers
}

func (l *Loopback) Send(ctx context.Context, peerID string, payload model.SyncPayload) error {
	l.mu.RLock()
	handler, ok := l.handlers[peerID]
	l.mu.RUnlock()
	if !ok {
		return ErrPeerUnreachable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return handler(payload)
}
