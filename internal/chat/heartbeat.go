package chat

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// pendingClear identifies one armed timer, a fired timer only clears the flag
// if it is still the latest one armed for its identity
type pendingClear struct {
	timer *clock.Timer
}

// Heartbeat publishes a debounced typing flag per identity.
// Every Touch restarts the idle window, the flag is cleared once the window
// passes without another Touch.
type Heartbeat struct {
	logger *zap.SugaredLogger
	store  PresenceStore
	clock  clock.Clock
	window time.Duration
	policy ClearPolicy

	mu      sync.Mutex
	pending map[string]*pendingClear
}

func NewHeartbeat(logger *zap.SugaredLogger, store PresenceStore, clk clock.Clock, window time.Duration, policy ClearPolicy) *Heartbeat {
	return &Heartbeat{
		logger:  logger,
		store:   store,
		clock:   clk,
		window:  window,
		policy:  policy,
		pending: make(map[string]*pendingClear),
	}
}

// Touch marks accountID as typing and re-arms its clear timer
func (h *Heartbeat) Touch(ctx context.Context, accountID string) error {
	h.mu.Lock()
	h.stopLocked(accountID)
	h.mu.Unlock()

	err := h.store.SetTyping(ctx, accountID, true)

	h.mu.Lock()
	defer h.mu.Unlock()

	// a concurrent Touch may have armed a timer while the flag was written
	h.stopLocked(accountID)
	p := &pendingClear{}
	p.timer = h.clock.AfterFunc(h.window, func() { h.expire(accountID, p) })
	h.pending[accountID] = p

	return err
}

// Clear cancels the pending timer and clears the flag immediately
func (h *Heartbeat) Clear(ctx context.Context, accountID string) error {
	h.mu.Lock()
	h.stopLocked(accountID)
	h.mu.Unlock()

	return h.clear(ctx, accountID)
}

// Stop cancels every pending timer without touching the store
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id := range h.pending {
		h.stopLocked(id)
	}
}

// Pending reports whether a clear timer is armed for accountID
func (h *Heartbeat) Pending(accountID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.pending[accountID]
	return ok
}

func (h *Heartbeat) stopLocked(accountID string) {
	if p, ok := h.pending[accountID]; ok {
		p.timer.Stop()
		delete(h.pending, accountID)
	}
}

func (h *Heartbeat) expire(accountID string, p *pendingClear) {
	h.mu.Lock()
	if h.pending[accountID] != p {
		h.mu.Unlock()
		return
	}
	delete(h.pending, accountID)
	h.mu.Unlock()

	if err := h.clear(context.Background(), accountID); err != nil {
		h.logger.Errorf("clearing typing flag of %s: %v", accountID, err)
	}
}

func (h *Heartbeat) clear(ctx context.Context, accountID string) error {
	if h.policy == ClearUnset {
		return h.store.SetTyping(ctx, accountID, false)
	}
	return h.store.RemoveTyping(ctx, accountID)
}
