package observability

import (
	"sync"
	"time"
)

// Decision is one scheduling decision made against a queue: an accepted
// admission (push) or a successful dispatch (pop). Only
// internal/queue.MemoryQueue publishes them; rejected pushes, pops of an
// empty queue, and the Postgres-backed queue publish none. The Control
// API's per-queue stream endpoint relays these live to connected clients.
type Decision struct {
	SchedulerID string
	Action      string // "push" or "pop"
	ItemID      string
	Priority    int
	Outcome     string // "accepted" (push) or "ok" (pop)
	Timestamp   time.Time
}

// decisionHub is a broadcast point for Decisions, grounded on ws_hub.go's
// MetricsHub — generalized from one goroutine-owned channel-actor per
// tenant to a plain mutex-guarded subscriber set, since decisions are
// published from many queue goroutines concurrently rather than from one
// ticker loop.
type decisionHub struct {
	mu   sync.Mutex
	subs map[chan Decision]struct{}
}

// Decisions is the process-wide decision broadcaster.
var Decisions = &decisionHub{subs: make(map[chan Decision]struct{})}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function. The channel is buffered so a slow consumer never
// blocks publishers; if its buffer fills, further decisions are dropped for
// that subscriber rather than stalling the queue.
func (h *decisionHub) Subscribe() (<-chan Decision, func()) {
	ch := make(chan Decision, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish fans d out to every current subscriber, non-blocking.
func (h *decisionHub) Publish(d Decision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- d:
		default:
		}
	}
}
