// Package scheduler is the abstract scheduler: one queue, one tenant, a
// populate loop on a configurable interval, and an
// enable/disable switch the loop honours at the top of every iteration.
// internal/boefje and internal/normalizer supply the concrete populate
// strategies.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/observability"
	"github.com/scanhive/mula/internal/queue"
	"github.com/scanhive/mula/internal/worker"
)

// Populate is a concrete scheduler's populate strategy: one pass of
// whatever sources feed its queue.
type Populate func(ctx context.Context) error

// Base is embedded by the concrete boefje/normalizer schedulers; it owns
// the queue, the populate loop's IntervalWorker, and the enabled switch.
// Every organisation gets its own scheduler instance, so Base holds no
// sharding/leadership/circuit-breaker state at all.
type Base struct {
	info  model.SchedulerInfo
	queue queue.Queue

	enabled  atomic.Bool
	populate *worker.IntervalWorker
}

// NewBase constructs a Base for the given scheduler identity and queue.
// populateEnabled seeds the initial enable/disable state.
func NewBase(info model.SchedulerInfo, q queue.Queue, populateEnabled bool) *Base {
	b := &Base{info: info, queue: q}
	b.enabled.Store(populateEnabled)
	observability.ObserveBoolGauge(observability.SchedulerEnabled, info.ID, populateEnabled)
	return b
}

func (b *Base) Info() model.SchedulerInfo { return b.info }
func (b *Base) Queue() queue.Queue        { return b.queue }

// Enabled reports whether the populate loop currently does work.
func (b *Base) Enabled() bool { return b.enabled.Load() }

// SetEnabled flips the populate_enabled switch; the loop observes it at the
// top of its next iteration.
func (b *Base) SetEnabled(v bool) {
	b.enabled.Store(v)
	observability.ObserveBoolGauge(observability.SchedulerEnabled, b.info.ID, v)
}

// Start launches the populate loop: an IntervalWorker that calls fn every
// interval only while Enabled(); when disabled, the iteration is a no-op,
// simply skipping the work and waiting for the next tick.
func (b *Base) Start(ctx context.Context, interval time.Duration, fn Populate) {
	b.populate = worker.New(b.info.ID+"-populate", interval, func(ctx context.Context) error {
		if !b.Enabled() {
			return nil
		}
		timer := prometheus.NewTimer(observability.PopulateDuration.WithLabelValues(b.info.ID))
		defer timer.ObserveDuration()
		return fn(ctx)
	})
	b.populate.Start(ctx)
}

// Stop cancels the populate loop and waits up to timeout for it to exit.
func (b *Base) Stop(timeout time.Duration) bool {
	if b.populate == nil {
		return true
	}
	b.populate.Stop()
	return b.populate.Join(timeout)
}
