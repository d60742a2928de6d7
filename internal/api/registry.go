// Package api is the Control API: the HTTP surface for inspecting and
// mutating scheduler/queue state, plus a per-queue websocket decision
// feed.
package api

import (
	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/queue"
)

// Registry is the supervisor-facing lookup the API reads from. The
// supervisor (internal/supervisor) owns the actual scheduler instances and
// implements this against its in-memory map of organisation -> scheduler
// pair; the API never constructs or tears down a scheduler itself.
type Registry interface {
	Schedulers() []model.SchedulerInfo
	Scheduler(id string) (model.SchedulerInfo, bool)
	SetPopulateEnabled(id string, enabled bool) (model.SchedulerInfo, error)
	Queues() []queue.Queue
	Queue(id string) (queue.Queue, bool)
}
