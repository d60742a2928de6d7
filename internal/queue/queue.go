// Package queue defines the priority-queue contract and a heap-backed
// in-memory implementation used for tests and the non-durable path. The
// durable implementation lives in internal/pgstore, behind the same
// interface.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/observability"
	"github.com/scanhive/mula/internal/taskstore"
)

// PushPolicy controls which pushes of an existing hash are admitted.
type PushPolicy struct {
	AllowReplace         bool
	AllowUpdates         bool
	AllowPriorityUpdates bool
}

// Queue is a bounded, de-duplicated priority queue scoped to one scheduler.
type Queue interface {
	SchedulerID() string
	MaxSize() int // 0 = unbounded

	Push(item *model.PrioritizedItem) (*model.PrioritizedItem, error)
	Pop() (*model.PrioritizedItem, error)
	Peek(index int) (*model.PrioritizedItem, bool)
	Remove(id string) error

	QSize() int
	Full() bool
	Empty() bool
}

// TaskPusher is implemented by a Queue that can push an item and persist
// its task-history row as one atomic unit, so a concurrent Pop can never
// observe a queued item with no corresponding task row. Both concrete
// Queue implementations satisfy it: MemoryQueue here, pgstore.PostgresQueue
// for the durable path.
type TaskPusher interface {
	PushWithTask(ctx context.Context, item *model.PrioritizedItem, store taskstore.Store, task *model.Task) (*model.PrioritizedItem, error)
}

// PushTask pushes item onto q and persists task via store as one atomic
// unit when q implements TaskPusher. Every Queue this package or
// internal/pgstore constructs does; the sequential fallback exists only
// so a minimal hand-rolled Queue used in a test doesn't need to implement
// TaskPusher too.
func PushTask(ctx context.Context, q Queue, store taskstore.Store, item *model.PrioritizedItem, task *model.Task) (*model.PrioritizedItem, error) {
	if tp, ok := q.(TaskPusher); ok {
		return tp.PushWithTask(ctx, item, store, task)
	}

	pushed, err := q.Push(item)
	if err != nil {
		return nil, err
	}
	task.ID = pushed.ID
	task.SchedulerID = pushed.SchedulerID
	task.PItem = *pushed
	if err := store.Create(ctx, task); err != nil {
		q.Remove(pushed.ID)
		return nil, err
	}
	return pushed, nil
}

// heapSlice implements container/heap.Interface. Tie-break is strictly
// (priority asc, created_at asc) — no aging term: a wait-time aging
// adjustment to Less would silently violate that exact tie-break.
type heapSlice []*model.PrioritizedItem

func (h heapSlice) Len() int { return len(h) }
func (h heapSlice) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}
func (h heapSlice) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *heapSlice) Push(x interface{}) {
	*h = append(*h, x.(*model.PrioritizedItem))
}
func (h *heapSlice) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// MemoryQueue is a heap-backed Queue with hash-based dedup/replace
// semantics and a three-flag admissibility policy on top of the plain
// heap.
type MemoryQueue struct {
	schedulerID string
	maxSize     int
	policy      PushPolicy
	variant     model.PayloadKind
	clock       model.Clock

	mu      sync.Mutex
	items   heapSlice
	byHash  map[string]*model.PrioritizedItem
	byID    map[string]*model.PrioritizedItem
	nextSeq int
}

// NewMemoryQueue builds a Queue for schedulerID accepting only items whose
// Data.Kind == variant.
func NewMemoryQueue(schedulerID string, variant model.PayloadKind, maxSize int, policy PushPolicy, clock model.Clock) *MemoryQueue {
	if clock == nil {
		clock = model.RealClock
	}
	return &MemoryQueue{
		schedulerID: schedulerID,
		maxSize:     maxSize,
		policy:      policy,
		variant:     variant,
		clock:       clock,
		byHash:      make(map[string]*model.PrioritizedItem),
		byID:        make(map[string]*model.PrioritizedItem),
	}
}

func (q *MemoryQueue) SchedulerID() string { return q.schedulerID }
func (q *MemoryQueue) MaxSize() int        { return q.maxSize }

var _ TaskPusher = (*MemoryQueue)(nil)

// Push applies the admissibility policy: accept iff the item is new, or
// an existing item with the same hash may be replaced/updated/
// re-prioritized per the configured flags.
func (q *MemoryQueue) Push(item *model.PrioritizedItem) (*model.PrioritizedItem, error) {
	if err := q.validate(item); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushLocked(item)
}

// PushWithTask pushes item and persists task via store under the same
// lock that guards Pop, so Pop can never dequeue an item before its
// task-history row exists.
func (q *MemoryQueue) PushWithTask(ctx context.Context, item *model.PrioritizedItem, store taskstore.Store, task *model.Task) (*model.PrioritizedItem, error) {
	if err := q.validate(item); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	pushed, err := q.pushLocked(item)
	if err != nil {
		return nil, err
	}

	task.ID = pushed.ID
	task.SchedulerID = pushed.SchedulerID
	task.PItem = *pushed
	if err := store.Create(ctx, task); err != nil {
		q.removeLocked(pushed.ID)
		return nil, err
	}
	return pushed, nil
}

func (q *MemoryQueue) validate(item *model.PrioritizedItem) error {
	if item.Data.Kind != q.variant || !item.Data.Valid() {
		observability.QueuePushTotal.WithLabelValues(q.schedulerID, "invalid_item").Inc()
		return model.NewError("queue.Push", model.KindInvalidItem, nil)
	}
	if item.Hash == "" {
		item.Hash = item.Data.Hash()
	}
	return nil
}

func (q *MemoryQueue) pushLocked(item *model.PrioritizedItem) (*model.PrioritizedItem, error) {
	existing, on := q.byHash[item.Hash]

	if !on {
		if q.maxSize > 0 && len(q.items) >= q.maxSize {
			observability.QueuePushTotal.WithLabelValues(q.schedulerID, "queue_full").Inc()
			return nil, model.NewError("queue.Push", model.KindQueueFull, nil)
		}
		now := q.clock()
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		item.ModifiedAt = now
		if item.ID == "" {
			item.ID = q.newID()
		}
		item.SchedulerID = q.schedulerID
		heap.Push(&q.items, item)
		q.byHash[item.Hash] = item
		q.byID[item.ID] = item
		observability.QueuePushTotal.WithLabelValues(q.schedulerID, "accepted").Inc()
		observability.QueueDepth.WithLabelValues(q.schedulerID).Set(float64(len(q.items)))
		observability.RankerScore.WithLabelValues(q.schedulerID).Observe(float64(item.Priority))
		observability.Decisions.Publish(observability.Decision{
			SchedulerID: q.schedulerID, Action: "push", ItemID: item.ID,
			Priority: item.Priority, Outcome: "accepted", Timestamp: item.ModifiedAt,
		})
		return item, nil
	}

	dataChanged := !samePayload(existing.Data, item.Data)
	prioChanged := existing.Priority != item.Priority

	switch {
	case q.policy.AllowReplace,
		dataChanged && q.policy.AllowUpdates,
		prioChanged && q.policy.AllowPriorityUpdates:
		q.removeLocked(existing.ID)
		now := q.clock()
		item.CreatedAt = existing.CreatedAt
		item.ModifiedAt = now
		item.ID = existing.ID
		item.SchedulerID = q.schedulerID
		heap.Push(&q.items, item)
		q.byHash[item.Hash] = item
		q.byID[item.ID] = item
		observability.QueuePushTotal.WithLabelValues(q.schedulerID, "accepted").Inc()
		observability.QueueDepth.WithLabelValues(q.schedulerID).Set(float64(len(q.items)))
		observability.Decisions.Publish(observability.Decision{
			SchedulerID: q.schedulerID, Action: "push", ItemID: item.ID,
			Priority: item.Priority, Outcome: "accepted", Timestamp: item.ModifiedAt,
		})
		return item, nil
	default:
		observability.QueuePushTotal.WithLabelValues(q.schedulerID, "not_allowed").Inc()
		return nil, model.NewError("queue.Push", model.KindNotAllowed, nil)
	}
}

func samePayload(a, b model.TaskPayload) bool {
	return a.Hash() == b.Hash() && a.Kind == b.Kind
}

func (q *MemoryQueue) newID() string {
	q.nextSeq++
	return q.schedulerID + "-" + itoa(q.nextSeq)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Pop removes and returns the head (min priority, then earliest created_at).
func (q *MemoryQueue) Pop() (*model.PrioritizedItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		observability.QueuePopTotal.WithLabelValues(q.schedulerID, "queue_empty").Inc()
		return nil, model.NewError("queue.Pop", model.KindQueueEmpty, nil)
	}
	item := heap.Pop(&q.items).(*model.PrioritizedItem)
	delete(q.byHash, item.Hash)
	delete(q.byID, item.ID)
	observability.QueuePopTotal.WithLabelValues(q.schedulerID, "ok").Inc()
	observability.QueueDepth.WithLabelValues(q.schedulerID).Set(float64(len(q.items)))
	observability.Decisions.Publish(observability.Decision{
		SchedulerID: q.schedulerID, Action: "pop", ItemID: item.ID,
		Priority: item.Priority, Outcome: "ok", Timestamp: q.clock(),
	})
	return item, nil
}

// Peek returns the item at heap-order index i without removing it.
func (q *MemoryQueue) Peek(index int) (*model.PrioritizedItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.items) {
		return nil, false
	}
	return q.items[index], true
}

// Remove deletes the item with the given id, if present.
func (q *MemoryQueue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(id)
}

func (q *MemoryQueue) removeLocked(id string) error {
	item, ok := q.byID[id]
	if !ok {
		return model.NewError("queue.Remove", model.KindNotFound, nil)
	}
	for i, it := range q.items {
		if it.ID == id {
			heap.Remove(&q.items, i)
			break
		}
	}
	delete(q.byHash, item.Hash)
	delete(q.byID, id)
	return nil
}

func (q *MemoryQueue) QSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) Full() bool {
	if q.maxSize <= 0 {
		return false
	}
	return q.QSize() >= q.maxSize
}

func (q *MemoryQueue) Empty() bool { return q.QSize() == 0 }

// WaitForSpace blocks (bounded) until the queue has room for n more items
// or the deadline passes: the populate loop waits on back-pressure
// rather than shedding.
func WaitForSpace(q Queue, n int, poll time.Duration, deadline time.Time) bool {
	if q.MaxSize() <= 0 {
		return true
	}
	for time.Now().Before(deadline) {
		if q.QSize()+n <= q.MaxSize() {
			return true
		}
		time.Sleep(poll)
	}
	return q.QSize()+n <= q.MaxSize()
}
