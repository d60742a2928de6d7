// Package taskstore is the Task Store component: durable history of
// dispatched tasks, keyed by ID and by content hash, queryable by
// scheduler and status.
package taskstore

import (
	"context"
	"sync"

	"github.com/scanhive/mula/internal/model"
)

// Store is the task-history contract. Implementations: MemoryStore here,
// and internal/pgstore.PostgresTaskStore for the durable path.
type Store interface {
	Create(ctx context.Context, task *model.Task) error
	Get(ctx context.Context, id string) (*model.Task, error)
	GetByHash(ctx context.Context, schedulerID, hash string) (*model.Task, error)
	UpdateStatus(ctx context.Context, id string, status model.TaskStatus) error
	List(ctx context.Context, schedulerID string, status model.TaskStatus) ([]*model.Task, error)
}

// tenantKey is a namespaced string key that keeps one org's rows from
// colliding with another's in a shared map.
func tenantKey(schedulerID, id string) string {
	return schedulerID + "/" + id
}

func hashKey(schedulerID, hash string) string {
	return schedulerID + "#" + hash
}

// MemoryStore is an in-memory Store, grounded on store/memory.go's
// map-plus-mutex pattern — generalized from agents/jobs/states to tasks,
// with a secondary index by (scheduler, hash) for dedup lookups.
type MemoryStore struct {
	mu     sync.RWMutex
	tasks  map[string]*model.Task
	byHash map[string]*model.Task
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[string]*model.Task),
		byHash: make(map[string]*model.Task),
	}
}

func (s *MemoryStore) Create(ctx context.Context, task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *task
	s.tasks[tenantKey(task.SchedulerID, task.ID)] = &cp
	s.byHash[hashKey(task.SchedulerID, task.PItem.Hash)] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tasks {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, model.NewError("taskstore.Get", model.KindNotFound, nil)
}

func (s *MemoryStore) GetByHash(ctx context.Context, schedulerID, hash string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byHash[hashKey(schedulerID, hash)]
	if !ok {
		return nil, model.NewError("taskstore.GetByHash", model.KindNotFound, nil)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status model.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.tasks {
		if t.ID == id {
			t.Status = status
			s.tasks[key] = t
			s.byHash[hashKey(t.SchedulerID, t.PItem.Hash)] = t
			return nil
		}
	}
	return model.NewError("taskstore.UpdateStatus", model.KindNotFound, nil)
}

func (s *MemoryStore) List(ctx context.Context, schedulerID string, status model.TaskStatus) ([]*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Task
	for _, t := range s.tasks {
		if t.SchedulerID != schedulerID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}
