package supervisor

import (
	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/queue"
)

// schedulerByID returns whichever half of a pair has the given scheduler
// id, so callers don't need to know boefje/normalizer naming.
func (s *Supervisor) schedulerByID(id string) (info model.SchedulerInfo, q queue.Queue, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pairs {
		if p.boefje.Info().ID == id {
			return p.boefje.Info(), p.boefje.Queue(), true
		}
		if p.normalizer.Info().ID == id {
			return p.normalizer.Info(), p.normalizer.Queue(), true
		}
	}
	return model.SchedulerInfo{}, nil, false
}

// Schedulers implements api.Registry.
func (s *Supervisor) Schedulers() []model.SchedulerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SchedulerInfo, 0, len(s.pairs)*2)
	for _, p := range s.pairs {
		out = append(out, p.boefje.Info(), p.normalizer.Info())
	}
	return out
}

// Scheduler implements api.Registry.
func (s *Supervisor) Scheduler(id string) (model.SchedulerInfo, bool) {
	info, _, ok := s.schedulerByID(id)
	return info, ok
}

// SetPopulateEnabled implements api.Registry.
func (s *Supervisor) SetPopulateEnabled(id string, enabled bool) (model.SchedulerInfo, error) {
	s.mu.RLock()
	var target interface {
		Info() model.SchedulerInfo
		SetEnabled(bool)
	}
	for _, p := range s.pairs {
		if p.boefje.Info().ID == id {
			target = p.boefje
			break
		}
		if p.normalizer.Info().ID == id {
			target = p.normalizer
			break
		}
	}
	s.mu.RUnlock()

	if target == nil {
		return model.SchedulerInfo{}, model.NewError("supervisor.SetPopulateEnabled", model.KindNotFound, nil)
	}
	target.SetEnabled(enabled)
	return target.Info(), nil
}

// Queues implements api.Registry.
func (s *Supervisor) Queues() []queue.Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]queue.Queue, 0, len(s.pairs)*2)
	for _, p := range s.pairs {
		out = append(out, p.boefje.Queue(), p.normalizer.Queue())
	}
	return out
}

// Queue implements api.Registry.
func (s *Supervisor) Queue(id string) (queue.Queue, bool) {
	_, q, ok := s.schedulerByID(id)
	return q, ok
}
