// Package boefje is the Boefje Scheduler: the concrete populate strategy
// that drains scan-level mutations, fans out newly
// enabled boefjes, and reschedules stale objects, each subject to a
// six-point admissibility chain before a candidate becomes a queued task.
package boefje

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/scanhive/mula/internal/blobstore"
	"github.com/scanhive/mula/internal/broker"
	"github.com/scanhive/mula/internal/catalogue"
	"github.com/scanhive/mula/internal/inventory"
	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/observability"
	"github.com/scanhive/mula/internal/queue"
	"github.com/scanhive/mula/internal/ranker"
	"github.com/scanhive/mula/internal/scheduler"
	"github.com/scanhive/mula/internal/taskstore"
)

// Deps are the external collaborators one Scheduler needs.
type Deps struct {
	Catalogue        *catalogue.Client
	Inventory        *inventory.Client
	BlobStore        *blobstore.Client
	Broker           broker.Consumer
	TaskStore        taskstore.Store
	Clock            model.Clock
	GracePeriod      time.Duration
	BackPressurePoll time.Duration
	BackPressureWait time.Duration
}

// Scheduler is the Boefje Scheduler for one organisation.
type Scheduler struct {
	*scheduler.Base
	org  model.Organisation
	deps Deps

	knownBoefjes map[string]bool // boefje IDs already seen as enabled, for (B)'s "newly enabled since last tick"
}

// New constructs a boefje Scheduler for org, wired to q and deps.
func New(org model.Organisation, q queue.Queue, populateEnabled bool, deps Deps) *Scheduler {
	if deps.Clock == nil {
		deps.Clock = model.RealClock
	}
	if deps.BackPressurePoll == 0 {
		deps.BackPressurePoll = 200 * time.Millisecond
	}
	if deps.BackPressureWait == 0 {
		deps.BackPressureWait = 5 * time.Second
	}
	info := model.SchedulerInfo{
		ID:              "boefje-" + org.ID,
		Kind:            model.SchedulerBoefje,
		Organisation:    org.ID,
		PopulateEnabled: populateEnabled,
	}
	return &Scheduler{
		Base:         scheduler.NewBase(info, q, populateEnabled),
		org:          org,
		deps:         deps,
		knownBoefjes: make(map[string]bool),
	}
}

// Populate runs one populate tick: sources (A), (B), (C) in order.
func (s *Scheduler) Populate(ctx context.Context) error {
	if err := s.drainMutations(ctx); err != nil {
		return err
	}
	if err := s.fanOutNewBoefjes(ctx); err != nil {
		return err
	}
	return s.rescheduleStale(ctx)
}

type scanProfileMutation struct {
	OOIPrimaryKey string `json:"ooi_primary_key"`
	ObjectType    string `json:"object_type"`
}

// drainMutations is source (A): repeatedly pull one mutation message,
// non-blocking, stopping when the stream yields nothing or the queue
// fills.
func (s *Scheduler) drainMutations(ctx context.Context) error {
	for {
		if s.Queue().Full() {
			return nil
		}

		msg, err := s.deps.Broker.Pull(ctx, s.org.ID, broker.SubjectScanProfileMutations)
		if err != nil {
			log.Printf("boefje[%s]: broker pull failed: %v", s.org.ID, err)
			if ctx.Err() != nil {
				return model.ErrShutdown
			}
			return nil
		}
		if msg == nil {
			return nil
		}

		var mutation scanProfileMutation
		if err := msg.Decode(&mutation); err != nil {
			log.Printf("boefje[%s]: malformed mutation message, skipping: %v", s.org.ID, err)
			s.deps.Broker.Ack(ctx, s.org.ID, broker.SubjectScanProfileMutations, msg)
			continue
		}

		ooi, err := s.deps.Inventory.ByReference(ctx, s.org.ID, mutation.OOIPrimaryKey)
		if err != nil {
			log.Printf("boefje[%s]: inventory lookup failed for %s: %v", s.org.ID, mutation.OOIPrimaryKey, err)
			s.deps.Broker.Ack(ctx, s.org.ID, broker.SubjectScanProfileMutations, msg)
			continue
		}

		boefjes, err := s.deps.Catalogue.Boefjes(ctx)
		if err != nil {
			log.Printf("boefje[%s]: catalogue lookup failed: %v", s.org.ID, err)
			s.deps.Broker.Ack(ctx, s.org.ID, broker.SubjectScanProfileMutations, msg)
			continue
		}

		for _, bj := range boefjes {
			s.tryPushCandidate(ctx, bj, ooi)
		}

		s.deps.Broker.Ack(ctx, s.org.ID, broker.SubjectScanProfileMutations, msg)
	}
}

// fanOutNewBoefjes is source (B): boefjes newly enabled for this org since
// last tick, fanned out against every known OOI of the types they consume.
func (s *Scheduler) fanOutNewBoefjes(ctx context.Context) error {
	plugins, err := s.deps.Catalogue.Plugins(ctx, s.org.ID)
	if err != nil {
		log.Printf("boefje[%s]: catalogue plugins lookup failed: %v", s.org.ID, err)
		return nil
	}

	var newlyEnabled []model.Plugin
	for _, p := range plugins {
		if p.Type != model.PluginBoefje {
			continue
		}
		if p.Enabled && !s.knownBoefjes[p.ID] {
			newlyEnabled = append(newlyEnabled, p)
		}
		if p.Enabled {
			s.knownBoefjes[p.ID] = true
		} else {
			delete(s.knownBoefjes, p.ID)
		}
	}

	if len(newlyEnabled) == 0 {
		return nil
	}

	oois, err := s.deps.Inventory.Objects(ctx, s.org.ID)
	if err != nil {
		log.Printf("boefje[%s]: inventory objects lookup failed: %v", s.org.ID, err)
		return nil
	}

	for _, bj := range newlyEnabled {
		for _, ooi := range oois {
			if !consumesType(bj, ooi.ObjectType) {
				continue
			}
			if s.Queue().Full() {
				s.waitForSpace(ctx)
			}
			s.tryPushCandidate(ctx, bj, ooi)
		}
	}
	return nil
}

// rescheduleStale is source (C): OOIs whose checked_at exceeds the grace
// period. Objects no longer present in the inventory are deleted locally
// (a no-op here since this repo holds no separate local OOI mirror — the
// inventory service is the single source of truth — so "delete locally"
// degenerates to "skip it"); the rest get candidate generation re-run.
func (s *Scheduler) rescheduleStale(ctx context.Context) error {
	oois, err := s.deps.Inventory.Objects(ctx, s.org.ID)
	if err != nil {
		log.Printf("boefje[%s]: inventory objects lookup failed: %v", s.org.ID, err)
		return nil
	}

	now := s.deps.Clock()
	boefjes, err := s.deps.Catalogue.Boefjes(ctx)
	if err != nil {
		log.Printf("boefje[%s]: catalogue lookup failed: %v", s.org.ID, err)
		return nil
	}

	for _, ooi := range oois {
		if ooi.CheckedAt.IsZero() || now.Sub(ooi.CheckedAt) < s.deps.GracePeriod {
			continue
		}
		if _, err := s.deps.Inventory.ByReference(ctx, s.org.ID, ooi.PrimaryKey); err != nil {
			continue // no longer present upstream; nothing local to clean up
		}
		for _, bj := range boefjes {
			if s.Queue().Full() {
				s.waitForSpace(ctx)
			}
			s.tryPushCandidate(ctx, bj, ooi)
		}
	}
	return nil
}

func consumesType(bj model.Plugin, objectType string) bool {
	for _, t := range bj.Consumes {
		if t == objectType {
			return true
		}
	}
	return false
}

func (s *Scheduler) waitForSpace(ctx context.Context) {
	deadline := s.deps.Clock().Add(s.deps.BackPressureWait)
	queue.WaitForSpace(s.Queue(), 1, s.deps.BackPressurePoll, deadline)
}

// tryPushCandidate runs the six-point admissibility chain and, if every
// check passes, persists the task and pushes the
// prioritised item. Any failed check drops the candidate silently (logged,
// not errored).
func (s *Scheduler) tryPushCandidate(ctx context.Context, bj model.Plugin, ooi model.OOI) {
	op := "boefje.tryPushCandidate"

	// 1. boefje.enabled
	if !bj.Enabled {
		log.Printf("%s: dropped, boefje %s disabled", op, bj.ID)
		observability.CandidatesDropped.WithLabelValues(s.Info().ID, "disabled").Inc()
		return
	}

	// 2. ooi.scan_profile exists, level > 0, and level >= boefje.scan_level
	if ooi.ScanProfile == nil || ooi.ScanProfile.Level == 0 || ooi.ScanProfile.Level < bj.ScanLevel {
		log.Printf("%s: dropped, scan level insufficient for %s/%s", op, bj.ID, ooi.PrimaryKey)
		observability.CandidatesDropped.WithLabelValues(s.Info().ID, "scan_level").Inc()
		return
	}

	task := model.BoefjeTask{Boefje: bj, InputOOI: ooi, Org: s.org.ID}
	hash := task.Hash()

	// 3. no live queue item shares this hash
	if s.liveItemWithHash(hash) {
		log.Printf("%s: dropped, already queued %s", op, hash)
		observability.CandidatesDropped.WithLabelValues(s.Info().ID, "duplicate").Inc()
		return
	}

	// 4. task-store lookup by hash: no prior task, or prior task terminal
	prior, err := s.deps.TaskStore.GetByHash(ctx, s.Info().ID, hash)
	if err != nil && !isNotFound(err) {
		log.Printf("%s: task-store lookup failed for %s: %v", op, hash, err)
		return
	}
	if err == nil && !prior.Status.Terminal() {
		log.Printf("%s: dropped, prior task %s not terminal", op, prior.ID)
		observability.CandidatesDropped.WithLabelValues(s.Info().ID, "not_terminal").Inc()
		return
	}

	// 5. blob-store last-run lookup
	meta, err := s.deps.BlobStore.LastRun(ctx, bj.ID, ooi.PrimaryKey, s.org.ID)
	hasRun := err == nil
	if err != nil && !isNotFound(err) {
		log.Printf("%s: blob-store lookup failed for %s/%s: %v", op, bj.ID, ooi.PrimaryKey, err)
		return
	}

	var lastRunEnd time.Time
	if hasRun {
		if meta.EndedAt == nil {
			hasRun = false // a run without an ended_at has no completion to grace-period against
		} else {
			lastRunEnd = *meta.EndedAt
		}
	}

	// 6. ranker score >= 0
	score := ranker.Boefje(s.deps.Clock(), lastRunEnd, hasRun, s.Queue().MaxSize(), s.deps.GracePeriod)
	if score < 0 {
		log.Printf("%s: dropped, within grace period for %s/%s", op, bj.ID, ooi.PrimaryKey)
		observability.CandidatesDropped.WithLabelValues(s.Info().ID, "within_grace_period").Inc()
		return
	}

	now := s.deps.Clock()
	item := &model.PrioritizedItem{
		SchedulerID: s.Info().ID,
		Priority:    score,
		Data:        model.TaskPayload{Kind: model.PayloadBoefje, Boefje: &task},
		Hash:        hash,
		CreatedAt:   now,
		ModifiedAt:  now,
	}

	persistedTask := &model.Task{
		Status:     model.StatusQueued,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if _, err := queue.PushTask(ctx, s.Queue(), s.deps.TaskStore, item, persistedTask); err != nil {
		log.Printf("%s: push rejected for %s: %v", op, hash, err)
		return
	}
	observability.TaskStatusTotal.WithLabelValues(s.Info().ID, string(model.StatusQueued)).Inc()
}

func (s *Scheduler) liveItemWithHash(hash string) bool {
	for i := 0; ; i++ {
		item, ok := s.Queue().Peek(i)
		if !ok {
			return false
		}
		if item.Hash == hash {
			return true
		}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
