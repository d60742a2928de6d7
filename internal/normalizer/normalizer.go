// Package normalizer is the Normalizer Scheduler: routines R1 (raw-data
// ingest) and R2 (normalizer-completion ingest), each handling one broker
// message per call. Populate runs R1 and then R2 on every populate tick;
// the two routines do not run concurrently.
package normalizer

import (
	"context"
	"log"

	"github.com/scanhive/mula/internal/broker"
	"github.com/scanhive/mula/internal/catalogue"
	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/observability"
	"github.com/scanhive/mula/internal/queue"
	"github.com/scanhive/mula/internal/ranker"
	"github.com/scanhive/mula/internal/scheduler"
	"github.com/scanhive/mula/internal/taskstore"
)

// Deps are the external collaborators Scheduler needs.
type Deps struct {
	Catalogue *catalogue.Client
	Broker    broker.Consumer
	TaskStore taskstore.Store
	Clock     model.Clock
}

// Scheduler is the Normalizer Scheduler for one organisation.
type Scheduler struct {
	*scheduler.Base
	org  model.Organisation
	deps Deps
}

// New constructs a normalizer Scheduler for org, wired to q and deps. Its
// populate loop runs R1 and R2 in sequence each tick: each is independent
// and neither blocks the other's invariants, and sequencing them inside
// one IntervalWorker iteration avoids two separate loops racing on the
// same queue/task-store handles for no behavioural gain.
func New(org model.Organisation, q queue.Queue, populateEnabled bool, deps Deps) *Scheduler {
	if deps.Clock == nil {
		deps.Clock = model.RealClock
	}
	info := model.SchedulerInfo{
		ID:              "normalizer-" + org.ID,
		Kind:            model.SchedulerNormalizer,
		Organisation:    org.ID,
		PopulateEnabled: populateEnabled,
	}
	return &Scheduler{
		Base: scheduler.NewBase(info, q, populateEnabled),
		org:  org,
		deps: deps,
	}
}

// Populate runs one tick of R1 followed by R2.
func (s *Scheduler) Populate(ctx context.Context) error {
	if err := s.RoutineR1(ctx); err != nil {
		return err
	}
	return s.RoutineR2(ctx)
}

type rawDataMessage struct {
	RawDataID string           `json:"raw_data_id"`
	BoefjeID  string           `json:"boefje_meta_id"`
	MimeTypes []model.MimeType `json:"mime_types"`
}

// RoutineR1 pulls one raw_file_received message and:
//  1. looks up the producing boefje task by id, marks it completed or
//     failed (if any mime type has an "error/" prefix);
//  2. on completed, fans out a NormalizerTask per enabled normalizer that
//     consumes one of the attached MIME types, deduped by hash.
func (s *Scheduler) RoutineR1(ctx context.Context) error {
	msg, err := s.deps.Broker.Pull(ctx, s.org.ID, broker.SubjectRawFileReceived)
	if err != nil {
		log.Printf("normalizer[%s]: R1 broker pull failed: %v", s.org.ID, err)
		if ctx.Err() != nil {
			return model.ErrShutdown
		}
		return nil
	}
	if msg == nil {
		return nil
	}

	var raw rawDataMessage
	if err := msg.Decode(&raw); err != nil {
		log.Printf("normalizer[%s]: R1 malformed message, skipping: %v", s.org.ID, err)
		s.deps.Broker.Ack(ctx, s.org.ID, broker.SubjectRawFileReceived, msg)
		return nil
	}

	producingTask, err := s.deps.TaskStore.Get(ctx, raw.BoefjeID)
	if err != nil {
		log.Printf("normalizer[%s]: R1 producing task %s not found, skipping: %v", s.org.ID, raw.BoefjeID, err)
		s.deps.Broker.Ack(ctx, s.org.ID, broker.SubjectRawFileReceived, msg)
		return nil
	}

	failed := false
	for _, mt := range raw.MimeTypes {
		if mt.HasErrorPrefix() {
			failed = true
			break
		}
	}

	status := model.StatusCompleted
	if failed {
		status = model.StatusFailed
		observability.CandidatesDropped.WithLabelValues(s.Info().ID, "error_mime").Inc()
	}
	if err := s.deps.TaskStore.UpdateStatus(ctx, producingTask.ID, status); err != nil {
		log.Printf("normalizer[%s]: R1 failed to update task %s status: %v", s.org.ID, producingTask.ID, err)
	} else {
		observability.TaskStatusTotal.WithLabelValues(producingTask.SchedulerID, string(status)).Inc()
	}

	if !failed {
		rawData := model.RawData{
			ID: raw.RawDataID,
			BoefjeMeta: model.BoefjeMeta{
				ID:       producingTask.ID,
				BoefjeID: producingTask.PItem.Data.Boefje.Boefje.ID,
				InputOOI: producingTask.PItem.Data.Boefje.InputOOI.PrimaryKey,
				Org:      s.org.ID,
			},
			MimeTypes: raw.MimeTypes,
		}
		s.fanOutNormalizers(ctx, rawData)
	}

	s.deps.Broker.Ack(ctx, s.org.ID, broker.SubjectRawFileReceived, msg)
	return nil
}

func (s *Scheduler) fanOutNormalizers(ctx context.Context, rawData model.RawData) {
	plugins, err := s.deps.Catalogue.Plugins(ctx, s.org.ID)
	if err != nil {
		log.Printf("normalizer[%s]: catalogue plugins lookup failed: %v", s.org.ID, err)
		return
	}

	for _, mt := range rawData.MimeTypes {
		for _, p := range plugins {
			if p.Type != model.PluginNormalizer || !p.Enabled {
				continue
			}
			if !consumesMime(p, mt.Value) {
				continue
			}
			s.tryPushNormalizerTask(ctx, p, rawData)
		}
	}
}

func consumesMime(p model.Plugin, mime string) bool {
	for _, c := range p.Consumes {
		if c == mime {
			return true
		}
	}
	return false
}

func (s *Scheduler) tryPushNormalizerTask(ctx context.Context, p model.Plugin, rawData model.RawData) {
	task := model.NormalizerTask{Normalizer: p, RawData: rawData, Org: s.org.ID}
	hash := task.Hash()

	for i := 0; ; i++ {
		item, ok := s.Queue().Peek(i)
		if !ok {
			break
		}
		if item.Hash == hash {
			return // already queued
		}
	}

	now := s.deps.Clock()
	priority := ranker.Normalizer(now)

	item := &model.PrioritizedItem{
		SchedulerID: s.Info().ID,
		Priority:    priority,
		Data:        model.TaskPayload{Kind: model.PayloadNormalizer, Normalizer: &task},
		Hash:        hash,
		CreatedAt:   now,
		ModifiedAt:  now,
	}
	persisted := &model.Task{
		Status:     model.StatusQueued,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if _, err := queue.PushTask(ctx, s.Queue(), s.deps.TaskStore, item, persisted); err != nil {
		log.Printf("normalizer.tryPushNormalizerTask: push rejected for %s: %v", hash, err)
		return
	}
	observability.TaskStatusTotal.WithLabelValues(s.Info().ID, string(model.StatusQueued)).Inc()
}

type normalizerMetaMessage struct {
	TaskID string `json:"task_id"`
}

// RoutineR2 pulls one normalizer_meta_received message and marks the
// corresponding normalizer task completed. A missing task is logged and
// ignored.
func (s *Scheduler) RoutineR2(ctx context.Context) error {
	msg, err := s.deps.Broker.Pull(ctx, s.org.ID, broker.SubjectNormalizerMeta)
	if err != nil {
		log.Printf("normalizer[%s]: R2 broker pull failed: %v", s.org.ID, err)
		if ctx.Err() != nil {
			return model.ErrShutdown
		}
		return nil
	}
	if msg == nil {
		return nil
	}

	var meta normalizerMetaMessage
	if err := msg.Decode(&meta); err != nil {
		log.Printf("normalizer[%s]: R2 malformed message, skipping: %v", s.org.ID, err)
		s.deps.Broker.Ack(ctx, s.org.ID, broker.SubjectNormalizerMeta, msg)
		return nil
	}

	if err := s.deps.TaskStore.UpdateStatus(ctx, meta.TaskID, model.StatusCompleted); err != nil {
		log.Printf("normalizer[%s]: R2 task %s not found, ignoring: %v", s.org.ID, meta.TaskID, err)
	} else {
		observability.TaskStatusTotal.WithLabelValues(s.Info().ID, string(model.StatusCompleted)).Inc()
	}

	s.deps.Broker.Ack(ctx, s.org.ID, broker.SubjectNormalizerMeta, msg)
	return nil
}
