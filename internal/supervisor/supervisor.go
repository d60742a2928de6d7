// Package supervisor is the App/Supervisor: reads config, connects to
// external collaborators, discovers organisations, and owns
// one boefje+normalizer scheduler pair per organisation for the lifetime
// of the process. It implements internal/api.Registry so the Control API
// can read/mutate that state without depending on this package.
package supervisor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/scanhive/mula/internal/blobstore"
	"github.com/scanhive/mula/internal/boefje"
	"github.com/scanhive/mula/internal/broker"
	"github.com/scanhive/mula/internal/catalogue"
	"github.com/scanhive/mula/internal/config"
	"github.com/scanhive/mula/internal/httpclient"
	"github.com/scanhive/mula/internal/inventory"
	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/normalizer"
	"github.com/scanhive/mula/internal/observability"
	"github.com/scanhive/mula/internal/pgstore"
	"github.com/scanhive/mula/internal/queue"
	"github.com/scanhive/mula/internal/taskstore"
)

// stopJoinTimeout bounds how long a scheduler's populate loop gets to exit
// once asked to stop.
const stopJoinTimeout = 5 * time.Second

// productionPushPolicy allows an already-queued candidate to be re-ranked
// by a later populate tick but never silently replaced or mutated.
var productionPushPolicy = queue.PushPolicy{AllowPriorityUpdates: true}

// pair bundles one organisation's two schedulers.
type pair struct {
	boefje     *boefje.Scheduler
	normalizer *normalizer.Scheduler
}

// QueueFactory builds a Queue for a scheduler id/variant, backed by either
// the in-memory implementation or internal/pgstore depending on how the
// Supervisor was constructed.
type QueueFactory func(schedulerID string, variant model.PayloadKind, maxSize int, policy queue.PushPolicy) queue.Queue

// Supervisor owns every per-organisation scheduler pair and the
// reconciliation loop that keeps that set in sync with the catalogue.
type Supervisor struct {
	cfg       config.Config
	catalogue *catalogue.Client
	inventory *inventory.Client
	blobStore *blobstore.Client
	broker    broker.Consumer
	taskStore taskstore.Store
	newQueue  QueueFactory
	clock     model.Clock

	mu    sync.RWMutex
	pairs map[string]pair // keyed by organisation id
}

// Deps are the external collaborators shared by every scheduler pair the
// Supervisor creates.
type Deps struct {
	Catalogue *catalogue.Client
	Inventory *inventory.Client
	BlobStore *blobstore.Client
	Broker    broker.Consumer
	TaskStore taskstore.Store
	NewQueue  QueueFactory
	Clock     model.Clock
}

// New builds a Supervisor with no schedulers yet; call Reconcile (or
// Run) to populate it from the catalogue's organisation set.
func New(cfg config.Config, deps Deps) *Supervisor {
	if deps.Clock == nil {
		deps.Clock = model.RealClock
	}
	return &Supervisor{
		cfg:       cfg,
		catalogue: deps.Catalogue,
		inventory: deps.Inventory,
		blobStore: deps.BlobStore,
		broker:    deps.Broker,
		taskStore: deps.TaskStore,
		newQueue:  deps.NewQueue,
		clock:     deps.Clock,
		pairs:     make(map[string]pair),
	}
}

// NewFromConfig wires every external collaborator from cfg: connect to
// the broker, build the task store, then construct the scheduler. The
// in-memory task store is used unless cfg.TaskStoreDSN is set, in which
// case pgstore backs both the task store and every scheduler's queue.
func NewFromConfig(ctx context.Context, cfg config.Config) (*Supervisor, error) {
	hc := httpclient.New()
	cat := catalogue.New(cfg.CatalogueURL, hc, model.RealClock)
	inv := inventory.New(cfg.InventoryURL, hc)
	blob := blobstore.New(cfg.BlobStoreURL, cfg.BlobStoreUsername, cfg.BlobStorePassword, hc)

	brk, err := broker.NewRedisConsumer(cfg.BrokerAddr, cfg.BrokerPassword, cfg.BrokerDB)
	if err != nil {
		return nil, err
	}

	var ts taskstore.Store
	var newQueue QueueFactory
	if cfg.TaskStoreDSN != "" {
		store, err := pgstore.New(ctx, cfg.TaskStoreDSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		ts = store.TaskStore()
		newQueue = func(id string, variant model.PayloadKind, maxSize int, policy queue.PushPolicy) queue.Queue {
			return store.Queue(id, variant, maxSize, policy, model.RealClock)
		}
	} else {
		ts = taskstore.NewMemoryStore()
		newQueue = func(id string, variant model.PayloadKind, maxSize int, policy queue.PushPolicy) queue.Queue {
			return queue.NewMemoryQueue(id, variant, maxSize, policy, model.RealClock)
		}
	}

	return New(cfg, Deps{
		Catalogue: cat,
		Inventory: inv,
		BlobStore: blob,
		Broker:    brk,
		TaskStore: ts,
		NewQueue:  newQueue,
		Clock:     model.RealClock,
	}), nil
}

// Run discovers organisations, builds their scheduler pairs, starts every
// populate loop, and then reconciles on cfg.ReconcileInterval
// until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		log.Printf("supervisor: initial reconcile failed: %v", err)
	}

	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.StopAll()
			return nil
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil {
				log.Printf("supervisor: reconcile failed: %v", err)
			}
		}
	}
}

// Reconcile diffs the catalogue's organisation set against the in-memory
// scheduler pairs: create pairs for new organisations, stop and discard
// pairs for organisations that disappeared.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	orgs, err := s.catalogue.Organisations(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(orgs))
	for _, org := range orgs {
		seen[org.ID] = true
		if s.has(org.ID) {
			continue
		}
		s.create(ctx, org)
		observability.ReconcileTotal.WithLabelValues("create").Inc()
	}

	for _, id := range s.orgIDs() {
		if seen[id] {
			continue
		}
		s.remove(id)
		observability.ReconcileTotal.WithLabelValues("remove").Inc()
	}

	observability.OrganisationsActive.Set(float64(len(seen)))
	return nil
}

func (s *Supervisor) has(orgID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pairs[orgID]
	return ok
}

func (s *Supervisor) orgIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.pairs))
	for id := range s.pairs {
		ids = append(ids, id)
	}
	return ids
}

// create builds and starts a boefje+normalizer scheduler pair for org.
func (s *Supervisor) create(ctx context.Context, org model.Organisation) {
	boefjeQueue := s.newQueue("boefje-"+org.ID, model.PayloadBoefje, s.cfg.PQMaxSize, productionPushPolicy)
	normalizerQueue := s.newQueue("normalizer-"+org.ID, model.PayloadNormalizer, s.cfg.PQMaxSize, productionPushPolicy)

	bj := boefje.New(org, boefjeQueue, true, boefje.Deps{
		Catalogue:   s.catalogue,
		Inventory:   s.inventory,
		BlobStore:   s.blobStore,
		Broker:      s.broker,
		TaskStore:   s.taskStore,
		Clock:       s.clock,
		GracePeriod: s.cfg.GracePeriod,
	})
	nm := normalizer.New(org, normalizerQueue, true, normalizer.Deps{
		Catalogue: s.catalogue,
		Broker:    s.broker,
		TaskStore: s.taskStore,
		Clock:     s.clock,
	})

	bj.Start(ctx, s.cfg.PopulateInterval, bj.Populate)
	nm.Start(ctx, s.cfg.PopulateInterval, nm.Populate)

	s.mu.Lock()
	s.pairs[org.ID] = pair{boefje: bj, normalizer: nm}
	s.mu.Unlock()

	log.Printf("supervisor: started scheduler pair for organisation %s", org.ID)
}

// remove stops and joins org's scheduler pair — stop-and-join before
// unregistering, never the reverse, so the API never reports an
// organisation as gone while its populate loop is still running — then
// discards it.
func (s *Supervisor) remove(orgID string) {
	s.mu.RLock()
	p, ok := s.pairs[orgID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	if !p.boefje.Stop(stopJoinTimeout) {
		log.Printf("supervisor: boefje scheduler for %s did not stop within %s", orgID, stopJoinTimeout)
	}
	if !p.normalizer.Stop(stopJoinTimeout) {
		log.Printf("supervisor: normalizer scheduler for %s did not stop within %s", orgID, stopJoinTimeout)
	}

	s.mu.Lock()
	delete(s.pairs, orgID)
	s.mu.Unlock()
	log.Printf("supervisor: stopped scheduler pair for organisation %s", orgID)
}

// StopAll stops and joins every scheduler pair, for graceful shutdown.
func (s *Supervisor) StopAll() {
	for _, id := range s.orgIDs() {
		s.remove(id)
	}
}
