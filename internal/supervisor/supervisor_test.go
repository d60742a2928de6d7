package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/scanhive/mula/internal/blobstore"
	"github.com/scanhive/mula/internal/broker"
	"github.com/scanhive/mula/internal/catalogue"
	"github.com/scanhive/mula/internal/config"
	"github.com/scanhive/mula/internal/httpclient"
	"github.com/scanhive/mula/internal/inventory"
	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/queue"
	"github.com/scanhive/mula/internal/taskstore"
)

// orgLister serves a mutable organisation list for the catalogue client,
// so tests can grow/shrink the set between Reconcile calls.
type orgLister struct {
	mu   sync.Mutex
	orgs []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
}

func (o *orgLister) set(ids ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orgs = o.orgs[:0]
	for _, id := range ids {
		o.orgs = append(o.orgs, struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}{ID: id, Name: id})
	}
}

func (o *orgLister) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		defer o.mu.Unlock()
		switch r.URL.Path {
		case "/organisations":
			json.NewEncoder(w).Encode(o.orgs)
		default:
			json.NewEncoder(w).Encode([]struct{}{})
		}
	}
}

func newTestSupervisor(t *testing.T, lister *orgLister) *Supervisor {
	t.Helper()
	srv := httptest.NewServer(lister.handler())
	t.Cleanup(srv.Close)

	hc := httpclient.New()
	cat := catalogue.New(srv.URL, hc, nil)
	inv := inventory.New(srv.URL, hc)
	blob := blobstore.New(srv.URL, "", "", hc)

	newQueue := func(id string, variant model.PayloadKind, maxSize int, policy queue.PushPolicy) queue.Queue {
		return queue.NewMemoryQueue(id, variant, maxSize, policy, nil)
	}

	return New(config.Config{PopulateInterval: time.Hour, ReconcileInterval: time.Hour}, Deps{
		Catalogue: cat,
		Inventory: inv,
		BlobStore: blob,
		Broker:    broker.NewMemoryConsumer(),
		TaskStore: taskstore.NewMemoryStore(),
		NewQueue:  newQueue,
	})
}

func TestReconcileCreatesSchedulerPairForNewOrg(t *testing.T) {
	lister := &orgLister{}
	lister.set("org1")
	s := newTestSupervisor(t, lister)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	defer s.StopAll()

	infos := s.Schedulers()
	if len(infos) != 2 {
		t.Fatalf("Schedulers() = %d entries, want 2 (boefje+normalizer)", len(infos))
	}

	if _, ok := s.Scheduler("boefje-org1"); !ok {
		t.Fatal("boefje-org1 scheduler not found")
	}
	if _, ok := s.Scheduler("normalizer-org1"); !ok {
		t.Fatal("normalizer-org1 scheduler not found")
	}
	if _, ok := s.Queue("boefje-org1"); !ok {
		t.Fatal("boefje-org1 queue not found")
	}
}

func TestReconcileRemovesSchedulerPairForGoneOrg(t *testing.T) {
	lister := &orgLister{}
	lister.set("org1")
	s := newTestSupervisor(t, lister)
	ctx := context.Background()

	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, ok := s.Scheduler("boefje-org1"); !ok {
		t.Fatal("expected boefje-org1 to exist after first reconcile")
	}

	lister.set()
	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, ok := s.Scheduler("boefje-org1"); ok {
		t.Fatal("expected boefje-org1 to be removed after org disappeared")
	}
	if len(s.Schedulers()) != 0 {
		t.Fatalf("Schedulers() = %d entries, want 0", len(s.Schedulers()))
	}
}

func TestSetPopulateEnabledTogglesScheduler(t *testing.T) {
	lister := &orgLister{}
	lister.set("org1")
	s := newTestSupervisor(t, lister)
	ctx := context.Background()
	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	defer s.StopAll()

	info, err := s.SetPopulateEnabled("boefje-org1", false)
	if err != nil {
		t.Fatalf("SetPopulateEnabled: %v", err)
	}
	if info.PopulateEnabled {
		t.Fatal("expected PopulateEnabled=false")
	}

	info, _ = s.Scheduler("boefje-org1")
	if info.PopulateEnabled {
		t.Fatal("SetPopulateEnabled did not persist")
	}
}

func TestSetPopulateEnabledUnknownIDReturnsNotFound(t *testing.T) {
	lister := &orgLister{}
	s := newTestSupervisor(t, lister)
	_, err := s.SetPopulateEnabled("missing", true)
	if err == nil {
		t.Fatal("expected error for unknown scheduler id")
	}
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}
