package boefje

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scanhive/mula/internal/blobstore"
	"github.com/scanhive/mula/internal/broker"
	"github.com/scanhive/mula/internal/catalogue"
	"github.com/scanhive/mula/internal/httpclient"
	"github.com/scanhive/mula/internal/inventory"
	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/queue"
	"github.com/scanhive/mula/internal/taskstore"
)

// testHarness wires real catalogue/inventory/blobstore clients against
// httptest servers, so the admissibility chain runs against the same code
// path production uses.
type testHarness struct {
	catalogueSrv *httptest.Server
	inventorySrv *httptest.Server
	blobSrv      *httptest.Server

	catalogueHandler func(w http.ResponseWriter, r *http.Request)
	inventoryHandler func(w http.ResponseWriter, r *http.Request)
	blobHandler      func(w http.ResponseWriter, r *http.Request)
}

func newHarness(t *testing.T) *testHarness {
	h := &testHarness{}
	h.catalogueSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.catalogueHandler(w, r)
	}))
	h.inventorySrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.inventoryHandler(w, r)
	}))
	h.blobSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.blobHandler(w, r)
	}))
	t.Cleanup(func() {
		h.catalogueSrv.Close()
		h.inventorySrv.Close()
		h.blobSrv.Close()
	})
	return h
}

func jsonHandler(t *testing.T, body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}

func TestScanLevelGating(t *testing.T) {
	h := newHarness(t)
	h.catalogueHandler = jsonHandler(t, `[
		{"id":"b-heavy","type":"boefje","enabled":true,"scan_level":3,"consumes":["Hostname"]},
		{"id":"b-light","type":"boefje","enabled":true,"scan_level":1,"consumes":["Hostname"]}
	]`)
	h.inventoryHandler = jsonHandler(t, `[]`)
	h.blobHandler = notFoundHandler

	hc := httpclient.New()
	org := model.Organisation{ID: "O1"}
	q := queue.NewMemoryQueue("boefje-O1", model.PayloadBoefje, 0, queue.PushPolicy{}, nil)

	deps := Deps{
		Catalogue: catalogue.New(h.catalogueSrv.URL, hc, nil),
		Inventory: inventory.New(h.inventorySrv.URL, hc),
		BlobStore: blobstore.New(h.blobSrv.URL, "u", "p", hc),
		Broker:    broker.NewMemoryConsumer(),
		TaskStore: taskstore.NewMemoryStore(),
		GracePeriod: time.Minute,
	}
	s := New(org, q, true, deps)

	ooi := model.OOI{PrimaryKey: "ooi-A", ObjectType: "Hostname", ScanProfile: &model.ScanProfile{Level: 1}}
	for _, bj := range []model.Plugin{
		{ID: "b-heavy", Type: model.PluginBoefje, Enabled: true, ScanLevel: 3, Consumes: []string{"Hostname"}},
		{ID: "b-light", Type: model.PluginBoefje, Enabled: true, ScanLevel: 1, Consumes: []string{"Hostname"}},
	} {
		s.tryPushCandidate(context.Background(), bj, ooi)
	}

	if q.QSize() != 1 {
		t.Fatalf("expected exactly 1 queued task, got %d", q.QSize())
	}
	item, _ := q.Peek(0)
	if item.Data.Boefje.Boefje.ID != "b-light" {
		t.Fatalf("expected b-light queued, got %s", item.Data.Boefje.Boefje.ID)
	}
}

func TestGracePeriodBlocksThenAllows(t *testing.T) {
	h := newHarness(t)
	h.catalogueHandler = jsonHandler(t, `[]`)
	h.inventoryHandler = jsonHandler(t, `[]`)

	hc := httpclient.New()
	org := model.Organisation{ID: "O1"}
	bj := model.Plugin{ID: "b-light", Type: model.PluginBoefje, Enabled: true, ScanLevel: 1}
	ooi := model.OOI{PrimaryKey: "ooi-A", ObjectType: "Hostname", ScanProfile: &model.ScanProfile{Level: 1}}

	now := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	// Case 1: last_run.ended_at = now - 30s, grace_period = 60s -> blocked.
	endedAt := now.Add(-30 * time.Second)
	h.blobHandler = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := `[{"id":"meta-1","boefje_id":"b-light","input_ooi":"ooi-A","organization":"O1","ended_at":"` + endedAt.Format(time.RFC3339) + `"}]`
		w.Write([]byte(body))
	}

	q := queue.NewMemoryQueue("boefje-O1", model.PayloadBoefje, 0, queue.PushPolicy{}, clock)
	deps := Deps{
		Catalogue:   catalogue.New(h.catalogueSrv.URL, hc, clock),
		Inventory:   inventory.New(h.inventorySrv.URL, hc),
		BlobStore:   blobstore.New(h.blobSrv.URL, "u", "p", hc),
		Broker:      broker.NewMemoryConsumer(),
		TaskStore:   taskstore.NewMemoryStore(),
		Clock:       clock,
		GracePeriod: 60 * time.Second,
	}
	s := New(org, q, true, deps)
	s.tryPushCandidate(context.Background(), bj, ooi)

	if q.QSize() != 0 {
		t.Fatalf("expected no task queued within grace period, got qsize %d", q.QSize())
	}

	// Case 2: now - 120s with same inputs -> produced, priority >= 3.
	now = now.Add(90 * time.Second) // now - endedAt = 120s
	s.tryPushCandidate(context.Background(), bj, ooi)

	if q.QSize() != 1 {
		t.Fatalf("expected task queued after grace period elapses, got qsize %d", q.QSize())
	}
	item, _ := q.Peek(0)
	if item.Priority < 3 {
		t.Fatalf("expected priority >= 3, got %d", item.Priority)
	}
}

func TestQueueFullRejectsSecondCandidate(t *testing.T) {
	h := newHarness(t)
	h.catalogueHandler = jsonHandler(t, `[]`)
	h.inventoryHandler = jsonHandler(t, `[]`)
	h.blobHandler = notFoundHandler

	hc := httpclient.New()
	org := model.Organisation{ID: "O1"}
	q := queue.NewMemoryQueue("boefje-O1", model.PayloadBoefje, 1, queue.PushPolicy{}, nil)
	deps := Deps{
		Catalogue:   catalogue.New(h.catalogueSrv.URL, hc, nil),
		Inventory:   inventory.New(h.inventorySrv.URL, hc),
		BlobStore:   blobstore.New(h.blobSrv.URL, "u", "p", hc),
		Broker:      broker.NewMemoryConsumer(),
		TaskStore:   taskstore.NewMemoryStore(),
		GracePeriod: time.Minute,
	}
	s := New(org, q, true, deps)

	bjA := model.Plugin{ID: "b-A", Type: model.PluginBoefje, Enabled: true, ScanLevel: 1}
	bjB := model.Plugin{ID: "b-B", Type: model.PluginBoefje, Enabled: true, ScanLevel: 1}
	ooi := model.OOI{PrimaryKey: "ooi-A", ObjectType: "Hostname", ScanProfile: &model.ScanProfile{Level: 1}}

	s.tryPushCandidate(context.Background(), bjA, ooi)
	s.tryPushCandidate(context.Background(), bjB, ooi)

	if q.QSize() != 1 {
		t.Fatalf("expected qsize 1 after full queue rejects second push, got %d", q.QSize())
	}
	item, _ := q.Peek(0)
	if item.Data.Boefje.Boefje.ID != "b-A" {
		t.Fatalf("expected head to remain b-A, got %s", item.Data.Boefje.Boefje.ID)
	}
}

func TestDisabledBoefjeDropped(t *testing.T) {
	h := newHarness(t)
	hc := httpclient.New()
	org := model.Organisation{ID: "O1"}
	q := queue.NewMemoryQueue("boefje-O1", model.PayloadBoefje, 0, queue.PushPolicy{}, nil)
	deps := Deps{
		Catalogue:   catalogue.New(h.catalogueSrv.URL, hc, nil),
		Inventory:   inventory.New(h.inventorySrv.URL, hc),
		BlobStore:   blobstore.New(h.blobSrv.URL, "u", "p", hc),
		Broker:      broker.NewMemoryConsumer(),
		TaskStore:   taskstore.NewMemoryStore(),
		GracePeriod: time.Minute,
	}
	s := New(org, q, true, deps)

	bj := model.Plugin{ID: "b-off", Type: model.PluginBoefje, Enabled: false, ScanLevel: 1}
	ooi := model.OOI{PrimaryKey: "ooi-A", ScanProfile: &model.ScanProfile{Level: 2}}
	s.tryPushCandidate(context.Background(), bj, ooi)

	if q.QSize() != 0 {
		t.Fatalf("expected disabled boefje to produce no task, got qsize %d", q.QSize())
	}
}

func TestNoScanProfileDropped(t *testing.T) {
	h := newHarness(t)
	hc := httpclient.New()
	org := model.Organisation{ID: "O1"}
	q := queue.NewMemoryQueue("boefje-O1", model.PayloadBoefje, 0, queue.PushPolicy{}, nil)
	deps := Deps{
		Catalogue:   catalogue.New(h.catalogueSrv.URL, hc, nil),
		Inventory:   inventory.New(h.inventorySrv.URL, hc),
		BlobStore:   blobstore.New(h.blobSrv.URL, "u", "p", hc),
		Broker:      broker.NewMemoryConsumer(),
		TaskStore:   taskstore.NewMemoryStore(),
		GracePeriod: time.Minute,
	}
	s := New(org, q, true, deps)

	bj := model.Plugin{ID: "b-on", Type: model.PluginBoefje, Enabled: true, ScanLevel: 1}
	ooi := model.OOI{PrimaryKey: "ooi-A"} // no ScanProfile
	s.tryPushCandidate(context.Background(), bj, ooi)

	if q.QSize() != 0 {
		t.Fatalf("expected OOI with no scan profile to produce no task, got qsize %d", q.QSize())
	}
}
