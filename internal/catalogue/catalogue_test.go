package catalogue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scanhive/mula/internal/httpclient"
)

func TestOrganisations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]organisationDTO{{ID: "org1", Name: "Org One"}})
	}))
	defer srv.Close()

	c := New(srv.URL, httpclient.New(), nil)
	orgs, err := c.Organisations(context.Background())
	if err != nil {
		t.Fatalf("organisations: %v", err)
	}
	if len(orgs) != 1 || orgs[0].ID != "org1" {
		t.Fatalf("unexpected orgs: %+v", orgs)
	}
}

func TestPluginsCachesWithinTTL(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode([]pluginDTO{{ID: "b1", Type: "boefje", Enabled: true}})
	}))
	defer srv.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	c := New(srv.URL, httpclient.New(), clock)
	if _, err := c.Plugins(context.Background(), "org1"); err != nil {
		t.Fatalf("plugins: %v", err)
	}
	if _, err := c.Plugins(context.Background(), "org1"); err != nil {
		t.Fatalf("plugins (cached): %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 upstream call due to caching, got %d", calls)
	}

	now = now.Add(pluginCacheTTL + time.Second)
	if _, err := c.Plugins(context.Background(), "org1"); err != nil {
		t.Fatalf("plugins (expired): %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected refresh after TTL expiry, got %d calls", calls)
	}
}
