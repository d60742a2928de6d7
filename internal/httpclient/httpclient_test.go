package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/scanhive/mula/internal/model"
)

func TestDoSucceedsOnFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New()
	c.backoff = 0
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestDoRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New()
	c.backoff = 0
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustsRetriesAndReturnsUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New()
	c.backoff = 0
	c.retries = 2
	_, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil)
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream_unavailable, got %v", err)
	}
}

func TestHostOfExtractsAuthority(t *testing.T) {
	cases := map[string]string{
		"http://catalogue.local:8080/organisations": "catalogue.local:8080",
		"https://blobstore/bytes/boefje_meta":        "blobstore",
	}
	for url, want := range cases {
		if got := hostOf(url); got != want {
			t.Fatalf("hostOf(%s) = %s, want %s", url, got, want)
		}
	}
}
