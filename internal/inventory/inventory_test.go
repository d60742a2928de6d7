package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scanhive/mula/internal/httpclient"
	"github.com/scanhive/mula/internal/model"
)

func TestObjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]ooiDTO{
			{PrimaryKey: "ooi-1", ObjectType: "Hostname", ScanProfile: &scanProfileDTO{Level: 2}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, httpclient.New())
	oois, err := c.Objects(context.Background(), "org1")
	if err != nil {
		t.Fatalf("objects: %v", err)
	}
	if len(oois) != 1 || oois[0].ScanProfile.Level != 2 {
		t.Fatalf("unexpected oois: %+v", oois)
	}
}

func TestByReferenceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, httpclient.New())
	_, err := c.ByReference(context.Background(), "org1", "ooi-1")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
