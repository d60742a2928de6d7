// Package catalogue is the client for the catalogue upstream service:
// organisations and plugin (boefje/normalizer) descriptors.
package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/scanhive/mula/internal/httpclient"
	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/observability"
)

// pluginCacheTTL bounds how long a plugin lookup is trusted. Once it has
// passed, the next Plugins call refetches inline; no refresh runs in the
// background.
const pluginCacheTTL = 30 * time.Second

// Client talks to the catalogue service over HTTP.
type Client struct {
	baseURL string
	http    *httpclient.Client
	clock   model.Clock

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	plugins   []model.Plugin
	expiresAt time.Time
}

// New builds a catalogue Client against baseURL (e.g. "http://catalogue:8080").
func New(baseURL string, hc *httpclient.Client, clock model.Clock) *Client {
	if clock == nil {
		clock = model.RealClock
	}
	return &Client{
		baseURL: baseURL,
		http:    hc,
		clock:   clock,
		cache:   make(map[string]cacheEntry),
	}
}

type organisationDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Organisations returns the full set of known tenants.
func (c *Client) Organisations(ctx context.Context) ([]model.Organisation, error) {
	var dtos []organisationDTO
	if err := c.get(ctx, c.baseURL+"/organisations", &dtos); err != nil {
		return nil, err
	}
	out := make([]model.Organisation, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, model.Organisation{ID: d.ID, Name: d.Name})
	}
	return out, nil
}

// Organisation fetches a single tenant by id.
func (c *Client) Organisation(ctx context.Context, id string) (model.Organisation, error) {
	var dto organisationDTO
	if err := c.get(ctx, c.baseURL+"/organisations/"+id, &dto); err != nil {
		return model.Organisation{}, err
	}
	return model.Organisation{ID: dto.ID, Name: dto.Name}, nil
}

type pluginDTO struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Enabled   bool     `json:"enabled"`
	ScanLevel int      `json:"scan_level"`
	Consumes  []string `json:"consumes"`
	Produces  []string `json:"produces"`
}

func (d pluginDTO) toModel() model.Plugin {
	return model.Plugin{
		ID:        d.ID,
		Type:      model.PluginType(d.Type),
		Enabled:   d.Enabled,
		ScanLevel: d.ScanLevel,
		Consumes:  d.Consumes,
		Produces:  d.Produces,
	}
}

// Boefjes returns every known boefje plugin, unfiltered.
func (c *Client) Boefjes(ctx context.Context) ([]model.Plugin, error) {
	var dtos []pluginDTO
	if err := c.get(ctx, c.baseURL+"/boefjes", &dtos); err != nil {
		return nil, err
	}
	out := make([]model.Plugin, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toModel())
	}
	return out, nil
}

// Plugins returns the plugins enabled for org, using a per-org TTL cache.
// A cache miss or expired entry triggers a synchronous fetch inline on
// the call that discovers the staleness, rather than a background
// refresh goroutine.
func (c *Client) Plugins(ctx context.Context, org string) ([]model.Plugin, error) {
	c.mu.Lock()
	entry, ok := c.cache[org]
	fresh := ok && c.clock().Before(entry.expiresAt)
	c.mu.Unlock()

	if fresh {
		observability.CataloguePluginCacheTotal.WithLabelValues(org, "hit").Inc()
		return entry.plugins, nil
	}
	observability.CataloguePluginCacheTotal.WithLabelValues(org, "miss").Inc()

	var dtos []pluginDTO
	if err := c.get(ctx, c.baseURL+"/organisations/"+org+"/plugins", &dtos); err != nil {
		return nil, err
	}
	out := make([]model.Plugin, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toModel())
	}

	c.mu.Lock()
	c.cache[org] = cacheEntry{plugins: out, expiresAt: c.clock().Add(pluginCacheTTL)}
	c.mu.Unlock()

	return out, nil
}

func (c *Client) get(ctx context.Context, url string, out interface{}) error {
	resp, err := c.http.Do(ctx, "GET", url, nil)
	if err != nil {
		return model.NewError("catalogue.get", model.KindUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewError("catalogue.get", model.KindUpstreamBadResponse, err)
	}
	if resp.StatusCode >= 400 {
		return model.NewError("catalogue.get", model.KindUpstreamBadResponse, fmt.Errorf("status %d", resp.StatusCode))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return model.NewError("catalogue.get", model.KindUpstreamBadResponse, err)
	}
	return nil
}
