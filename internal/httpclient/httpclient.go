// Package httpclient is the single place outbound HTTP calls to upstream
// services go through: a default 5s timeout, 5 retries with a 0.1s
// backoff on 5xx responses. Catalogue, Inventory, and Blob-store clients
// all share one Client.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/observability"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultRetries    = 5
	defaultBackoff    = 100 * time.Millisecond
	defaultRatePerSec = 20.0
	defaultBurst      = 20
)

// Client wraps http.Client with per-host rate limiting via a token
// bucket and a fixed retry/backoff policy on 5xx responses.
type Client struct {
	http     *http.Client
	retries  int
	backoff  time.Duration
	limiters *hostLimiters
}

// New builds a Client with the spec's default timeout/retry policy.
func New() *Client {
	return &Client{
		http:    &http.Client{Timeout: defaultTimeout},
		retries: defaultRetries,
		backoff: defaultBackoff,
		limiters: &hostLimiters{
			byHost: make(map[string]*rate.Limiter),
			r:      rate.Limit(defaultRatePerSec),
			b:      defaultBurst,
		},
	}
}

// hostLimiters hands out one token-bucket limiter per upstream host,
// mirroring TokenBucketLimiter.Allow's "map keyed by key, created lazily".
type hostLimiters struct {
	mu     sync.Mutex
	byHost map[string]*rate.Limiter
	r      rate.Limit
	b      int
}

func (h *hostLimiters) wait(ctx context.Context, host string) error {
	h.mu.Lock()
	l, ok := h.byHost[host]
	if !ok {
		l = rate.NewLimiter(h.r, h.b)
		h.byHost[host] = l
	}
	h.mu.Unlock()
	return l.Wait(ctx)
}

// BasicAuth carries credentials for Do's optional auth parameter.
type BasicAuth struct {
	Username string
	Password string
}

// Do issues method/url with body (may be nil), retrying on 5xx responses or
// transport errors up to the configured retry count with a fixed backoff
// between attempts. The caller's ctx governs the overall deadline; each
// attempt additionally respects the per-host rate limiter. auth, if
// non-nil, is applied as HTTP basic auth on every attempt (used by the
// blob-store client, the only upstream that requires credentials).
func (c *Client) Do(ctx context.Context, method, url string, body []byte, auth ...*BasicAuth) (*http.Response, error) {
	var lastErr error
	host := hostOf(url)
	start := time.Now()

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			observability.HTTPClientRetries.WithLabelValues(host).Inc()
			select {
			case <-ctx.Done():
				observability.HTTPClientRequestDuration.WithLabelValues(host, "retry_exhausted").Observe(time.Since(start).Seconds())
				return nil, model.NewError("httpclient.Do", model.KindUpstreamUnavailable, ctx.Err())
			case <-time.After(c.backoff):
			}
		}

		if err := c.limiters.wait(ctx, hostOf(url)); err != nil {
			return nil, model.NewError("httpclient.Do", model.KindUpstreamUnavailable, err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, model.NewError("httpclient.Do", model.KindUpstreamUnavailable, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if len(auth) > 0 && auth[0] != nil {
			req.SetBasicAuth(auth[0].Username, auth[0].Password)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("upstream returned status %d", resp.StatusCode)
			continue
		}
		observability.HTTPClientRequestDuration.WithLabelValues(host, "ok").Observe(time.Since(start).Seconds())
		return resp, nil
	}

	observability.HTTPClientRequestDuration.WithLabelValues(host, "retry_exhausted").Observe(time.Since(start).Seconds())
	return nil, model.NewError("httpclient.Do", model.KindUpstreamUnavailable, lastErr)
}

func hostOf(url string) string {
	rest := url
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
