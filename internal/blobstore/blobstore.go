// Package blobstore is the client for the blob-store upstream service:
// last-run metadata lookups for boefje runs.
package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/scanhive/mula/internal/httpclient"
	"github.com/scanhive/mula/internal/model"
)

// Client talks to the blob store over HTTP with basic auth credentials.
type Client struct {
	baseURL  string
	username string
	password string
	http     *httpclient.Client
}

// New builds a blob-store Client against baseURL, authenticating with
// username/password.
func New(baseURL, username, password string, hc *httpclient.Client) *Client {
	return &Client{baseURL: baseURL, username: username, password: password, http: hc}
}

type boefjeMetaDTO struct {
	ID       string     `json:"id"`
	BoefjeID string     `json:"boefje_id"`
	InputOOI string     `json:"input_ooi"`
	Org      string     `json:"organization"`
	EndedAt  *time.Time `json:"ended_at"`
}

// LastRun fetches the most recent boefje_meta for (boefjeID, inputOOI, org).
// Returns model.ErrNotFound when there is no prior run.
func (c *Client) LastRun(ctx context.Context, boefjeID, inputOOI, org string) (model.BoefjeMeta, error) {
	q := url.Values{}
	q.Set("boefje_id", boefjeID)
	q.Set("input_ooi", inputOOI)
	q.Set("organization", org)
	q.Set("limit", "1")
	q.Set("descending", "true")

	u := c.baseURL + "/bytes/boefje_meta?" + q.Encode()

	resp, err := c.http.Do(ctx, "GET", u, nil, &httpclient.BasicAuth{Username: c.username, Password: c.password})
	if err != nil {
		return model.BoefjeMeta{}, model.NewError("blobstore.LastRun", model.KindUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return model.BoefjeMeta{}, model.ErrNotFound
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.BoefjeMeta{}, model.NewError("blobstore.LastRun", model.KindUpstreamBadResponse, err)
	}
	if resp.StatusCode >= 400 {
		return model.BoefjeMeta{}, model.NewError("blobstore.LastRun", model.KindUpstreamBadResponse, fmt.Errorf("status %d", resp.StatusCode))
	}

	var dtos []boefjeMetaDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return model.BoefjeMeta{}, model.NewError("blobstore.LastRun", model.KindUpstreamBadResponse, err)
	}
	if len(dtos) == 0 {
		return model.BoefjeMeta{}, model.ErrNotFound
	}

	d := dtos[0]
	return model.BoefjeMeta{
		ID:       d.ID,
		BoefjeID: d.BoefjeID,
		InputOOI: d.InputOOI,
		Org:      d.Org,
		EndedAt:  d.EndedAt,
	}, nil
}
