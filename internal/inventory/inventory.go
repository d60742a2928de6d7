// Package inventory is the client for the inventory upstream service:
// OOIs and their scan profiles.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/scanhive/mula/internal/httpclient"
	"github.com/scanhive/mula/internal/model"
)

// Client talks to the inventory service over HTTP.
type Client struct {
	baseURL string
	http    *httpclient.Client
}

// New builds an inventory Client against baseURL.
func New(baseURL string, hc *httpclient.Client) *Client {
	return &Client{baseURL: baseURL, http: hc}
}

type scanProfileDTO struct {
	Level int `json:"level"`
}

type ooiDTO struct {
	PrimaryKey  string          `json:"primary_key"`
	ObjectType  string          `json:"object_type"`
	ScanProfile *scanProfileDTO `json:"scan_profile"`
	CheckedAt   time.Time       `json:"checked_at"`
}

func (d ooiDTO) toModel() model.OOI {
	o := model.OOI{
		PrimaryKey: d.PrimaryKey,
		ObjectType: d.ObjectType,
		CheckedAt:  d.CheckedAt,
	}
	if d.ScanProfile != nil {
		o.ScanProfile = &model.ScanProfile{Level: d.ScanProfile.Level}
	}
	return o
}

// Objects lists every known OOI for org.
func (c *Client) Objects(ctx context.Context, org string) ([]model.OOI, error) {
	var dtos []ooiDTO
	if err := c.get(ctx, c.baseURL+"/"+org+"/objects", &dtos); err != nil {
		return nil, err
	}
	return toModels(dtos), nil
}

// RandomObjects samples amount random OOIs from org's inventory.
func (c *Client) RandomObjects(ctx context.Context, org string, amount int) ([]model.OOI, error) {
	var dtos []ooiDTO
	url := fmt.Sprintf("%s/%s/objects/random?amount=%d", c.baseURL, org, amount)
	if err := c.get(ctx, url, &dtos); err != nil {
		return nil, err
	}
	return toModels(dtos), nil
}

// ByReference looks up a single OOI by reference; returns model.ErrNotFound
// if the inventory has no such object (or has removed it), matching §4.5(C)
// ("for those no longer present in the inventory, delete locally").
func (c *Client) ByReference(ctx context.Context, org, reference string) (model.OOI, error) {
	var dto ooiDTO
	url := fmt.Sprintf("%s/%s?reference=%s", c.baseURL, org, reference)
	resp, err := c.http.Do(ctx, "GET", url, nil)
	if err != nil {
		return model.OOI{}, model.NewError("inventory.ByReference", model.KindUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return model.OOI{}, model.ErrNotFound
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.OOI{}, model.NewError("inventory.ByReference", model.KindUpstreamBadResponse, err)
	}
	if resp.StatusCode >= 400 {
		return model.OOI{}, model.NewError("inventory.ByReference", model.KindUpstreamBadResponse, fmt.Errorf("status %d", resp.StatusCode))
	}
	if err := json.Unmarshal(data, &dto); err != nil {
		return model.OOI{}, model.NewError("inventory.ByReference", model.KindUpstreamBadResponse, err)
	}
	return dto.toModel(), nil
}

func toModels(dtos []ooiDTO) []model.OOI {
	out := make([]model.OOI, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toModel())
	}
	return out
}

func (c *Client) get(ctx context.Context, url string, out interface{}) error {
	resp, err := c.http.Do(ctx, "GET", url, nil)
	if err != nil {
		return model.NewError("inventory.get", model.KindUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewError("inventory.get", model.KindUpstreamBadResponse, err)
	}
	if resp.StatusCode >= 400 {
		return model.NewError("inventory.get", model.KindUpstreamBadResponse, fmt.Errorf("status %d", resp.StatusCode))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return model.NewError("inventory.get", model.KindUpstreamBadResponse, err)
	}
	return nil
}
