package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"drpactor/internal/engine"
	"drpactor/internal/model"

	"github.com/go-resty/resty/v2"
)

// Client HTTP client of the drpactor command layer
type Client struct {
	client *resty.Client
}

// NewClient creates a client for baseURL, apiKey may be empty
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")+"/api/v1").
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}
	return &Client{client: client}
}

type apiError struct {
	Error string `json:"error"`
}

// call sends one request and returns the raw JSON body
func (c *Client) call(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var apiErr apiError
	req := c.client.R().SetContext(ctx).SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return nil, fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error, resp.StatusCode())
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode())
	}
	return resp.Body(), nil
}

func (c *Client) NewExposure(ctx context.Context, req model.ExposureRequest) ([]byte, error) {
	return c.call(ctx, resty.MethodPost, "/exposures", req)
}

func (c *Client) NewPfsConfig(ctx context.Context, visit int, path string) ([]byte, error) {
	return c.call(ctx, resty.MethodPost, fmt.Sprintf("/visits/%d/pfsconfig", visit), model.PfsConfigRequest{Path: path})
}

func (c *Client) NewVisit(ctx context.Context, visit int) ([]byte, error) {
	return c.call(ctx, resty.MethodPost, fmt.Sprintf("/visits/%d/close", visit), nil)
}

func (c *Client) Visit(ctx context.Context, visit int) ([]byte, error) {
	return c.call(ctx, resty.MethodGet, fmt.Sprintf("/visits/%d", visit), nil)
}

func (c *Client) Visits(ctx context.Context) ([]byte, error) {
	return c.call(ctx, resty.MethodGet, "/visits", nil)
}

func (c *Client) ForgetVisit(ctx context.Context, visit int) ([]byte, error) {
	return c.call(ctx, resty.MethodDelete, fmt.Sprintf("/visits/%d", visit), nil)
}

func (c *Client) GenIngestStatus(ctx context.Context, visit int) ([]byte, error) {
	return c.call(ctx, resty.MethodPost, fmt.Sprintf("/visits/%d/ingest-status", visit), nil)
}

func (c *Client) GenDetrendStatus(ctx context.Context, visit int) ([]byte, error) {
	return c.call(ctx, resty.MethodPost, fmt.Sprintf("/visits/%d/detrend-status", visit), nil)
}

func (c *Client) NewVisitGroup(ctx context.Context, sequenceID int, visits string) ([]byte, error) {
	return c.call(ctx, resty.MethodPost, "/groups", model.VisitGroupRequest{SequenceID: sequenceID, Visits: visits})
}

// Reduce runs an ad-hoc reduction and decodes the submitted item
func (c *Client) Reduce(ctx context.Context, req model.ReduceRequest) (*model.ReduceResponse, error) {
	raw, err := c.call(ctx, resty.MethodPost, "/reduce", req)
	if err != nil {
		return nil, err
	}
	var resp model.ReduceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("invalid reduce response: %w", err)
	}
	return &resp, nil
}

func (c *Client) InFlight(ctx context.Context) ([]byte, error) {
	return c.call(ctx, resty.MethodGet, "/inflight", nil)
}

func (c *Client) LeftOvers(ctx context.Context) ([]byte, error) {
	return c.call(ctx, resty.MethodGet, "/leftovers", nil)
}

func (c *Client) Settings(ctx context.Context) ([]byte, error) {
	return c.call(ctx, resty.MethodGet, "/settings", nil)
}

func (c *Client) SetSettings(ctx context.Context, o engine.SettingsOverride) ([]byte, error) {
	return c.call(ctx, resty.MethodPut, "/settings", o)
}

func (c *Client) StartDotRoach(ctx context.Context, req model.DotRoachStartRequest) ([]byte, error) {
	return c.call(ctx, resty.MethodPost, "/dotroach/start", req)
}

func (c *Client) StopDotRoach(ctx context.Context) ([]byte, error) {
	return c.call(ctx, resty.MethodPost, "/dotroach/stop", nil)
}

func (c *Client) DotRoachPhase(ctx context.Context, phase string) ([]byte, error) {
	return c.call(ctx, resty.MethodPost, "/dotroach/phase/"+phase, nil)
}

func (c *Client) DotRoachStatus(ctx context.Context) ([]byte, error) {
	return c.call(ctx, resty.MethodGet, "/dotroach/status", nil)
}

func (c *Client) WaitDotRoachResult(ctx context.Context, round int) ([]byte, error) {
	return c.call(ctx, resty.MethodGet, fmt.Sprintf("/dotroach/wait/%d", round), nil)
}

func (c *Client) VisitStatus(ctx context.Context, visit int) ([]byte, error) {
	return c.call(ctx, resty.MethodGet, fmt.Sprintf("/status/visit/%d", visit), nil)
}
