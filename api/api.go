// Package api is a small REST client for the healthcare backend, used to
// reload entity lists after a realtime update.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mbocsi/carelink/proto"
)

// Response is the backend's standard envelope.
type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type TokenSource interface {
	Token() string
}

// BackendAPI is the subset of backend calls the dashboard makes.
type BackendAPI interface {
	ListPatients(ctx context.Context) ([]json.RawMessage, error)
	ListAppointments(ctx context.Context) ([]json.RawMessage, error)
	ListMedications(ctx context.Context) ([]json.RawMessage, error)
}

type Client struct {
	client *resty.Client
	tokens TokenSource
}

func New(baseURL string, tokens TokenSource, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("api base url cannot be empty")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)

	return &Client{client: client, tokens: tokens}, nil
}

func (c *Client) ListPatients(ctx context.Context) ([]json.RawMessage, error) {
	return c.list(ctx, "/api/v1/patients")
}

func (c *Client) ListAppointments(ctx context.Context) ([]json.RawMessage, error) {
	return c.list(ctx, "/api/v1/appointments")
}

func (c *Client) ListMedications(ctx context.Context) ([]json.RawMessage, error) {
	return c.list(ctx, "/api/v1/medications")
}

func (c *Client) list(ctx context.Context, path string) ([]json.RawMessage, error) {
	var out Response[[]json.RawMessage]

	req := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&out)
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" && tok != proto.GuestToken {
			req.SetAuthToken(tok)
		}
	}

	resp, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.IsError() {
		msg := out.Error
		if msg == "" {
			msg = out.Message
		}
		return nil, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode(), msg)
	}
	if !out.Success {
		return nil, fmt.Errorf("GET %s: backend reported failure: %s", path, out.Error)
	}
	return out.Data, nil
}
