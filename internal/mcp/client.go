// Package mcp provides MCP server tools for the fee load tester.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gateway-fm/tvt/pkg/types"
)

// APIError is a non-2xx answer from the tvt API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports whether err is the API refusing a run because one is active.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// Client talks to the tvt HTTP API.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string) *Client {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Host == "" {
		u = &url.URL{Scheme: "http", Host: strings.TrimRight(baseURL, "/")}
	}
	return &Client{base: u, http: &http.Client{Timeout: 30 * time.Second}}
}

// Status returns the live run progress document.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/status", nil, nil)
}

// Ready returns the readiness document. A 503 still carries the per-check
// breakdown, so it is returned as a body rather than an error.
func (c *Client) Ready(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/ready", nil, nil, http.StatusServiceUnavailable)
}

// StartRun asks the API to start a run and returns its ID.
func (c *Client) StartRun(ctx context.Context, req types.StartRunRequest) (string, error) {
	raw, err := c.do(ctx, http.MethodPost, "/v1/runs", nil, req)
	if err != nil {
		return "", err
	}
	var resp struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decoding start response: %w", err)
	}
	return resp.RunID, nil
}

// Runs returns one page of run history.
func (c *Client) Runs(ctx context.Context, limit, offset int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	q.Set("offset", fmt.Sprint(offset))
	return c.do(ctx, http.MethodGet, "/v1/runs", q, nil)
}

// Run returns one run with its fee records and failures.
func (c *Client) Run(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(id), nil, nil)
}

// DeleteRun removes a run from history.
func (c *Client) DeleteRun(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/runs/"+url.PathEscape(id), nil, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, okStatus ...int) (json.RawMessage, error) {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		for _, s := range okStatus {
			if resp.StatusCode == s {
				return data, nil
			}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

// errorMessage extracts the "error" field the API writes on failures,
// falling back to the raw body.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
