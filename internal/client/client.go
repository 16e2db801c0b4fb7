// Package client talks to a running daemon's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/colebrumley/tapguard/internal/api"
	"github.com/colebrumley/tapguard/internal/state"
)

// DefaultBaseURL matches the daemon's default listen address.
const DefaultBaseURL = "http://127.0.0.1:9876"

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Body)
}

// Client is a daemon API client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL. An empty baseURL uses DefaultBaseURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// attempts run the action synchronously
		http: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *Client) Health(ctx context.Context) (api.Health, error) {
	var h api.Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

func (c *Client) Rules(ctx context.Context) ([]api.RuleStatus, error) {
	var rules []api.RuleStatus
	err := c.do(ctx, http.MethodGet, "/api/rules", nil, &rules)
	return rules, err
}

// Attempt asks the daemon to attempt rule through its trigger.
func (c *Client) Attempt(ctx context.Context, rule string, data map[string]any) (api.AttemptResult, error) {
	var res api.AttemptResult
	err := c.do(ctx, http.MethodPost, "/api/rules/"+url.PathEscape(rule)+"/attempt", api.AttemptRequest{Data: data}, &res)
	return res, err
}

// History returns recorded attempts, newest first. Empty filters match all.
func (c *Client) History(ctx context.Context, rule, outcome string, limit int) ([]state.AttemptRecord, error) {
	q := url.Values{}
	if rule != "" {
		q.Set("rule", rule)
	}
	if outcome != "" {
		q.Set("outcome", outcome)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var records []state.AttemptRecord
	err := c.do(ctx, http.MethodGet, path, nil, &records)
	return records, err
}

// GetAttempt returns one recorded attempt by ID.
func (c *Client) GetAttempt(ctx context.Context, attemptID string) (state.AttemptRecord, error) {
	var rec state.AttemptRecord
	err := c.do(ctx, http.MethodGet, "/api/history/"+url.PathEscape(attemptID), nil, &rec)
	return rec, err
}

// Stats returns per-rule totals from the daemon's history.
func (c *Client) Stats(ctx context.Context) ([]state.RuleStats, error) {
	var stats []state.RuleStats
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, &stats)
	return stats, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var apiErr api.Error
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
