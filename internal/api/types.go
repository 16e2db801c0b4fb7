// Package api holds the JSON shapes served by the daemon's HTTP API.
package api

import "time"

// Health is the /health response.
type Health struct {
	Status       string `json:"status"`
	Uptime       string `json:"uptime"`
	RulesLoaded  int    `json:"rules_loaded"`
	RulesEnabled int    `json:"rules_enabled"`
	SharedGate   bool   `json:"shared_gate"`
	History      bool   `json:"history"`
}

// RuleStatus describes one rule and its trigger.
type RuleStatus struct {
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Enabled      bool      `json:"enabled"`
	DryRun       bool      `json:"dry_run"`
	SourceType   string    `json:"source_type"`
	State        string    `json:"state"` // idle | cooling | disabled
	Accepted     uint64    `json:"accepted"`
	Dropped      uint64    `json:"dropped"`
	LastAccepted time.Time `json:"last_accepted,omitzero"`
	IntervalMs   int64     `json:"interval_ms"`
	Stamp        string    `json:"stamp"`
	Window       string    `json:"window"`
	Shared       bool      `json:"shared"`
}

// AttemptRequest is the optional body of POST /api/rules/{name}/attempt.
type AttemptRequest struct {
	Data map[string]any `json:"data,omitempty"`
}

// AttemptResult reports what happened to one attempt.
type AttemptResult struct {
	AttemptID  string `json:"attempt_id"`
	Rule       string `json:"rule"`
	Accepted   bool   `json:"accepted"`
	Outcome    string `json:"outcome"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	Output     string `json:"output,omitempty"`
}

// Error is the body of every non-2xx API response.
type Error struct {
	Error string `json:"error"`
}
