// internal/mcp/server.go
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/colebrumley/tapguard/internal/api"
	"github.com/colebrumley/tapguard/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultHistoryLimit = 20

// Daemon is the part of the daemon API the tools need.
type Daemon interface {
	Rules(ctx context.Context) ([]api.RuleStatus, error)
	Attempt(ctx context.Context, rule string, data map[string]any) (api.AttemptResult, error)
}

// Server exposes rule triggers as MCP tools
type Server struct {
	daemon  Daemon
	history *state.DB
	server  *mcp.Server
}

type ListRulesInput struct {
	EnabledOnly bool `json:"enabled_only,omitempty" jsonschema:"Only list enabled rules"`
}

type ListRulesOutput struct {
	Rules []api.RuleStatus `json:"rules"`
	Count int              `json:"count"`
}

type AttemptRuleInput struct {
	Rule string         `json:"rule" jsonschema:"Name of the rule to attempt"`
	Data map[string]any `json:"data,omitempty" jsonschema:"Optional template variables for the rule's action"`
}

type AttemptRuleOutput struct {
	Result  api.AttemptResult `json:"result"`
	Message string            `json:"message"`
}

type AttemptHistoryInput struct {
	Rule    string `json:"rule,omitempty" jsonschema:"Only attempts for this rule"`
	Outcome string `json:"outcome,omitempty" jsonschema:"Only this outcome: success, failure, timeout, cancelled, dry_run, dropped, dropped_shared"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum records to return (default 20)"`
}

type AttemptHistoryOutput struct {
	Attempts []state.AttemptRecord `json:"attempts"`
	Count    int                   `json:"count"`
}

type GetAttemptInput struct {
	AttemptID string `json:"attempt_id" jsonschema:"ID of the attempt, as returned by attempt_rule or attempt_history"`
}

type GetAttemptOutput struct {
	Attempt state.AttemptRecord `json:"attempt"`
}

// NewServer creates a new MCP server. history may be nil, in which case
// attempt_history reports an error.
func NewServer(daemon Daemon, history *state.DB) *Server {
	s := &Server{daemon: daemon, history: history}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "tapguard",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_rules",
		Description: "List the daemon's rules with their trigger state (idle or cooling), suppression interval and accepted/dropped counts.",
	}, s.handleListRules)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "attempt_rule",
		Description: "Attempt a rule through its debounced trigger. The action runs only if the rule's suppression window has passed; otherwise the attempt is dropped. Reports which happened.",
	}, s.handleAttemptRule)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "attempt_history",
		Description: "Read recorded attempts, newest first, including dropped ones.",
	}, s.handleAttemptHistory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_attempt",
		Description: "Read one recorded attempt by ID, including its event data and the action's output.",
	}, s.handleGetAttempt)

	s.server = server
	return s
}

func (s *Server) handleListRules(ctx context.Context, req *mcp.CallToolRequest, input ListRulesInput) (*mcp.CallToolResult, ListRulesOutput, error) {
	rules, err := s.daemon.Rules(ctx)
	if err != nil {
		return nil, ListRulesOutput{}, fmt.Errorf("listing rules: %w", err)
	}

	out := ListRulesOutput{Rules: []api.RuleStatus{}}
	for _, r := range rules {
		if input.EnabledOnly && !r.Enabled {
			continue
		}
		out.Rules = append(out.Rules, r)
	}
	out.Count = len(out.Rules)
	return nil, out, nil
}

func (s *Server) handleAttemptRule(ctx context.Context, req *mcp.CallToolRequest, input AttemptRuleInput) (*mcp.CallToolResult, AttemptRuleOutput, error) {
	if input.Rule == "" {
		return nil, AttemptRuleOutput{}, fmt.Errorf("rule is required")
	}

	res, err := s.daemon.Attempt(ctx, input.Rule, input.Data)
	if err != nil {
		return nil, AttemptRuleOutput{}, fmt.Errorf("attempting %s: %w", input.Rule, err)
	}

	msg := fmt.Sprintf("Attempt accepted, action finished with %s", res.Outcome)
	if !res.Accepted {
		msg = fmt.Sprintf("Attempt dropped (%s): rule %s is still inside its suppression window", res.Outcome, input.Rule)
	}
	return nil, AttemptRuleOutput{Result: res, Message: msg}, nil
}

func (s *Server) handleAttemptHistory(ctx context.Context, req *mcp.CallToolRequest, input AttemptHistoryInput) (*mcp.CallToolResult, AttemptHistoryOutput, error) {
	if s.history == nil {
		return nil, AttemptHistoryOutput{}, fmt.Errorf("attempt history is not available")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	records, err := s.history.GetHistory(input.Rule, input.Outcome, limit)
	if err != nil {
		return nil, AttemptHistoryOutput{}, fmt.Errorf("reading history: %w", err)
	}
	if records == nil {
		records = []state.AttemptRecord{}
	}
	return nil, AttemptHistoryOutput{Attempts: records, Count: len(records)}, nil
}

func (s *Server) handleGetAttempt(ctx context.Context, req *mcp.CallToolRequest, input GetAttemptInput) (*mcp.CallToolResult, GetAttemptOutput, error) {
	if s.history == nil {
		return nil, GetAttemptOutput{}, fmt.Errorf("attempt history is not available")
	}
	if input.AttemptID == "" {
		return nil, GetAttemptOutput{}, fmt.Errorf("attempt_id is required")
	}

	rec, err := s.history.GetAttempt(input.AttemptID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, GetAttemptOutput{}, fmt.Errorf("no attempt with ID %s", input.AttemptID)
	}
	if err != nil {
		return nil, GetAttemptOutput{}, fmt.Errorf("reading attempt: %w", err)
	}
	return nil, GetAttemptOutput{Attempt: rec}, nil
}

// Run starts the MCP server on stdio
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close closes the history database
func (s *Server) Close() error {
	if s.history == nil {
		return nil
	}
	return s.history.Close()
}
