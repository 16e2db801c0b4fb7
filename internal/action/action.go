// internal/action/action.go
package action

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/colebrumley/tapguard/internal/config"
	"github.com/colebrumley/tapguard/internal/security"
	"github.com/colebrumley/tapguard/internal/template"
)

// DefaultTimeout applies when a rule sets no timeout_seconds.
const DefaultTimeout = 300 * time.Second

// WaitDelay bounds how long a killed command's output pipes are drained.
const WaitDelay = 5 * time.Second

// Result states.
const (
	StateSuccess   = "success"
	StateFailure   = "failure"
	StateTimeout   = "timeout"
	StateCancelled = "cancelled"
	StateDryRun    = "dry_run"
)

// Result represents the outcome of running a rule's action
type Result struct {
	State    string
	Output   string
	Error    string
	Duration time.Duration
}

// OK reports whether the action completed without error.
func (r *Result) OK() bool {
	return r.State == StateSuccess || r.State == StateDryRun
}

// Err converts a non-OK result to an error.
func (r *Result) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("action %s: %s", r.State, r.Error)
}

// Command is a fully rendered invocation.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// String renders the command line for logs and dry runs.
func (c Command) String() string {
	parts := append([]string{c.Path}, c.Args...)
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\n'\"") {
			parts[i] = "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
		}
	}
	return strings.Join(parts, " ")
}

// Timeout is how long cfg's command may run before it is killed.
func Timeout(cfg config.Action) time.Duration {
	if cfg.TimeoutSeconds > 0 {
		return time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return DefaultTimeout
}

// Invocation identifies the attempt an action runs for. Rule, AttemptID and
// EventType become TAPGUARD_* environment variables; Data only feeds
// templates.
type Invocation struct {
	Rule      string
	AttemptID string
	EventType string
	Data      map[string]any
}

// Build expands templates in the action's args, workdir and env using
// inv.Data. When user is set the command is wrapped in sudo -u.
func Build(cfg config.Action, user string, inv Invocation) Command {
	data := inv.Data
	cmd := Command{
		Path:    cfg.Command,
		Args:    template.ExpandAll(cfg.Args, data),
		Dir:     template.Expand(cfg.WorkDir, data),
		Timeout: Timeout(cfg),
	}

	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+template.Expand(cfg.Env[k], data))
	}
	for _, kv := range []struct{ env, value string }{
		{"TAPGUARD_RULE", inv.Rule},
		{"TAPGUARD_ATTEMPT_ID", inv.AttemptID},
		{"TAPGUARD_EVENT_TYPE", inv.EventType},
	} {
		if kv.value != "" {
			cmd.Env = append(cmd.Env, kv.env+"="+security.SanitizeValue(kv.value))
		}
	}

	if user != "" {
		cmd.Args = append([]string{"-u", user, "--", cmd.Path}, cmd.Args...)
		cmd.Path = "sudo"
	}
	return cmd
}

// Run executes the rule's action. A non-nil error means the command could
// not be described at all; execution failures are reported in the Result.
func Run(ctx context.Context, cfg config.Action, user string, inv Invocation, dryRun bool) (*Result, error) {
	if cfg.Command == "" {
		return nil, errors.New("action has no command")
	}
	built := Build(cfg, user, inv)

	if dryRun {
		return &Result{State: StateDryRun, Output: built.String()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, built.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, built.Path, built.Args...)
	cmd.Dir = built.Dir
	cmd.Env = append(os.Environ(), built.Env...)
	cmd.WaitDelay = WaitDelay

	start := time.Now()
	output, err := cmd.CombinedOutput()
	res := &Result{
		Output:   security.ScrubOutput(string(output)),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
		res.State = StateSuccess
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.State = StateTimeout
		res.Error = fmt.Sprintf("timed out after %s", built.Timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		res.State = StateCancelled
		res.Error = "cancelled"
	default:
		res.State = StateFailure
		res.Error = err.Error()
	}
	return res, nil
}
