// internal/daemon/attempt.go
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/colebrumley/tapguard/internal/action"
	"github.com/colebrumley/tapguard/internal/api"
	"github.com/colebrumley/tapguard/internal/config"
	"github.com/colebrumley/tapguard/internal/debounce"
	"github.com/colebrumley/tapguard/internal/logging"
	"github.com/colebrumley/tapguard/internal/source"
	"github.com/colebrumley/tapguard/internal/state"
)

// call is the source token passed through a rule's trigger. The trigger
// only sees it as opaque; runAction fills in what happened.
type call struct {
	ctx      context.Context
	event    source.Event
	rule     *config.Rule
	settings config.DebounceSettings
	logger   *slog.Logger

	result     *action.Result
	sharedDrop bool
}

// runAction is every rule trigger's action.
func (d *Daemon) runAction(c *call) error {
	acquired := false
	if c.settings.Shared && d.gate != nil {
		ok, err := d.gate.Acquire(c.ctx, c.rule.Name, sharedHold(c))
		switch {
		case err != nil:
			// fail open: the local trigger already accepted
			c.logger.Warn("shared gate error, proceeding on local state", "error", err)
			d.metrics.GateErrors.Inc()
		case !ok:
			c.sharedDrop = true
			return nil
		default:
			acquired = true
		}
	}

	inv := action.Invocation{
		Rule:      c.rule.Name,
		AttemptID: c.event.ID,
		EventType: c.event.Type,
		Data:      c.event.TemplateData(),
	}
	res, err := action.Run(c.ctx, c.rule.Action, c.rule.RunAsUser, inv, c.rule.DryRun)
	if err != nil {
		return err
	}
	c.result = res

	if acquired && c.settings.Stamp == debounce.StampAfterAction {
		if err := d.gate.Extend(c.ctx, c.rule.Name, c.settings.Interval); err != nil {
			c.logger.Warn("could not extend shared window", "error", err)
		}
	}
	return res.Err()
}

// sharedHold is how long the shared key is first claimed for. Stamping after
// the action holds it for as long as the action may run; Extend then sets
// the real window once the action returns.
func sharedHold(c *call) time.Duration {
	if c.settings.Stamp != debounce.StampAfterAction {
		return c.settings.Interval
	}
	return c.settings.Interval + action.Timeout(c.rule.Action) + action.WaitDelay
}

// Attempt routes a manual attempt through ruleName's trigger and reports
// whether it was accepted. The error is the action's, if it ran and failed.
func (d *Daemon) Attempt(ctx context.Context, ruleName string, data map[string]any) (bool, error) {
	res, err := d.attemptRule(ctx, source.NewEvent(ruleName, "manual", data))
	if err != nil {
		return false, err
	}
	if res.Error != "" {
		return res.Accepted, errors.New(res.Error)
	}
	return res.Accepted, nil
}

// attemptRule looks up the event's rule and attempts it.
func (d *Daemon) attemptRule(ctx context.Context, event source.Event) (api.AttemptResult, error) {
	d.mu.RLock()
	rule, known := d.rules[event.RuleName]
	e, enabled := d.entries[event.RuleName]
	var c *call
	if enabled {
		c = &call{ctx: ctx, event: event, rule: e.rule, settings: e.settings}
	}
	d.mu.RUnlock()

	switch {
	case !known:
		return api.AttemptResult{}, fmt.Errorf("%w: %s", ErrRuleNotFound, event.RuleName)
	case !enabled || !rule.Enabled:
		return api.AttemptResult{}, fmt.Errorf("%w: %s", ErrRuleDisabled, event.RuleName)
	}
	return d.attempt(e, c), nil
}

// attempt runs c through e's trigger, then records and reports the outcome.
func (d *Daemon) attempt(e *ruleEntry, c *call) api.AttemptResult {
	c.logger = logging.WithAttempt(logging.WithRule(d.logger, c.rule.Name), c.event.ID, c.event.Type)

	start := time.Now()
	accepted, err := e.trigger.Attempt(c)
	duration := time.Since(start)

	res := api.AttemptResult{
		AttemptID: c.event.ID,
		Rule:      c.rule.Name,
		Accepted:  accepted && !c.sharedDrop,
	}
	switch {
	case !accepted:
		res.Outcome = state.OutcomeDropped
	case c.sharedDrop:
		res.Outcome = state.OutcomeDroppedShared
		e.sharedDropped.Add(1)
	case c.result != nil:
		res.Outcome = c.result.State
		res.Output = c.result.Output
		res.Error = c.result.Error
	default:
		res.Outcome = state.OutcomeFailure
	}
	if res.Error == "" && err != nil {
		res.Error = err.Error()
	}
	ran := res.Accepted
	if ran {
		res.DurationMs = duration.Milliseconds()
	}

	if res.Accepted {
		c.logger.Info("attempt accepted", "outcome", res.Outcome, "duration", duration)
		if res.Error != "" {
			c.logger.Error("action failed", "outcome", res.Outcome, "error", res.Error)
		}
	} else {
		c.logger.Debug("attempt dropped", "outcome", res.Outcome)
	}

	d.metrics.ObserveAttempt(c.rule.Name, res.Outcome, ran, duration)
	d.recordAttempt(c.event, res)
	return res
}

// recordAttempt stores res in the state DB. Output is already scrubbed.
func (d *Daemon) recordAttempt(event source.Event, res api.AttemptResult) {
	if d.stateDB == nil {
		return
	}
	rec := state.AttemptRecord{
		AttemptID:   res.AttemptID,
		RuleName:    res.Rule,
		SourceType:  event.Type,
		Outcome:     res.Outcome,
		AttemptedAt: event.Timestamp,
		DurationMs:  res.DurationMs,
		EventData:   event.DataJSON(),
		Error:       res.Error,
		Output:      res.Output,
	}
	if err := d.stateDB.RecordAttempt(rec); err != nil {
		d.logger.Warn("failed to record attempt", "rule", res.Rule, "error", err)
	}
}

// handleEvent attempts a source event. Events for rules that have since
// been removed or disabled are discarded.
func (d *Daemon) handleEvent(ctx context.Context, event source.Event) {
	if _, err := d.attemptRule(ctx, event); err != nil {
		d.logger.Debug("discarding event", "rule", event.RuleName, "type", event.Type, "error", err)
	}
}

func (d *Daemon) fireLifecycleEvent(eventType string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, e := range d.entries {
		if lc, ok := e.src.(*source.Lifecycle); ok {
			lc.Fire(eventType, d.events)
		}
	}
}

// handleLifecycleShutdown attempts daemon_stopped rules directly, since the
// event loop is no longer reading.
func (d *Daemon) handleLifecycleShutdown(ctx context.Context) {
	d.mu.RLock()
	var names []string
	for name, e := range d.entries {
		if lc, ok := e.src.(*source.Lifecycle); ok && lc.ShouldFireOn(source.DaemonStopped) {
			names = append(names, name)
		}
	}
	d.mu.RUnlock()

	for _, name := range names {
		d.handleEvent(ctx, source.NewEvent(name, source.DaemonStopped, nil))
	}
}
