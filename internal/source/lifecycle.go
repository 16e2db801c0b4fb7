// internal/source/lifecycle.go
package source

import (
	"context"

	"github.com/colebrumley/tapguard/internal/config"
)

// Lifecycle event types.
const (
	DaemonStarted = "daemon_started"
	DaemonStopped = "daemon_stopped"
)

// Lifecycle fires on daemon start/stop events
type Lifecycle struct {
	ruleName string
	onEvents map[string]bool
}

var _ Source = (*Lifecycle)(nil)

func NewLifecycle(ruleName string, cfg config.Source) (*Lifecycle, error) {
	return &Lifecycle{
		ruleName: ruleName,
		onEvents: eventSet(cfg.OnEvents),
	}, nil
}

func (l *Lifecycle) RuleName() string {
	return l.ruleName
}

func (l *Lifecycle) Start(ctx context.Context, events chan<- Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func (l *Lifecycle) Stop() error {
	return nil
}

// ShouldFireOn returns true if this source subscribes to eventType
func (l *Lifecycle) ShouldFireOn(eventType string) bool {
	return l.onEvents[eventType]
}

// Fire queues a lifecycle event if subscribed. It reports whether an event
// was queued.
func (l *Lifecycle) Fire(eventType string, events chan<- Event) bool {
	if !l.ShouldFireOn(eventType) {
		return false
	}
	return trySend(events, NewEvent(l.ruleName, eventType, nil))
}
