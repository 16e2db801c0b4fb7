// internal/source/scheduled.go
package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/colebrumley/tapguard/internal/config"
	"github.com/robfig/cron/v3"
)

// Scheduled emits events on a cron schedule
type Scheduled struct {
	ruleName string
	spec     string
	cron     *cron.Cron
}

var _ Source = (*Scheduled)(nil)

// NewScheduled creates a new scheduled source. The cron expression carries
// a seconds field; run_every and run_at are converted to one.
func NewScheduled(ruleName string, cfg config.Source) (*Scheduled, error) {
	spec := cfg.CronExpression
	if spec == "" {
		spec = convertSimpleToCron(cfg.RunEvery, cfg.RunAt)
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}

	return &Scheduled{
		ruleName: ruleName,
		spec:     spec,
		cron:     cron.New(cron.WithParser(parser)),
	}, nil
}

func (s *Scheduled) RuleName() string {
	return s.ruleName
}

// Spec returns the effective cron expression.
func (s *Scheduled) Spec() string {
	return s.spec
}

func (s *Scheduled) Start(ctx context.Context, events chan<- Event) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if !trySend(events, NewEvent(s.ruleName, "scheduled", nil)) {
			slog.Warn("event channel full, dropping scheduled event", "rule", s.ruleName)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling %q: %w", s.spec, err)
	}
	s.cron.Start()

	<-ctx.Done()
	return ctx.Err()
}

func (s *Scheduled) Stop() error {
	<-s.cron.Stop().Done()
	return nil
}

// convertSimpleToCron converts run_every or run_at to a cron expression.
// Anything unparseable falls back to hourly.
func convertSimpleToCron(runEvery, runAt string) string {
	// run_at: "HH:MM" runs daily at that time
	if len(runAt) == 5 && runAt[2] == ':' {
		return "0 " + runAt[3:5] + " " + runAt[0:2] + " * * *"
	}

	// run_every: "30s", "30m", "6h"
	if len(runEvery) >= 2 {
		unit := runEvery[len(runEvery)-1]
		val := runEvery[:len(runEvery)-1]
		switch unit {
		case 's':
			return "*/" + val + " * * * * *"
		case 'm':
			return "0 */" + val + " * * * *"
		case 'h':
			return "0 0 */" + val + " * * *"
		}
	}

	return "0 0 * * * *"
}
