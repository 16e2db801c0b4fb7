// internal/source/manual.go
package source

import "context"

// Manual only fires on request, from the CLI, the API or MCP.
type Manual struct {
	ruleName string
}

var _ Source = (*Manual)(nil)

func NewManual(ruleName string) *Manual {
	return &Manual{ruleName: ruleName}
}

func (m *Manual) RuleName() string {
	return m.ruleName
}

func (m *Manual) Start(ctx context.Context, events chan<- Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *Manual) Stop() error {
	return nil
}

// Fire queues a manual event. Returns false if the channel is full.
func (m *Manual) Fire(events chan<- Event, data map[string]any) bool {
	return trySend(events, NewEvent(m.ruleName, "manual", data))
}
