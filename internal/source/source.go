// internal/source/source.go
package source

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one activation attempt produced by a source. It is the opaque
// token handed to a rule's debounced trigger.
type Event struct {
	ID        string
	RuleName  string
	Type      string
	Timestamp time.Time
	Data      map[string]any
}

// NewEvent stamps a fresh event for ruleName.
func NewEvent(ruleName, eventType string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:        uuid.NewString(),
		RuleName:  ruleName,
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// TemplateData returns the event's data plus the built-in variables
// (event_type, timestamp, rule, attempt_id). Built-ins replace source values
// of the same name, so event data cannot spoof the attempt's identity.
func (e Event) TemplateData() map[string]any {
	out := make(map[string]any, len(e.Data)+4)
	for k, v := range e.Data {
		out[k] = v
	}
	out["event_type"] = e.Type
	out["timestamp"] = e.Timestamp.Format(time.RFC3339)
	out["rule"] = e.RuleName
	out["attempt_id"] = e.ID
	return out
}

// DataJSON serializes Data for storage. Unencodable data yields "{}".
func (e Event) DataJSON() string {
	if len(e.Data) == 0 {
		return "{}"
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Source is the interface all event sources implement
type Source interface {
	// Start begins watching for events, sending them to the channel
	Start(ctx context.Context, events chan<- Event) error
	// Stop stops the source
	Stop() error
	// RuleName returns the name of the rule this source belongs to
	RuleName() string
}

// trySend delivers ev unless the channel is full.
func trySend(events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	default:
		return false
	}
}
