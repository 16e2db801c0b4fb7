package debounce

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// StampMode selects which clock reading is recorded for an accepted attempt.
type StampMode int

const (
	// StampAfterAction records the time the action returned, so a slow
	// action extends the suppression window.
	StampAfterAction StampMode = iota
	// StampAtDecision records the time the attempt was accepted.
	StampAtDecision
)

func (m StampMode) String() string {
	if m == StampAtDecision {
		return "decision"
	}
	return "after_action"
}

// ParseStampMode maps a config value to a StampMode. Empty means the default.
func ParseStampMode(s string) (StampMode, error) {
	switch s {
	case "", "after_action":
		return StampAfterAction, nil
	case "decision":
		return StampAtDecision, nil
	default:
		return 0, fmt.Errorf("unknown stamp mode %q (want after_action or decision)", s)
	}
}

// WindowMode selects whether dropped attempts extend the window.
type WindowMode int

const (
	// WindowFixed measures the window from the last accepted attempt only.
	WindowFixed WindowMode = iota
	// WindowSliding also restarts the window on every dropped attempt, so a
	// continuous stream faster than the interval never fires again.
	WindowSliding
)

func (m WindowMode) String() string {
	if m == WindowSliding {
		return "sliding"
	}
	return "fixed"
}

// ParseWindowMode maps a config value to a WindowMode. Empty means the default.
func ParseWindowMode(s string) (WindowMode, error) {
	switch s {
	case "", "fixed":
		return WindowFixed, nil
	case "sliding":
		return WindowSliding, nil
	default:
		return 0, fmt.Errorf("unknown window mode %q (want fixed or sliding)", s)
	}
}

type options struct {
	interval time.Duration
	clock    clockwork.Clock
	stamp    StampMode
	window   WindowMode
}

// Option configures a Trigger.
type Option func(*options)

// WithInterval sets the minimum interval between accepted attempts.
// Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithClock replaces the real clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithStampMode chooses when the last-accepted timestamp is taken. The
// default, StampAfterAction, measures the interval from action completion.
func WithStampMode(m StampMode) Option {
	return func(o *options) { o.stamp = m }
}

// WithWindowMode chooses whether dropped attempts push the window forward.
// The default, WindowFixed, measures only from accepted attempts.
func WithWindowMode(m WindowMode) Option {
	return func(o *options) { o.window = m }
}
