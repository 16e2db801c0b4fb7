// internal/debounce/trigger.go
package debounce

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval is the suppression window used when none is configured.
const DefaultInterval = 500 * time.Millisecond

// Action is the callable a Trigger forwards accepted attempts to.
type Action[S any] func(source S) error

// State is the observable state of a Trigger.
type State int

const (
	// Idle means the next attempt will be accepted.
	Idle State = iota
	// Cooling means attempts are being suppressed.
	Cooling
)

func (s State) String() string {
	if s == Cooling {
		return "cooling"
	}
	return "idle"
}

// Stats is a point-in-time snapshot of a Trigger's counters.
type Stats struct {
	Accepted     uint64
	Dropped      uint64
	LastAccepted time.Time
}

// Trigger forwards at most one attempt per interval to its action, always
// favoring the first attempt of a burst. The zero value is not usable; build
// one with New. A Trigger belongs to exactly one target.
type Trigger[S any] struct {
	action   Action[S]
	interval time.Duration
	clock    clockwork.Clock
	stamp    StampMode
	window   WindowMode

	mu       sync.Mutex
	last     time.Time // only moves forward
	seen     bool      // false until the first accepted attempt
	inFlight bool
	lastOK   time.Time
	accepted uint64
	dropped  uint64
}

// New creates a Trigger around action.
func New[S any](action Action[S], opts ...Option) *Trigger[S] {
	o := options{
		interval: DefaultInterval,
		clock:    clockwork.NewRealClock(),
		stamp:    StampAfterAction,
		window:   WindowFixed,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Trigger[S]{
		action:   action,
		interval: o.interval,
		clock:    o.clock,
		stamp:    o.stamp,
		window:   o.window,
	}
}

// Wrap returns fn guarded by a fresh Trigger, for callers that just want a
// debounced callback.
func Wrap[S any](fn func(S), interval time.Duration) func(S) {
	t := New(func(s S) error {
		fn(s)
		return nil
	}, WithInterval(interval))

	return func(s S) {
		_, _ = t.Attempt(s)
	}
}

// Attempt invokes the action with source if more than the interval has
// elapsed since the last accepted attempt, and drops it otherwise. The
// action's error is returned as is. A dropped attempt returns false, nil.
func (t *Trigger[S]) Attempt(source S) (bool, error) {
	if !t.claim() {
		return false, nil
	}
	defer t.release()

	return true, t.action(source)
}

// claim decides whether the attempt wins and, if so, records it before the
// action runs so concurrent callers see it.
func (t *Trigger[S]) claim() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if t.inFlight || (t.seen && now.Sub(t.last) <= t.interval) {
		t.dropped++
		if t.window == WindowSliding {
			t.advance(now)
		}
		return false
	}

	t.seen = true
	t.advance(now)
	t.lastOK = now
	t.accepted++
	if t.stamp == StampAfterAction {
		t.inFlight = true
	}
	return true
}

// release runs after the action, including when it panics.
func (t *Trigger[S]) release() {
	if t.stamp != StampAfterAction {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.advance(t.clock.Now())
	t.inFlight = false
}

func (t *Trigger[S]) advance(now time.Time) {
	if now.After(t.last) {
		t.last = now
	}
}

// State reports whether the next attempt would currently be suppressed.
func (t *Trigger[S]) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight || (t.seen && t.clock.Now().Sub(t.last) <= t.interval) {
		return Cooling
	}
	return Idle
}

// Stats returns the trigger's counters.
func (t *Trigger[S]) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Stats{
		Accepted:     t.accepted,
		Dropped:      t.dropped,
		LastAccepted: t.lastOK,
	}
}

// Interval returns the configured suppression window.
func (t *Trigger[S]) Interval() time.Duration {
	return t.interval
}
