package debounce

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	sources []string
}

func (r *recorder) action(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, s)
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sources...)
}

func newTestTrigger(t *testing.T, opts ...Option) (*Trigger[string], *clockwork.FakeClock, *recorder) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	opts = append([]Option{WithClock(clock)}, opts...)
	return New(rec.action, opts...), clock, rec
}

func TestAttempt_FirstAttemptAccepted(t *testing.T) {
	trig, _, rec := newTestTrigger(t, WithInterval(time.Hour))

	ok, err := trig.Attempt("first")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"first"}, rec.got())
}

func TestAttempt_SingleFirePerBurst(t *testing.T) {
	trig, clock, rec := newTestTrigger(t)
	start := clock.Now()

	for _, step := range []struct {
		source  string
		advance time.Duration
	}{
		{"a", 0},
		{"b", 100 * time.Millisecond},
		{"c", 200 * time.Millisecond},
		{"d", 199 * time.Millisecond},
	} {
		clock.Advance(step.advance)
		_, err := trig.Attempt(step.source)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"a"}, rec.got())
	assert.Equal(t, Stats{Accepted: 1, Dropped: 3, LastAccepted: start}, trig.Stats())
}

func TestAttempt_ExampleScenario(t *testing.T) {
	trig, clock, rec := newTestTrigger(t, WithInterval(500*time.Millisecond))

	attempts := []struct {
		at     time.Duration
		source string
		want   bool
	}{
		{0, "t0", true},
		{100 * time.Millisecond, "t100", false},
		{450 * time.Millisecond, "t450", false},
		{600 * time.Millisecond, "t600", true},
	}

	var elapsed time.Duration
	for _, a := range attempts {
		clock.Advance(a.at - elapsed)
		elapsed = a.at

		ok, err := trig.Attempt(a.source)
		require.NoError(t, err)
		assert.Equal(t, a.want, ok, "attempt %s", a.source)
	}

	assert.Equal(t, []string{"t0", "t600"}, rec.got())
}

func TestAttempt_Rearms(t *testing.T) {
	trig, clock, rec := newTestTrigger(t)

	_, _ = trig.Attempt("one")
	clock.Advance(DefaultInterval + time.Millisecond)
	ok, err := trig.Attempt("two")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"one", "two"}, rec.got())
}

func TestAttempt_BoundaryIsExclusive(t *testing.T) {
	for _, stamp := range []StampMode{StampAfterAction, StampAtDecision} {
		t.Run(stamp.String(), func(t *testing.T) {
			trig, clock, rec := newTestTrigger(t, WithStampMode(stamp))

			_, _ = trig.Attempt("start")

			clock.Advance(DefaultInterval)
			ok, _ := trig.Attempt("exactly")
			assert.False(t, ok, "attempt at exactly the interval must be dropped")

			clock.Advance(time.Nanosecond)
			ok, _ = trig.Attempt("after")
			assert.True(t, ok)

			assert.Equal(t, []string{"start", "after"}, rec.got())
		})
	}
}

func TestAttempt_SourcePropagatedUnmodified(t *testing.T) {
	type click struct {
		ID  int
		Tag *string
	}

	tag := "button"
	var got []click
	trig := New(func(c click) error {
		got = append(got, c)
		return nil
	}, WithClock(clockwork.NewFakeClock()))

	in := click{ID: 7, Tag: &tag}
	ok, err := trig.Attempt(in)

	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, in, got[0])
	assert.Same(t, &tag, got[0].Tag)
}

func TestAttempt_NilSource(t *testing.T) {
	var calls int
	var last *int
	trig := New(func(p *int) error {
		calls++
		last = p
		return nil
	})

	ok, err := trig.Attempt(nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, calls)
	assert.Nil(t, last)
}

func TestAttempt_SlowActionExtendsWindow(t *testing.T) {
	const (
		interval = 500 * time.Millisecond
		delay    = 300 * time.Millisecond
	)

	tests := []struct {
		stamp StampMode
		want  bool
	}{
		{StampAfterAction, false},
		{StampAtDecision, true},
	}

	for _, tt := range tests {
		t.Run(tt.stamp.String(), func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			var calls []string
			trig := New(func(s string) error {
				calls = append(calls, s)
				if s == "slow" {
					clock.Advance(delay)
				}
				return nil
			}, WithClock(clock), WithInterval(interval), WithStampMode(tt.stamp))

			_, _ = trig.Attempt("slow")

			// Lands after interval-from-start but within interval-from-completion.
			clock.Advance(interval - delay + 100*time.Millisecond)
			ok, err := trig.Attempt("next")

			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestAttempt_SlidingWindow(t *testing.T) {
	trig, clock, rec := newTestTrigger(t, WithWindowMode(WindowSliding))

	_, _ = trig.Attempt("a")
	clock.Advance(400 * time.Millisecond)
	_, _ = trig.Attempt("b")
	clock.Advance(400 * time.Millisecond)
	_, _ = trig.Attempt("c")

	// 800ms after "a", but only 400ms after the last dropped attempt.
	assert.Equal(t, []string{"a"}, rec.got())

	clock.Advance(501 * time.Millisecond)
	ok, _ := trig.Attempt("d")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "d"}, rec.got())
}

func TestAttempt_FixedWindowIgnoresDrops(t *testing.T) {
	trig, clock, rec := newTestTrigger(t)

	_, _ = trig.Attempt("a")
	clock.Advance(400 * time.Millisecond)
	_, _ = trig.Attempt("b")
	clock.Advance(400 * time.Millisecond)
	_, _ = trig.Attempt("c")

	assert.Equal(t, []string{"a", "c"}, rec.got())
}

func TestAttempt_ActionErrorPropagates(t *testing.T) {
	errBoom := errors.New("boom")
	clock := clockwork.NewFakeClock()
	trig := New(func(string) error { return errBoom }, WithClock(clock))

	ok, err := trig.Attempt("x")
	assert.True(t, ok)
	assert.ErrorIs(t, err, errBoom)

	// A failed action still counts as accepted.
	ok, err = trig.Attempt("y")
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestAttempt_PanicReleasesTrigger(t *testing.T) {
	clock := clockwork.NewFakeClock()
	trig := New(func(s string) error {
		if s == "panic" {
			panic("handler blew up")
		}
		return nil
	}, WithClock(clock))

	assert.PanicsWithValue(t, "handler blew up", func() {
		_, _ = trig.Attempt("panic")
	})

	clock.Advance(DefaultInterval + time.Millisecond)
	assert.Equal(t, Idle, trig.State())

	ok, err := trig.Attempt("calm")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAttempt_ConcurrentBurstFiresOnce(t *testing.T) {
	for _, stamp := range []StampMode{StampAfterAction, StampAtDecision} {
		t.Run(stamp.String(), func(t *testing.T) {
			var calls atomic.Int32
			trig := New(func(int) error {
				calls.Add(1)
				return nil
			}, WithClock(clockwork.NewFakeClock()), WithStampMode(stamp))

			const n = 64
			var (
				wg       sync.WaitGroup
				start    = make(chan struct{})
				accepted atomic.Int32
			)
			for i := range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					if ok, _ := trig.Attempt(i); ok {
						accepted.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, int32(1), calls.Load())
			assert.Equal(t, int32(1), accepted.Load())
			assert.Equal(t, uint64(n-1), trig.Stats().Dropped)
		})
	}
}

func TestAttempt_InFlightAction(t *testing.T) {
	tests := []struct {
		stamp        StampMode
		wantAccepted bool
	}{
		// Window runs from completion, so the running action keeps it closed.
		{StampAfterAction, false},
		// Window runs from the decision, which has already expired.
		{StampAtDecision, true},
	}

	for _, tt := range tests {
		t.Run(tt.stamp.String(), func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			started := make(chan struct{})
			unblock := make(chan struct{})
			trig := New(func(s string) error {
				if s == "slow" {
					close(started)
					<-unblock
				}
				return nil
			}, WithClock(clock), WithStampMode(tt.stamp))

			done := make(chan struct{})
			go func() {
				defer close(done)
				_, _ = trig.Attempt("slow")
			}()
			<-started

			clock.Advance(time.Second)
			ok, err := trig.Attempt("fast")
			require.NoError(t, err)
			assert.Equal(t, tt.wantAccepted, ok)

			close(unblock)
			<-done
		})
	}
}

func TestState(t *testing.T) {
	trig, clock, _ := newTestTrigger(t)

	assert.Equal(t, Idle, trig.State())

	_, _ = trig.Attempt("x")
	assert.Equal(t, Cooling, trig.State())

	clock.Advance(DefaultInterval)
	assert.Equal(t, Cooling, trig.State())

	clock.Advance(time.Nanosecond)
	assert.Equal(t, Idle, trig.State())
}

func TestWrap(t *testing.T) {
	var calls int
	fn := Wrap(func(string) { calls++ }, time.Hour)

	fn("a")
	fn("b")
	fn("c")

	assert.Equal(t, 1, calls)
}

func TestWrap_DefaultInterval(t *testing.T) {
	var got []string
	fn := Wrap(func(s string) { got = append(got, s) }, 0)
	fn("a")
	fn("b")
	assert.Equal(t, []string{"a"}, got)
}

func TestNew_Defaults(t *testing.T) {
	trig := New(func(string) error { return nil }, WithInterval(-time.Second))
	assert.Equal(t, DefaultInterval, trig.Interval())
	assert.Equal(t, StampAfterAction, trig.stamp)
	assert.Equal(t, WindowFixed, trig.window)
}

func TestParseModes(t *testing.T) {
	stamp, err := ParseStampMode("")
	require.NoError(t, err)
	assert.Equal(t, StampAfterAction, stamp)

	stamp, err = ParseStampMode("decision")
	require.NoError(t, err)
	assert.Equal(t, StampAtDecision, stamp)

	_, err = ParseStampMode("whenever")
	assert.Error(t, err)

	window, err := ParseWindowMode("sliding")
	require.NoError(t, err)
	assert.Equal(t, WindowSliding, window)

	_, err = ParseWindowMode("tumbling")
	assert.Error(t, err)
}
