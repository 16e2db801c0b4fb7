package redisgate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	if testRedisURL == "" {
		t.Skip("no redis available")
	}
	g, err := New(context.Background(), testRedisURL, "test:"+t.Name()+":")
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestNew_BadURL(t *testing.T) {
	_, err := New(context.Background(), "not-a-url", "")
	assert.Error(t, err)
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, "redis://127.0.0.1:1/0", "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAcquire_OncePerWindow(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "save", 300*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Acquire(ctx, "save", 300*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.Acquire(ctx, "other", 300*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	require.Eventually(t, func() bool {
		ok, err := g.Acquire(ctx, "save", 300*time.Millisecond)
		return err == nil && ok
	}, 2*time.Second, 50*time.Millisecond)
}

func TestAcquire_ConcurrentSingleWinner(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.Acquire(ctx, "burst", 5*time.Second)
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestExtend(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "slow", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, g.Extend(ctx, "slow", 2*time.Second))

	time.Sleep(300 * time.Millisecond)
	ok, err = g.Acquire(ctx, "slow", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExtend_RearmsExpiredKey(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "long-action", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	// the action outlives the first claim
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, g.Extend(ctx, "long-action", 2*time.Second))

	ok, err = g.Acquire(ctx, "long-action", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "completion re-opens the window even after expiry")
}

func TestAcquire_HeldForLongAction(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	// first host claims for the window plus the action's timeout
	ok, err := g.Acquire(ctx, "held", 300*time.Millisecond+2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// a second host arrives after the bare window has passed
	time.Sleep(500 * time.Millisecond)
	ok, err = g.Acquire(ctx, "held", 300*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "claim still held while the action may be running")
}

func TestAcquire_ClosedClient(t *testing.T) {
	g := newTestGate(t)
	require.NoError(t, g.Close())
	_, err := g.Acquire(context.Background(), "x", time.Second)
	assert.ErrorIs(t, err, ErrUnavailable)
}
