// Package redisgate shares a rule's suppression window across daemons
// through Redis, so a burst seen by several hosts fires once in total.
package redisgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps any Redis failure. Callers decide whether to fail open.
var ErrUnavailable = errors.New("shared gate unavailable")

// Gate claims windows with SET NX PX.
type Gate struct {
	rdb    *goredis.Client
	prefix string
}

// New connects to redisURL (e.g. "redis://localhost:6379/0") and pings it.
func New(ctx context.Context, redisURL, prefix string) (*Gate, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Gate{rdb: rdb, prefix: prefix}, nil
}

// Acquire claims key for window. It returns false when another holder's
// window is still open.
func (g *Gate) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	args := goredis.SetArgs{TTL: window, Mode: "NX"}
	_, err := g.rdb.SetArgs(ctx, g.key(key), time.Now().UTC().Format(time.RFC3339Nano), args).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

// Extend sets key's window to run from now. It is used when the window is
// measured from action completion, and re-arms the key even if its first
// claim already expired.
func (g *Gate) Extend(ctx context.Context, key string, window time.Duration) error {
	args := goredis.SetArgs{TTL: window}
	if err := g.rdb.SetArgs(ctx, g.key(key), time.Now().UTC().Format(time.RFC3339Nano), args).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (g *Gate) key(name string) string {
	return g.prefix + "debounce:" + name
}

// Close closes the Redis connection.
func (g *Gate) Close() error {
	return g.rdb.Close()
}
