// internal/source/source_test.go
package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/colebrumley/tapguard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_TemplateData(t *testing.T) {
	ev := NewEvent("save", "manual", map[string]any{"file_path": "/tmp/a", "rule": "custom", "attempt_id": "forged"})
	data := ev.TemplateData()

	assert.Equal(t, "/tmp/a", data["file_path"])
	assert.Equal(t, "manual", data["event_type"])
	assert.Equal(t, ev.ID, data["attempt_id"])
	assert.Equal(t, "save", data["rule"], "built-ins win over source data")
	assert.Equal(t, ev.Timestamp.Format(time.RFC3339), data["timestamp"])
	_, mutated := ev.Data["event_type"]
	assert.False(t, mutated)
}

func TestEvent_DataJSON(t *testing.T) {
	assert.Equal(t, "{}", NewEvent("r", "manual", nil).DataJSON())
	assert.Equal(t, `{"a":1}`, NewEvent("r", "manual", map[string]any{"a": 1}).DataJSON())
	assert.Equal(t, "{}", NewEvent("r", "manual", map[string]any{"ch": make(chan int)}).DataJSON())
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	assert.NotEqual(t, NewEvent("r", "manual", nil).ID, NewEvent("r", "manual", nil).ID)
}

func TestManual_Fire(t *testing.T) {
	m := NewManual("r")
	events := make(chan Event, 1)

	assert.True(t, m.Fire(events, map[string]any{"k": "v"}))
	assert.False(t, m.Fire(events, nil), "full channel")

	ev := <-events
	assert.Equal(t, "manual", ev.Type)
	assert.Equal(t, "v", ev.Data["k"])
}

func TestLifecycle_Fire(t *testing.T) {
	l, err := NewLifecycle("r", config.Source{Type: "lifecycle", OnEvents: []string{DaemonStarted}})
	require.NoError(t, err)
	events := make(chan Event, 2)

	assert.True(t, l.ShouldFireOn(DaemonStarted))
	assert.False(t, l.ShouldFireOn(DaemonStopped))
	assert.False(t, l.Fire(DaemonStopped, events))
	assert.True(t, l.Fire(DaemonStarted, events))
	assert.Equal(t, DaemonStarted, (<-events).Type)
}

func TestBlockingSources_StopOnCancel(t *testing.T) {
	lc, _ := NewLifecycle("r", config.Source{})
	wh, _ := NewWebhook("r", config.Source{})
	for _, src := range []Source{NewManual("r"), lc, wh} {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- src.Start(ctx, make(chan Event)) }()
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatalf("%T did not return after cancel", src)
		}
		assert.NoError(t, src.Stop())
	}
}

func TestExpandHomeForUser(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "docs"), expandHomeForUser("~/docs", ""))
	assert.Equal(t, home, expandHomeForUser("~", ""))
	assert.Equal(t, "/abs/path", expandHomeForUser("/abs/path", ""))
	assert.Equal(t, "~other/x", expandHomeForUser("~other/x", ""))
	assert.Equal(t, filepath.Join(home, "x"), expandHomeForUser("~/x", "no-such-user-tapguard"))
}

func TestIgnored(t *testing.T) {
	patterns := []string{"*.tmp", ".DS_Store"}
	assert.True(t, ignored("/a/b/file.tmp", patterns))
	assert.True(t, ignored("/a/.DS_Store", patterns))
	assert.False(t, ignored("/a/file.txt", patterns))
	assert.False(t, ignored("/a/file.tmp", nil))
}
