// internal/source/scheduled_test.go
package source

import (
	"context"
	"testing"
	"time"

	"github.com/colebrumley/tapguard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduled_Fires(t *testing.T) {
	src, err := NewScheduled("test-rule", config.Source{
		Type:           "scheduled",
		CronExpression: "* * * * * *",
	})
	require.NoError(t, err)

	events := make(chan Event, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = src.Start(ctx, events) }()
	defer src.Stop()

	select {
	case ev := <-events:
		assert.Equal(t, "test-rule", ev.RuleName)
		assert.Equal(t, "scheduled", ev.Type)
		assert.NotEmpty(t, ev.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for scheduled event")
	}
}

func TestConvertSimpleToCron(t *testing.T) {
	tests := []struct {
		runEvery, runAt string
		want            string
	}{
		{"", "", "0 0 * * * *"},
		{"", "09:30", "0 30 09 * * *"},
		{"30s", "", "*/30 * * * * *"},
		{"15m", "", "0 */15 * * * *"},
		{"6h", "", "0 0 */6 * * *"},
		{"3d", "", "0 0 * * * *"},
		{"15m", "09:30", "0 30 09 * * *"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, convertSimpleToCron(tt.runEvery, tt.runAt), "every=%q at=%q", tt.runEvery, tt.runAt)
	}
}

func TestNewScheduled_SimpleSyntaxParses(t *testing.T) {
	src, err := NewScheduled("r", config.Source{Type: "scheduled", RunAt: "07:05"})
	require.NoError(t, err)
	assert.Equal(t, "0 05 07 * * *", src.Spec())
}
