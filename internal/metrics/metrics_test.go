package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAttempt(t *testing.T) {
	m := NewTriggerMetrics(prometheus.NewRegistry())

	m.ObserveAttempt("save", "success", true, 250*time.Millisecond)
	m.ObserveAttempt("save", "dropped", false, 0)
	m.ObserveAttempt("save", "dropped", false, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues("save", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Attempts.WithLabelValues("save", "dropped")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ActionDuration))
}

func TestSetCoolingAndForget(t *testing.T) {
	m := NewTriggerMetrics(prometheus.NewRegistry())

	m.SetCooling("save", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cooling.WithLabelValues("save")))
	m.SetCooling("save", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Cooling.WithLabelValues("save")))

	m.ObserveAttempt("save", "success", true, time.Millisecond)
	m.Forget("save")
	assert.Equal(t, 0, testutil.CollectAndCount(m.Attempts))
	assert.Equal(t, 0, testutil.CollectAndCount(m.Cooling))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *TriggerMetrics
	assert.NotPanics(t, func() {
		m.ObserveAttempt("r", "success", true, time.Second)
		m.SetCooling("r", true)
		m.Forget("r")
	})
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	m := NewTriggerMetrics(reg)
	m.ObserveAttempt("save", "success", true, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `tapguard_trigger_attempts_total{outcome="success",rule="save"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
