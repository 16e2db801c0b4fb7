package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TriggerMetrics holds Prometheus metrics for rule triggers.
type TriggerMetrics struct {
	Attempts       *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	Cooling        *prometheus.GaugeVec
	GateErrors     prometheus.Counter
}

// NewTriggerMetrics creates and registers trigger metrics on the given registry.
func NewTriggerMetrics(reg prometheus.Registerer) *TriggerMetrics {
	m := &TriggerMetrics{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "attempts_total",
			Help:      "Total invocation attempts, by rule and outcome.",
		}, []string{"rule", "outcome"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "action_duration_seconds",
			Help:      "Duration of accepted actions in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"rule"}),
		Cooling: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "cooling",
			Help:      "1 while a rule's trigger is inside its suppression window.",
		}, []string{"rule"}),
		GateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "errors_total",
			Help:      "Shared gate errors; the attempt proceeds on local state alone.",
		}),
	}

	reg.MustRegister(m.Attempts, m.ActionDuration, m.Cooling, m.GateErrors)
	return m
}

// ObserveAttempt counts one attempt. duration is only recorded for attempts
// whose action ran.
func (m *TriggerMetrics) ObserveAttempt(rule, outcome string, ran bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(rule, outcome).Inc()
	if ran {
		m.ActionDuration.WithLabelValues(rule).Observe(duration.Seconds())
	}
}

// SetCooling records whether rule is suppressing attempts.
func (m *TriggerMetrics) SetCooling(rule string, cooling bool) {
	if m == nil {
		return
	}
	v := 0.0
	if cooling {
		v = 1
	}
	m.Cooling.WithLabelValues(rule).Set(v)
}

// Forget drops a removed rule's series.
func (m *TriggerMetrics) Forget(rule string) {
	if m == nil {
		return
	}
	m.Attempts.DeletePartialMatch(prometheus.Labels{"rule": rule})
	m.ActionDuration.DeleteLabelValues(rule)
	m.Cooling.DeleteLabelValues(rule)
}
