// Package metrics exposes the autopilot counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements the coordinator's counter sink on a Prometheus counter
// vector labelled by event name, plus a gauge of active monitors.
type Metrics struct {
	Events           *prometheus.CounterVec
	ActiveExecutions prometheus.Gauge
}

// New registers the metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "desktop_agent_autopilot_events_total",
			Help: "Autopilot validations, executions, deviations and safe-fail trips",
		}, []string{"event"}),
		ActiveExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "desktop_agent_active_executions",
			Help: "Number of executions currently monitored",
		}),
	}
}

// IncrementCounter adds amount to the named event counter. Non-positive
// amounts are ignored.
func (m *Metrics) IncrementCounter(name string, amount int) {
	if m == nil || m.Events == nil || amount <= 0 {
		return
	}
	m.Events.WithLabelValues(name).Add(float64(amount))
}

// SetActiveExecutions records the number of active monitors.
func (m *Metrics) SetActiveExecutions(n int) {
	if m == nil || m.ActiveExecutions == nil {
		return
	}
	m.ActiveExecutions.Set(float64(n))
}
