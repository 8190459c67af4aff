package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementCounter(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncrementCounter("safe_fail_triggers", 1)
	m.IncrementCounter("deviations_detected", 3)
	m.IncrementCounter("deviations_detected", 2)
	m.IncrementCounter("deviations_detected", 0)

	expected := `
# HELP desktop_agent_autopilot_events_total Autopilot validations, executions, deviations and safe-fail trips
# TYPE desktop_agent_autopilot_events_total counter
desktop_agent_autopilot_events_total{event="deviations_detected"} 5
desktop_agent_autopilot_events_total{event="safe_fail_triggers"} 1
`
	require.NoError(t, testutil.CollectAndCompare(m.Events, strings.NewReader(expected)))
}

func TestActiveExecutions(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetActiveExecutions(4)
	assert.InDelta(t, 4.0, testutil.ToFloat64(m.ActiveExecutions), 0.001)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementCounter("x", 1)
		m.SetActiveExecutions(1)
	})
}
