package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/deviation"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

var t0 = time.Date(2024, 8, 17, 3, 0, 0, 0, time.UTC)

func newMonitor(steps ...string) *Monitor {
	return New("exec-1", steps, nil, []string{"sends"}, []string{"partner.example.com"})
}

func TestLifecycleToCompleted(t *testing.T) {
	m := newMonitor("open_browser", "fill_by_label")
	assert.Equal(t, domain.ExecutionStateInitialized, m.State())

	require.NoError(t, m.RecordStepStart(0, "open_browser", nil, "", t0))
	assert.Equal(t, domain.ExecutionStateExecuting, m.State())
	require.NoError(t, m.RecordStepSuccess(0, t0.Add(2*time.Second)))
	assert.Equal(t, domain.ExecutionStateExecuting, m.State())
	assert.InDelta(t, 50.0, m.CompletionPercentage(), 0.001)

	require.NoError(t, m.RecordStepStart(1, "", nil, "", t0.Add(3*time.Second)))
	require.NoError(t, m.RecordStepSuccess(1, t0.Add(4*time.Second)))
	assert.Equal(t, domain.ExecutionStateCompleted, m.State())
	assert.InDelta(t, 100.0, m.CompletionPercentage(), 0.001)

	snap := m.Snapshot()
	require.Len(t, snap.Steps, 2)
	assert.Equal(t, "fill_by_label", snap.Steps[1].StepName)
	assert.Equal(t, int64(2000), snap.Steps[0].DurationMs)
	assert.Equal(t, 1, snap.CurrentStepIndex)
}

func TestFailureFailsExecution(t *testing.T) {
	m := newMonitor("a", "b")
	require.NoError(t, m.RecordStepStart(0, "a", nil, "", t0))
	require.NoError(t, m.RecordStepFailure(0, "element not found", t0.Add(time.Second)))

	assert.Equal(t, domain.ExecutionStateFailed, m.State())
	assert.Equal(t, "element not found", m.Snapshot().Steps[0].ErrorMessage)

	err := m.RecordStepStart(1, "b", nil, "", t0.Add(2*time.Second))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUnknownStep(t *testing.T) {
	m := newMonitor("a")
	require.NoError(t, m.RecordStepStart(0, "a", nil, "", t0))
	assert.ErrorIs(t, m.RecordStepSuccess(3, t0), ErrUnknownStep)
}

func TestBlockAndResume(t *testing.T) {
	m := newMonitor("a", "b")
	require.NoError(t, m.RecordStepStart(0, "a", nil, "", t0))

	require.NoError(t, m.Block())
	require.NoError(t, m.Block())
	assert.Equal(t, domain.ExecutionStateBlocked, m.State())
	assert.ErrorIs(t, m.RecordStepStart(1, "b", nil, "", t0), ErrInvalidTransition)

	// A step already in flight may still report its result.
	require.NoError(t, m.RecordStepSuccess(0, t0.Add(time.Second)))
	assert.Equal(t, domain.ExecutionStateBlocked, m.State())

	require.NoError(t, m.Resume())
	assert.Equal(t, domain.ExecutionStateExecuting, m.State())
	assert.ErrorIs(t, m.Resume(), ErrInvalidTransition)
}

func TestComplete(t *testing.T) {
	m := newMonitor("a", "b")
	assert.Equal(t, domain.ExecutionStateFailed, m.Complete(false))
	assert.Equal(t, domain.ExecutionStateFailed, m.Complete(true))
	assert.ErrorIs(t, m.Block(), ErrInvalidTransition)

	m = newMonitor()
	assert.Equal(t, domain.ExecutionStateCompleted, m.Complete(true))
}

func TestCompleteWhileBlockedFails(t *testing.T) {
	m := newMonitor("a", "b")
	require.NoError(t, m.RecordStepStart(0, "a", nil, "", t0))
	require.NoError(t, m.Block())
	assert.Equal(t, domain.ExecutionStateFailed, m.Complete(true))
	assert.Equal(t, domain.ExecutionStateFailed, m.State())
}

func TestCheckDeviationsNormalizesStepDomain(t *testing.T) {
	m := newMonitor("a", "b")
	require.NoError(t, m.RecordStepStart(0, "a", nil, "Partner.Example.com", t0))
	require.NoError(t, m.RecordStepSuccess(0, t0.Add(time.Second)))
	require.NoError(t, m.RecordStepStart(1, "b", nil, "https://partner.example.com/form", t0.Add(2*time.Second)))

	assert.Empty(t, m.CheckDeviations(t0.Add(3*time.Second)))
}

func TestCompletionWithNoExpectedSteps(t *testing.T) {
	assert.InDelta(t, 100.0, newMonitor().CompletionPercentage(), 0.001)
}

func TestCheckDeviations(t *testing.T) {
	d := deviation.NewDetector(deviation.DefaultConfig())
	m := New("exec-2", []string{"open_browser", "fill_by_label"}, d, []string{"sends"}, []string{"partner.example.com"})

	require.NoError(t, m.RecordStepStart(0, "open_browser", nil, "partner.example.com", t0))
	require.NoError(t, m.RecordStepSuccess(0, t0.Add(time.Second)))
	require.NoError(t, m.RecordStepStart(1, "navigate_to", []string{"sends", "deletes"}, "evil.example.com", t0.Add(2*time.Second)))

	devs := m.CheckDeviations(t0.Add(40 * time.Second))

	byType := make(map[domain.DeviationType]domain.Deviation)
	for _, dev := range devs {
		byType[dev.Type] = dev
	}
	require.Contains(t, byType, domain.DeviationUnexpectedStep)
	assert.Equal(t, "navigate_to", byType[domain.DeviationUnexpectedStep].StepName)

	require.Contains(t, byType, domain.DeviationStepTimeout)
	assert.InDelta(t, 38.0, byType[domain.DeviationStepTimeout].DurationSeconds, 0.001)

	require.Contains(t, byType, domain.DeviationRiskEscalation)
	assert.Equal(t, []string{"deletes"}, byType[domain.DeviationRiskEscalation].EscalatedRisks)
	assert.Equal(t, domain.SeverityCritical, byType[domain.DeviationRiskEscalation].Severity)

	require.Contains(t, byType, domain.DeviationDomain)
	assert.Equal(t, "evil.example.com", byType[domain.DeviationDomain].Domain)

	assert.Zero(t, d.Count(), "checking must not record")
}

func TestCheckDeviationsCleanRun(t *testing.T) {
	m := newMonitor("a", "b")
	require.NoError(t, m.RecordStepStart(0, "a", []string{"sends"}, "partner.example.com", t0))
	require.NoError(t, m.RecordStepSuccess(0, t0.Add(time.Second)))
	require.NoError(t, m.RecordStepStart(1, "b", nil, "", t0.Add(2*time.Second)))

	assert.Empty(t, m.CheckDeviations(t0.Add(10*time.Second)))
}

func TestSnapshotIsACopy(t *testing.T) {
	m := newMonitor("a")
	require.NoError(t, m.RecordStepStart(0, "a", []string{"sends"}, "", t0))
	snap := m.Snapshot()
	snap.Steps[0].Risks[0] = "deletes"
	snap.ExpectedSteps[0] = "z"

	again := m.Snapshot()
	assert.Equal(t, "sends", again.Steps[0].Risks[0])
	assert.Equal(t, "a", again.ExpectedSteps[0])
}
