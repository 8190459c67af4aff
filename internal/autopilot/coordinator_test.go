package autopilot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/deviation"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/policy"
)

var saturdayNoon = time.Date(2024, 8, 17, 12, 0, 0, 0, time.FixedZone("JST", 9*60*60))

type recordingCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingCounter() *recordingCounter {
	return &recordingCounter{counts: make(map[string]int)}
}

func (r *recordingCounter) IncrementCounter(name string, amount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name] += amount
}

func (r *recordingCounter) get(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

type faultyValidator struct {
	err   error
	panic bool
}

func (f faultyValidator) ValidateExecution(domain.TemplateManifest, time.Time) (domain.PolicyDecision, error) {
	if f.panic {
		panic("boom")
	}
	return domain.PolicyDecision{Allowed: true, Autopilot: true}, f.err
}

type staticRules struct {
	action, reason string
	err            error
}

func (s staticRules) Evaluate(context.Context, domain.TemplateManifest, time.Time) (string, string, error) {
	return s.action, s.reason, s.err
}

func testPolicy() domain.PolicyConfig {
	return domain.PolicyConfig{
		AllowDomains:           []string{"partner.example.com"},
		AllowRisks:             []string{"sends", "reads"},
		RequireCapabilities:    []string{"webx"},
		RequireSignedTemplates: true,
		Window:                 "SAT 11:00-13:00 Asia/Tokyo",
		Autopilot:              true,
	}
}

func goodManifest() domain.TemplateManifest {
	return domain.TemplateManifest{
		Name:                 "weekly-report",
		RequiredCapabilities: []string{"webx"},
		RiskFlags:            []string{"sends"},
		WebxURLs:             []string{"https://partner.example.com/form"},
		SignatureVerified:    true,
		TrustLevel:           domain.TrustCommercial,
	}
}

func newCoordinator(t *testing.T, enabled bool, opts ...Option) (*Coordinator, *recordingCounter) {
	t.Helper()
	counter := newRecordingCounter()
	opts = append([]Option{WithMetrics(counter)}, opts...)
	c := New(policy.NewEngine(testPolicy()), Config{Enabled: enabled, Deviation: deviation.DefaultConfig()}, opts...)
	return c, counter
}

func TestValidateExecutionAllowed(t *testing.T) {
	c, counter := newCoordinator(t, true)

	d := c.ValidateExecution(context.Background(), goodManifest(), saturdayNoon)
	assert.True(t, d.Allowed)
	assert.True(t, d.AutopilotEnabled)
	assert.True(t, d.DeviationMonitoring)
	assert.Empty(t, d.PolicyViolations)
	assert.NotEmpty(t, d.ExecutionID)
	assert.Equal(t, 1, counter.get(MetricAllowed))
	assert.Equal(t, 1, counter.get(MetricAutopilotEnabled))
}

func TestValidateExecutionGlobalSwitchOff(t *testing.T) {
	c, _ := newCoordinator(t, false)

	d := c.ValidateExecution(context.Background(), goodManifest(), saturdayNoon)
	assert.True(t, d.Allowed)
	assert.False(t, d.AutopilotEnabled)
}

func TestValidateExecutionPolicyAutopilotOff(t *testing.T) {
	cfg := testPolicy()
	cfg.Autopilot = false
	c := New(policy.NewEngine(cfg), Config{Enabled: true, Deviation: deviation.DefaultConfig()})

	d := c.ValidateExecution(context.Background(), goodManifest(), saturdayNoon)
	assert.True(t, d.Allowed)
	assert.False(t, d.AutopilotEnabled)
}

func TestValidateExecutionViolation(t *testing.T) {
	c, counter := newCoordinator(t, true)
	m := goodManifest()
	m.WebxURLs = []string{"https://evil.example.com"}

	d := c.ValidateExecution(context.Background(), m, saturdayNoon)
	assert.False(t, d.Allowed)
	assert.False(t, d.AutopilotEnabled)
	require.Len(t, d.PolicyViolations, 1)
	assert.Equal(t, domain.ViolationDomain, d.PolicyViolations[0].Kind)
	assert.NotEmpty(t, d.PolicyViolations[0].SuggestedAction)
	assert.Equal(t, 1, counter.get(MetricPolicyBlocks))
}

func TestValidateExecutionFailsClosed(t *testing.T) {
	tests := []struct {
		name      string
		validator Validator
		opts      []Option
	}{
		{name: "validator error", validator: faultyValidator{err: errors.New("disk on fire")}},
		{name: "validator panic", validator: faultyValidator{panic: true}},
		{name: "rule error", validator: faultyValidator{}, opts: []Option{WithRules(staticRules{err: errors.New("rego broke")})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := newRecordingCounter()
			opts := append([]Option{WithMetrics(counter)}, tt.opts...)
			c := New(tt.validator, Config{Enabled: true}, opts...)

			d := c.ValidateExecution(context.Background(), goodManifest(), saturdayNoon)
			assert.False(t, d.Allowed)
			assert.False(t, d.AutopilotEnabled)
			assert.False(t, d.DeviationMonitoring)
			require.Len(t, d.Warnings, 1)
			assert.Contains(t, d.Warnings[0], "internal error")
			assert.Equal(t, 1, counter.get(MetricInternalErrors))
		})
	}
}

func TestValidateExecutionRules(t *testing.T) {
	t.Run("block", func(t *testing.T) {
		c, _ := newCoordinator(t, true, WithRules(staticRules{action: policy.RuleBlock, reason: "no"}))
		d := c.ValidateExecution(context.Background(), goodManifest(), saturdayNoon)
		assert.False(t, d.Allowed)
		require.Len(t, d.PolicyViolations, 1)
		assert.Equal(t, domain.ViolationRule, d.PolicyViolations[0].Kind)
	})

	t.Run("require approval", func(t *testing.T) {
		c, _ := newCoordinator(t, true, WithRules(staticRules{action: policy.RuleRequireApproval, reason: "community signer"}))
		d := c.ValidateExecution(context.Background(), goodManifest(), saturdayNoon)
		assert.True(t, d.Allowed)
		assert.False(t, d.AutopilotEnabled)
		assert.Contains(t, d.Warnings, "autopilot disabled by rule: community signer")
	})

	t.Run("allow", func(t *testing.T) {
		c, _ := newCoordinator(t, true, WithRules(staticRules{action: policy.RuleAllow}))
		d := c.ValidateExecution(context.Background(), goodManifest(), saturdayNoon)
		assert.True(t, d.AutopilotEnabled)
	})
}

func TestMonitorLifecycle(t *testing.T) {
	c, counter := newCoordinator(t, true)
	m := goodManifest()

	mon, err := c.StartExecutionMonitoring("exec-1", []string{"open_browser", "fill_by_label"}, &m)
	require.NoError(t, err)

	_, err = c.StartExecutionMonitoring("exec-1", nil, nil)
	assert.ErrorIs(t, err, ErrExecutionExists)

	got, ok := c.GetExecutionMonitor("exec-1")
	require.True(t, ok)
	assert.Same(t, mon, got)

	snap, summary, err := c.FinalizeExecution("exec-1", true)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStateCompleted, snap.State)
	assert.Zero(t, summary.Total)

	_, ok = c.GetExecutionMonitor("exec-1")
	assert.False(t, ok)

	_, _, err = c.FinalizeExecution("exec-1", true)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
	assert.Equal(t, 1, counter.get(MetricExecutionsStarted))
	assert.Equal(t, 1, counter.get(MetricExecutionsComplete))
}

func TestCheckExecutionSafetyTripsAndResumes(t *testing.T) {
	cfg := deviation.DefaultConfig()
	cfg.MaxDeviations = 2
	counter := newRecordingCounter()
	c := New(policy.NewEngine(testPolicy()), Config{Enabled: true, Deviation: cfg}, WithMetrics(counter))
	m := goodManifest()

	_, err := c.StartExecutionMonitoring("exec-2", []string{"a", "b", "c"}, &m)
	require.NoError(t, err)
	mon, _ := c.GetExecutionMonitor("exec-2")

	t0 := saturdayNoon
	require.NoError(t, mon.RecordStepStart(0, "a", nil, "", t0))
	require.NoError(t, mon.RecordStepSuccess(0, t0.Add(time.Second)))

	v, err := c.CheckExecutionSafety("exec-2", t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, v.Safe())
	assert.NoError(t, v.Err())

	require.NoError(t, mon.RecordStepStart(1, "x", nil, "", t0.Add(2*time.Second)))
	require.NoError(t, mon.RecordStepSuccess(1, t0.Add(3*time.Second)))
	v, err = c.CheckExecutionSafety("exec-2", t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.True(t, v.Safe())
	require.Len(t, v.Detected, 1)
	assert.Empty(t, v.Deviations)

	// Repeating the check does not double count.
	v, err = c.CheckExecutionSafety("exec-2", t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.True(t, v.Safe())
	assert.Empty(t, v.Detected)

	require.NoError(t, mon.RecordStepStart(2, "y", nil, "", t0.Add(4*time.Second)))
	v, err = c.CheckExecutionSafety("exec-2", t0.Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, SafeFail, v.Action)
	assert.Len(t, v.Detected, 1)
	assert.Len(t, v.Deviations, 2)
	assert.Equal(t, domain.ExecutionStateBlocked, mon.State())

	var sfe *SafeFailError
	require.ErrorAs(t, v.Err(), &sfe)
	assert.Equal(t, "exec-2", sfe.ExecutionID)
	assert.Equal(t, 1, counter.get(MetricSafeFails))
	assert.Equal(t, 2, counter.get(MetricDeviations))

	// Still blocked: the verdict repeats but the trip is counted once.
	v, err = c.CheckExecutionSafety("exec-2", t0.Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, SafeFail, v.Action)
	assert.Equal(t, 1, counter.get(MetricSafeFails))

	require.NoError(t, c.ResumeExecution("exec-2"))
	assert.Equal(t, domain.ExecutionStateExecuting, mon.State())
	v, err = c.CheckExecutionSafety("exec-2", t0.Add(5*time.Second))
	require.NoError(t, err)
	assert.True(t, v.Safe())

	_, summary, err := c.FinalizeExecution("exec-2", false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, counter.get(MetricExecutionsFailed))
}

func TestCheckExecutionSafetyUnknown(t *testing.T) {
	c, _ := newCoordinator(t, true)
	_, err := c.CheckExecutionSafety("missing", saturdayNoon)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
	assert.ErrorIs(t, c.ResumeExecution("missing"), ErrExecutionNotFound)
}

func TestConcurrentMonitoring(t *testing.T) {
	c, _ := newCoordinator(t, true)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			mon, err := c.StartExecutionMonitoring(id, []string{"s"}, nil)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, mon.RecordStepStart(0, "s", nil, "", saturdayNoon))
			_, err = c.CheckExecutionSafety(id, saturdayNoon)
			assert.NoError(t, err)
			_, _, err = c.FinalizeExecution(id, true)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Zero(t, c.Registry().Len())
}

func TestCheckExecutionSafetyAfterCompletion(t *testing.T) {
	cfg := deviation.DefaultConfig()
	cfg.MaxDeviations = 1
	counter := newRecordingCounter()
	c := New(policy.NewEngine(testPolicy()), Config{Enabled: true, Deviation: cfg}, WithMetrics(counter))

	mon, err := c.StartExecutionMonitoring("exec-3", []string{"a"}, nil)
	require.NoError(t, err)
	require.NoError(t, mon.RecordStepStart(0, "a", nil, "", saturdayNoon))
	require.NoError(t, mon.RecordStepSuccess(0, saturdayNoon.Add(time.Minute)))
	require.Equal(t, domain.ExecutionStateCompleted, mon.State())

	v, err := c.CheckExecutionSafety("exec-3", saturdayNoon.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, v.Safe())
	require.Len(t, v.Detected, 1)
	assert.Equal(t, domain.DeviationStepTimeout, v.Detected[0].Type)
	assert.Equal(t, domain.ExecutionStateCompleted, mon.State())
	assert.Zero(t, counter.get(MetricSafeFails))
}
