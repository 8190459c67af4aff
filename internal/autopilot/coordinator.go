// Package autopilot composes the policy engine, deviation detection and
// execution monitoring into allow/deny decisions and a safe-fail breaker.
package autopilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/deviation"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/monitor"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/policy"
)

// Counter names reported through the metrics sink.
const (
	MetricValidations        = "autopilot_validations"
	MetricAllowed            = "autopilot_allowed"
	MetricAutopilotEnabled   = "autopilot_enabled"
	MetricPolicyBlocks       = "policy_blocks"
	MetricInternalErrors     = "policy_internal_errors"
	MetricExecutionsStarted  = "executions_started"
	MetricExecutionsComplete = "executions_completed"
	MetricExecutionsFailed   = "executions_failed"
	MetricDeviations         = "deviations_detected"
	MetricSafeFails          = "safe_fail_triggers"
	MetricExecutionsResumed  = "executions_resumed"
)

// Validator is the authoritative policy gate. *policy.Engine implements it.
type Validator interface {
	ValidateExecution(m domain.TemplateManifest, now time.Time) (domain.PolicyDecision, error)
}

// RuleGate narrows an allowed decision. *policy.Rules implements it.
type RuleGate interface {
	Evaluate(ctx context.Context, m domain.TemplateManifest, now time.Time) (action, reason string, err error)
}

// Counter is the metrics sink.
type Counter interface {
	IncrementCounter(name string, amount int)
}

type nopCounter struct{}

func (nopCounter) IncrementCounter(string, int) {}

// Config controls the coordinator.
type Config struct {
	// Enabled is the global autopilot switch.
	Enabled   bool
	Deviation deviation.Config
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRules adds a rule gate evaluated after the policy checks pass.
func WithRules(r RuleGate) Option {
	return func(c *Coordinator) { c.rules = r }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Counter) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithRegistry sets the monitor registry.
func WithRegistry(r *Registry) Option {
	return func(c *Coordinator) { c.registry = r }
}

// Coordinator is the composition root of the autonomy layer.
type Coordinator struct {
	validator Validator
	rules     RuleGate
	metrics   Counter
	registry  *Registry
	logger    *slog.Logger
	cfg       Config
}

// New creates a coordinator.
func New(validator Validator, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		validator: validator,
		metrics:   nopCounter{},
		registry:  NewRegistry(),
		logger:    slog.Default(),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsEnabled reports the global autopilot switch.
func (c *Coordinator) IsEnabled() bool {
	return c.cfg.Enabled
}

// Registry returns the monitor registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// ValidateExecution decides whether a template may run and whether it may run
// unattended. It never returns an allowed decision for an internal fault:
// errors and panics from the validator or the rules deny.
func (c *Coordinator) ValidateExecution(ctx context.Context, m domain.TemplateManifest, now time.Time) (decision domain.AutopilotDecision) {
	executionID := uuid.NewString()
	c.metrics.IncrementCounter(MetricValidations, 1)

	defer func() {
		if r := recover(); r != nil {
			decision = c.failClosed(executionID, m, fmt.Errorf("panic: %v", r))
		}
	}()

	pd, err := c.validator.ValidateExecution(m, now)
	if err != nil {
		var v *policy.Violation
		if errors.As(err, &v) {
			return c.block(executionID, m, v.Info(), pd.Warnings)
		}
		return c.failClosed(executionID, m, err)
	}
	if !pd.Allowed {
		return c.failClosed(executionID, m, fmt.Errorf("validator denied without a violation (reason %q)", pd.Reason))
	}

	warnings := append([]string(nil), pd.Warnings...)
	autopilot := c.IsEnabled() && pd.Allowed && pd.Autopilot

	if c.rules != nil {
		action, reason, err := c.rules.Evaluate(ctx, m, now)
		if err != nil {
			return c.failClosed(executionID, m, err)
		}
		switch action {
		case policy.RuleBlock:
			return c.block(executionID, m, domain.PolicyViolation{
				Kind:            domain.ViolationRule,
				Message:         reason,
				SuggestedAction: "review the template against the operator rules",
			}, warnings)
		case policy.RuleRequireApproval:
			if autopilot {
				warnings = append(warnings, fmt.Sprintf("autopilot disabled by rule: %s", reason))
			}
			autopilot = false
		}
	}

	c.metrics.IncrementCounter(MetricAllowed, 1)
	if autopilot {
		c.metrics.IncrementCounter(MetricAutopilotEnabled, 1)
	}
	c.logger.Info("execution allowed",
		"execution_id", executionID, "template", m.Name, "autopilot", autopilot)

	return domain.AutopilotDecision{
		ExecutionID:         executionID,
		Allowed:             true,
		AutopilotEnabled:    autopilot,
		DeviationMonitoring: true,
		Warnings:            warnings,
	}
}

func (c *Coordinator) block(executionID string, m domain.TemplateManifest, v domain.PolicyViolation, warnings []string) domain.AutopilotDecision {
	c.metrics.IncrementCounter(MetricPolicyBlocks, 1)
	c.logger.Info("execution blocked by policy",
		"execution_id", executionID, "template", m.Name, "kind", v.Kind, "message", v.Message)
	return domain.AutopilotDecision{
		ExecutionID:      executionID,
		PolicyViolations: []domain.PolicyViolation{v},
		Warnings:         warnings,
	}
}

func (c *Coordinator) failClosed(executionID string, m domain.TemplateManifest, err error) domain.AutopilotDecision {
	c.metrics.IncrementCounter(MetricInternalErrors, 1)
	c.logger.Error("policy validation failed, denying execution",
		"execution_id", executionID, "template", m.Name, "error", err)
	return domain.AutopilotDecision{
		ExecutionID: executionID,
		Warnings:    []string{fmt.Sprintf("internal error during policy validation: %v", err)},
	}
}

// StartExecutionMonitoring registers a monitor for an execution. The manifest
// is optional; when given, its risk flags and hosts are what steps are
// checked against.
func (c *Coordinator) StartExecutionMonitoring(executionID string, expectedSteps []string, m *domain.TemplateManifest) (*monitor.Monitor, error) {
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}

	var risks, hosts []string
	if m != nil {
		risks = m.RiskFlags
		hosts = policy.ManifestHosts(*m)
	}

	mon := monitor.New(executionID, expectedSteps, deviation.NewDetector(c.cfg.Deviation), risks, hosts)
	if err := c.registry.Add(mon); err != nil {
		return nil, fmt.Errorf("start monitoring %s: %w", executionID, err)
	}

	c.metrics.IncrementCounter(MetricExecutionsStarted, 1)
	c.logger.Info("execution monitoring started", "execution_id", executionID, "expected_steps", len(expectedSteps))
	return mon, nil
}

// GetExecutionMonitor returns the active monitor for an execution.
func (c *Coordinator) GetExecutionMonitor(executionID string) (*monitor.Monitor, bool) {
	return c.registry.Get(executionID)
}

// CheckExecutionSafety records the monitor's current deviations into the
// execution's detector and assesses the threshold. Crossing it blocks the
// monitor and returns a SafeFail verdict.
func (c *Coordinator) CheckExecutionSafety(executionID string, now time.Time) (Verdict, error) {
	mon, ok := c.registry.Get(executionID)
	if !ok {
		return Verdict{}, fmt.Errorf("check safety of %s: %w", executionID, ErrExecutionNotFound)
	}

	detector := mon.Detector()
	added := detector.Record(mon.CheckDeviations(now)...)
	if len(added) > 0 {
		c.metrics.IncrementCounter(MetricDeviations, len(added))
		for _, dev := range added {
			c.logger.Warn("deviation detected",
				"execution_id", executionID, "type", dev.Type, "severity", dev.Severity,
				"step", dev.StepName, "step_index", dev.StepIndex)
		}
	}

	if !detector.AssessSafetyThreshold() {
		return Verdict{ExecutionID: executionID, Action: Continue, Detected: added}, nil
	}

	switch mon.State() {
	case domain.ExecutionStateCompleted, domain.ExecutionStateFailed:
		// Nothing left to pause; the deviations stay on the audit record.
		c.logger.Warn("safety threshold reached after execution ended",
			"execution_id", executionID, "penalty", detector.PenaltyScore())
		return Verdict{ExecutionID: executionID, Action: Continue, Detected: added}, nil
	case domain.ExecutionStateBlocked:
	default:
		if err := mon.Block(); err != nil {
			return Verdict{}, fmt.Errorf("block %s: %w", executionID, err)
		}
		c.metrics.IncrementCounter(MetricSafeFails, 1)
		c.logger.Warn("safe-fail triggered",
			"execution_id", executionID, "penalty", detector.PenaltyScore(), "threshold", detector.Config().MaxDeviations)
	}
	return Verdict{ExecutionID: executionID, Action: SafeFail, Detected: added, Deviations: detector.Deviations()}, nil
}

// ResumeExecution continues a blocked execution after a human approved it.
// Deviations seen so far stop counting toward the threshold.
func (c *Coordinator) ResumeExecution(executionID string) error {
	mon, ok := c.registry.Get(executionID)
	if !ok {
		return fmt.Errorf("resume %s: %w", executionID, ErrExecutionNotFound)
	}
	if err := mon.Resume(); err != nil {
		return fmt.Errorf("resume %s: %w", executionID, err)
	}
	mon.Detector().Acknowledge()

	c.metrics.IncrementCounter(MetricExecutionsResumed, 1)
	c.logger.Info("execution resumed", "execution_id", executionID)
	return nil
}

// FinalizeExecution completes the monitor and removes it from the registry.
// It returns the final snapshot and the deviation summary.
func (c *Coordinator) FinalizeExecution(executionID string, success bool) (domain.MonitorSnapshot, domain.DeviationSummary, error) {
	mon, ok := c.registry.Remove(executionID)
	if !ok {
		return domain.MonitorSnapshot{}, domain.DeviationSummary{}, fmt.Errorf("finalize %s: %w", executionID, ErrExecutionNotFound)
	}

	state := mon.Complete(success)
	if state == domain.ExecutionStateCompleted {
		c.metrics.IncrementCounter(MetricExecutionsComplete, 1)
	} else {
		c.metrics.IncrementCounter(MetricExecutionsFailed, 1)
	}
	c.logger.Info("execution finalized", "execution_id", executionID, "state", state)

	return mon.Snapshot(), mon.Detector().Summary(), nil
}
