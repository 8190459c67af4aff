// Package monitor tracks the step lifecycle of a single execution.
package monitor

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/deviation"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

var (
	// ErrInvalidTransition is returned when an event does not fit the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrUnknownStep is returned when a step completes that never started.
	ErrUnknownStep = errors.New("unknown step")
)

// Monitor is the state machine of one execution. It is safe for concurrent use.
type Monitor struct {
	mu sync.Mutex

	executionID     string
	expected        []string
	expectedRisks   []string
	expectedDomains []string
	detector        *deviation.Detector

	state   domain.ExecutionState
	current int
	steps   []domain.StepExecution
}

// New creates a monitor in the INITIALIZED state. The detector supplies the
// deviation checks and their thresholds; a nil detector gets the defaults.
// expectedRisks and expectedDomains come from the manifest and may be empty.
func New(executionID string, expectedSteps []string, detector *deviation.Detector, expectedRisks, expectedDomains []string) *Monitor {
	if detector == nil {
		detector = deviation.NewDetector(deviation.DefaultConfig())
	}
	return &Monitor{
		executionID:     executionID,
		expected:        slices.Clone(expectedSteps),
		expectedRisks:   slices.Clone(expectedRisks),
		expectedDomains: slices.Clone(expectedDomains),
		detector:        detector,
		state:           domain.ExecutionStateInitialized,
		current:         -1,
	}
}

// ExecutionID returns the execution this monitor tracks.
func (m *Monitor) ExecutionID() string {
	return m.executionID
}

// Detector returns the detector the monitor reports to.
func (m *Monitor) Detector() *deviation.Detector {
	return m.detector
}

// State returns the current state.
func (m *Monitor) State() domain.ExecutionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RecordStepStart appends a running step. The first start moves the monitor
// from INITIALIZED to EXECUTING. An empty name is filled in from the plan.
func (m *Monitor) RecordStepStart(index int, name string, risks []string, host string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case domain.ExecutionStateInitialized:
		m.state = domain.ExecutionStateExecuting
	case domain.ExecutionStateExecuting:
	default:
		return fmt.Errorf("%w: step start while %s", ErrInvalidTransition, m.state)
	}

	if name == "" && index >= 0 && index < len(m.expected) {
		name = m.expected[index]
	}
	m.current = index
	m.steps = append(m.steps, domain.StepExecution{
		ExecutionID: m.executionID,
		StepName:    name,
		StepIndex:   index,
		Status:      domain.StepStatusRunning,
		StartTime:   at,
		Risks:       slices.Clone(risks),
		Domain:      host,
	})
	return nil
}

// RecordStepSuccess closes the running step at index. Success of the last
// expected step completes the execution.
func (m *Monitor) RecordStepSuccess(index int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	step, err := m.finishLocked(index, domain.StepStatusSuccess, "", at)
	if err != nil {
		return err
	}
	if m.state == domain.ExecutionStateExecuting && len(m.expected) > 0 && step.StepIndex == len(m.expected)-1 {
		m.state = domain.ExecutionStateCompleted
	}
	return nil
}

// RecordStepFailure closes the running step at index and fails the execution.
func (m *Monitor) RecordStepFailure(index int, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.finishLocked(index, domain.StepStatusFailed, message, at); err != nil {
		return err
	}
	m.state = domain.ExecutionStateFailed
	return nil
}

func (m *Monitor) finishLocked(index int, status domain.StepStatus, message string, at time.Time) (*domain.StepExecution, error) {
	if m.state != domain.ExecutionStateExecuting && m.state != domain.ExecutionStateBlocked {
		return nil, fmt.Errorf("%w: step %s while %s", ErrInvalidTransition, status, m.state)
	}
	for i := len(m.steps) - 1; i >= 0; i-- {
		s := &m.steps[i]
		if s.StepIndex != index || s.Status != domain.StepStatusRunning {
			continue
		}
		end := at
		s.Status = status
		s.EndTime = &end
		s.DurationMs = at.Sub(s.StartTime).Milliseconds()
		s.ErrorMessage = message
		return s, nil
	}
	return nil, fmt.Errorf("%w: no running step at index %d", ErrUnknownStep, index)
}

// Block stops the execution after a safe-fail. Blocking twice is a no-op.
func (m *Monitor) Block() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case domain.ExecutionStateInitialized, domain.ExecutionStateExecuting:
		m.state = domain.ExecutionStateBlocked
	case domain.ExecutionStateBlocked:
	default:
		return fmt.Errorf("%w: block while %s", ErrInvalidTransition, m.state)
	}
	return nil
}

// Resume continues a blocked execution after a human approved it.
func (m *Monitor) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.ExecutionStateBlocked {
		return fmt.Errorf("%w: resume while %s", ErrInvalidTransition, m.state)
	}
	m.state = domain.ExecutionStateExecuting
	return nil
}

// Complete moves a non-terminal execution to COMPLETED or FAILED and returns
// the final state. Terminal states are kept as they are. A blocked execution
// always ends FAILED.
func (m *Monitor) Complete(success bool) domain.ExecutionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case domain.ExecutionStateCompleted, domain.ExecutionStateFailed:
	case domain.ExecutionStateBlocked:
		m.state = domain.ExecutionStateFailed
	default:
		if success {
			m.state = domain.ExecutionStateCompleted
		} else {
			m.state = domain.ExecutionStateFailed
		}
	}
	return m.state
}

// CompletionPercentage returns successful expected steps over all expected
// steps, times 100. A plan with no expected steps is complete.
func (m *Monitor) CompletionPercentage() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completionLocked()
}

func (m *Monitor) completionLocked() float64 {
	if len(m.expected) == 0 {
		return 100.0
	}
	done := make(map[int]bool)
	for _, s := range m.steps {
		if s.Status == domain.StepStatusSuccess && s.StepIndex >= 0 && s.StepIndex < len(m.expected) {
			done[s.StepIndex] = true
		}
	}
	return float64(len(done)) / float64(len(m.expected)) * 100
}

// CheckDeviations runs every detector check over the steps seen so far and
// returns what it found. Nothing is recorded; the caller decides that.
// Steps still running count toward the timeout check with their elapsed time.
func (m *Monitor) CheckDeviations(now time.Time) []domain.Deviation {
	m.mu.Lock()
	steps := slices.Clone(m.steps)
	m.mu.Unlock()

	actual := make([]string, len(steps))
	for i, s := range steps {
		actual[i] = s.StepName
	}
	devs := m.detector.AnalyzeSequenceDeviation(m.expected, actual, now)

	for _, s := range steps {
		elapsed := time.Duration(s.DurationMs) * time.Millisecond
		if s.Status == domain.StepStatusRunning {
			elapsed = now.Sub(s.StartTime)
		}
		if dev := m.detector.CheckStepTimeout(s.StepName, s.StepIndex, elapsed, now); dev != nil {
			devs = append(devs, *dev)
		}
		if len(s.Risks) > 0 {
			if dev := m.detector.CheckRiskEscalation(s.StepName, s.StepIndex, m.expectedRisks, s.Risks, now); dev != nil {
				devs = append(devs, *dev)
			}
		}
		if dev := m.detector.CheckDomainDeviation(s.StepName, s.StepIndex, m.expectedDomains, s.Domain, now); dev != nil {
			devs = append(devs, *dev)
		}
	}
	return devs
}

// Snapshot returns a copy of the monitor for reporting.
func (m *Monitor) Snapshot() domain.MonitorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	steps := make([]domain.StepExecution, len(m.steps))
	for i, s := range m.steps {
		s.Risks = slices.Clone(s.Risks)
		if s.EndTime != nil {
			end := *s.EndTime
			s.EndTime = &end
		}
		steps[i] = s
	}
	return domain.MonitorSnapshot{
		ExecutionID:          m.executionID,
		State:                m.state,
		ExpectedSteps:        slices.Clone(m.expected),
		CurrentStepIndex:     m.current,
		CompletionPercentage: m.completionLocked(),
		Steps:                steps,
	}
}
