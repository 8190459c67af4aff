package autopilot

import (
	"fmt"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// Action tells the runner what to do after a safety check.
type Action int

const (
	// Continue means the run is within its safety threshold.
	Continue Action = iota
	// SafeFail means the run was blocked and needs a human to resume it.
	SafeFail
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case SafeFail:
		return "safe_fail"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Verdict is the result of CheckExecutionSafety. Detected holds the
// deviations newly recorded by the check. Deviations is only set on SafeFail
// and holds every deviation recorded for the execution.
type Verdict struct {
	ExecutionID string
	Action      Action
	Detected    []domain.Deviation
	Deviations  []domain.Deviation
}

// Safe reports whether the run may continue.
func (v Verdict) Safe() bool {
	return v.Action == Continue
}

// Err returns a *SafeFailError for a SafeFail verdict and nil otherwise.
func (v Verdict) Err() error {
	if v.Action != SafeFail {
		return nil
	}
	return &SafeFailError{ExecutionID: v.ExecutionID, Deviations: v.Deviations}
}

// SafeFailError halts a run whose deviations crossed the safety threshold.
type SafeFailError struct {
	ExecutionID string
	Deviations  []domain.Deviation
}

func (e *SafeFailError) Error() string {
	return fmt.Sprintf("execution %s safe-failed after %d deviations", e.ExecutionID, len(e.Deviations))
}
