// Package domain defines the core domain models for the autopilot layer.
package domain

// ViolationKind classifies a policy rejection.
type ViolationKind string

const (
	ViolationDomain     ViolationKind = "domain"
	ViolationSignature  ViolationKind = "signature"
	ViolationCapability ViolationKind = "capability"
	ViolationRisk       ViolationKind = "risk"
	ViolationWindow     ViolationKind = "window"
	// ViolationRule is a block from the operator's rego rules.
	ViolationRule       ViolationKind = "rule"
)

// Decision reasons reported by PolicyDecision.Reason.
const (
	ReasonDomain       = "domain"
	ReasonWindow       = "window"
	ReasonWindowFormat = "window_format"
	ReasonSignature    = "signature"
	ReasonCapability   = "capability"
	ReasonRisk         = "risk"
)

// DeviationType represents the kind of a detected deviation.
type DeviationType string

const (
	DeviationUnexpectedStep DeviationType = "unexpected_step"
	DeviationSequence       DeviationType = "sequence_deviation"
	DeviationStepTimeout    DeviationType = "step_timeout"
	DeviationRiskEscalation DeviationType = "risk_escalation"
	DeviationDomain         DeviationType = "domain_deviation"
)

// Severity grades a deviation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// ExecutionState is the state of an execution monitor.
type ExecutionState string

const (
	ExecutionStateInitialized ExecutionState = "INITIALIZED"
	ExecutionStateExecuting   ExecutionState = "EXECUTING"
	ExecutionStateCompleted   ExecutionState = "COMPLETED"
	ExecutionStateFailed      ExecutionState = "FAILED"
	ExecutionStateBlocked     ExecutionState = "BLOCKED"
)

// StepStatus represents the status of a single step execution.
type StepStatus string

const (
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
)

// StepPhase is the lifecycle event reported by a runner for a step.
type StepPhase string

const (
	StepPhaseStart   StepPhase = "start"
	StepPhaseSuccess StepPhase = "success"
	StepPhaseFailure StepPhase = "failure"
)

// TrustLevel classifies the key that signed a template.
type TrustLevel string

const (
	TrustSystem      TrustLevel = "system"
	TrustCommercial  TrustLevel = "commercial"
	TrustDevelopment TrustLevel = "development"
	TrustCommunity   TrustLevel = "community"
	TrustUnknown     TrustLevel = "unknown"
)

// ExecutionStatus represents the persisted status of an execution.
type ExecutionStatus string

const (
	ExecutionStatusValidated      ExecutionStatus = "VALIDATED"
	ExecutionStatusBlocked        ExecutionStatus = "BLOCKED"
	ExecutionStatusRunning        ExecutionStatus = "RUNNING"
	ExecutionStatusPausedSafeFail ExecutionStatus = "PAUSED_SAFE_FAIL"
	ExecutionStatusDone           ExecutionStatus = "DONE"
	ExecutionStatusFailed         ExecutionStatus = "FAILED"
	ExecutionStatusCancelled      ExecutionStatus = "CANCELLED"
)

// EventType represents the type of an audit event.
type EventType string

const (
	EventTypePolicyDecision     EventType = "policy_decision"
	EventTypeExecutionStarted   EventType = "execution_started"
	EventTypeStepStarted        EventType = "step_started"
	EventTypeStepSucceeded      EventType = "step_succeeded"
	EventTypeStepFailed         EventType = "step_failed"
	EventTypeDeviationDetected  EventType = "deviation_detected"
	EventTypeSafeFail           EventType = "safe_fail"
	EventTypeApprovalRequired   EventType = "approval_required"
	EventTypeApprovalDecision   EventType = "approval_decision"
	EventTypeExecutionResumed   EventType = "execution_resumed"
	EventTypeExecutionFinalized EventType = "execution_finalized"
)

// ApprovalStatus represents the status of a resume approval.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
	ApprovalStatusExpired  ApprovalStatus = "EXPIRED"
)
