package domain

import "time"

// ValidateRequest asks whether a template may run and whether autopilot is permitted.
type ValidateRequest struct {
	TemplateName string           `json:"template_name,omitempty"`
	Manifest     TemplateManifest `json:"manifest"`
}

// EvaluateRequest is the quick policy pre-check input.
type EvaluateRequest struct {
	Domain       string     `json:"domain"`
	Risks        []string   `json:"risks"`
	Capabilities []string   `json:"capabilities"`
	Signed       bool       `json:"signed"`
	Now          *time.Time `json:"now,omitempty"`
}

// StartExecutionRequest registers a monitor for an execution. Manifest is
// optional and must match the manifest the execution was validated with.
type StartExecutionRequest struct {
	ExecutionID   string            `json:"execution_id"`
	TemplateName  string            `json:"template_name,omitempty"`
	ExpectedSteps []string          `json:"expected_steps"`
	Manifest      *TemplateManifest `json:"manifest,omitempty"`
}

// StepEventRequest reports a step lifecycle event from a runner.
type StepEventRequest struct {
	Phase     StepPhase  `json:"phase"`
	StepIndex int        `json:"step_index"`
	StepName  string     `json:"step_name,omitempty"`
	Error     string     `json:"error,omitempty"`
	Risks     []string   `json:"risks,omitempty"`
	Domain    string     `json:"domain,omitempty"`
	At        *time.Time `json:"at,omitempty"`
}

// SafetyResponse reports the outcome of a safety check.
type SafetyResponse struct {
	ExecutionID string      `json:"execution_id"`
	Safe        bool        `json:"safe"`
	ApprovalID  string      `json:"approval_id,omitempty"`
	Deviations  []Deviation `json:"deviations,omitempty"`
}

// StepEventResponse is returned after a step event was recorded.
type StepEventResponse struct {
	ExecutionID string          `json:"execution_id"`
	Snapshot    MonitorSnapshot `json:"snapshot"`
	Safety      *SafetyResponse `json:"safety,omitempty"`
}

// FinalizeRequest closes an execution.
type FinalizeRequest struct {
	Success bool `json:"success"`
}

// ExecutionResponse combines the persisted record and step history with the
// live monitor, if any.
type ExecutionResponse struct {
	Execution *Execution       `json:"execution"`
	Steps     []StepExecution  `json:"steps,omitempty"`
	Monitor   *MonitorSnapshot `json:"monitor,omitempty"`
}

// ApprovalDecisionRequest represents an approval decision.
type ApprovalDecisionRequest struct {
	Decision  string `json:"decision"` // approve or reject
	DecidedBy string `json:"decided_by,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
