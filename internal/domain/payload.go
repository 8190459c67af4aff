package domain

// PolicyDecisionPayload is the payload for a policy_decision event.
type PolicyDecisionPayload struct {
	TemplateName string            `json:"template_name,omitempty"`
	Decision     AutopilotDecision `json:"decision"`
}

// StepEventPayload is the payload for step_* events.
type StepEventPayload struct {
	StepIndex  int    `json:"step_index"`
	StepName   string `json:"step_name"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SafeFailPayload is the payload for a safe_fail event.
type SafeFailPayload struct {
	ApprovalID string      `json:"approval_id"`
	Deviations []Deviation `json:"deviations"`
}

// ApprovalDecisionPayload is the payload for an approval_decision event.
type ApprovalDecisionPayload struct {
	ApprovalID string         `json:"approval_id"`
	Decision   ApprovalStatus `json:"decision"`
	Reason     string         `json:"reason,omitempty"`
}

// FinalizedPayload is the payload for an execution_finalized event.
type FinalizedPayload struct {
	Success    bool              `json:"success"`
	Status     ExecutionStatus   `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Deviations *DeviationSummary `json:"deviations,omitempty"`
}

// ExecutionStartedPayload is the payload for an execution_started event.
type ExecutionStartedPayload struct {
	ExpectedSteps []string `json:"expected_steps"`
}
