package domain

import (
	"encoding/json"
	"time"
)

// Execution is the persisted record of one plan run.
type Execution struct {
	ExecutionID      string            `json:"execution_id"`
	TemplateName     string            `json:"template_name,omitempty"`
	Status           ExecutionStatus   `json:"status"`
	AutopilotEnabled bool              `json:"autopilot_enabled"`
	ExpectedSteps    []string          `json:"expected_steps,omitempty"`
	Manifest         *TemplateManifest `json:"manifest,omitempty"`
	Decision         json.RawMessage   `json:"decision,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	EndedAt          *time.Time        `json:"ended_at,omitempty"`
}

// Event represents an audit event for replay.
type Event struct {
	EventID     string          `json:"event_id"`
	ExecutionID string          `json:"execution_id"`
	Ts          int64           `json:"ts"` // Unix milliseconds
	Type        EventType       `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Approval is a human-in-the-loop request to resume a paused execution.
type Approval struct {
	ApprovalID  string          `json:"approval_id"`
	ExecutionID string          `json:"execution_id"`
	Status      ApprovalStatus  `json:"status"`
	Deviations  json.RawMessage `json:"deviations,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	DecidedAt   *time.Time      `json:"decided_at,omitempty"`
	DecidedBy   string          `json:"decided_by,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}
