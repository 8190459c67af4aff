package domain

import "time"

// Deviation is one anomaly detected while a plan runs.
type Deviation struct {
	Type            DeviationType `json:"type"`
	Severity        Severity      `json:"severity"`
	StepName        string        `json:"step_name,omitempty"`
	StepIndex       int           `json:"step_index"`
	DurationSeconds float64       `json:"duration_seconds,omitempty"`
	EscalatedRisks  []string      `json:"escalated_risks,omitempty"`
	Domain          string        `json:"domain,omitempty"`
	Message         string        `json:"message,omitempty"`
	DetectedAt      time.Time     `json:"detected_at"`
}

// DeviationSummary aggregates recorded deviations for audit and telemetry.
type DeviationSummary struct {
	Total            int                   `json:"total"`
	PenaltyScore     int                   `json:"penalty_score"`
	Threshold        int                   `json:"threshold"`
	ThresholdReached bool                  `json:"threshold_reached"`
	BySeverity       map[Severity]int      `json:"by_severity"`
	ByType           map[DeviationType]int `json:"by_type"`
	Recent           []Deviation           `json:"recent"`
}

// StepExecution is the runtime record of one step.
type StepExecution struct {
	ExecutionID  string     `json:"execution_id,omitempty"`
	StepName     string     `json:"step_name"`
	StepIndex    int        `json:"step_index"`
	Status       StepStatus `json:"status"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Risks        []string   `json:"risks,omitempty"`
	Domain       string     `json:"domain,omitempty"`
}

// MonitorSnapshot is a point-in-time copy of an execution monitor.
type MonitorSnapshot struct {
	ExecutionID          string          `json:"execution_id"`
	State                ExecutionState  `json:"state"`
	ExpectedSteps        []string        `json:"expected_steps"`
	CurrentStepIndex     int             `json:"current_step_index"`
	CompletionPercentage float64         `json:"completion_percentage"`
	Steps                []StepExecution `json:"steps"`
}
