package domain

// Plan is a parsed action plan for the local runner.
type Plan struct {
	Name     string     `json:"name" yaml:"name"`
	Manifest string     `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Steps    []PlanStep `json:"steps" yaml:"steps"`
}

// PlanStep is one step of a plan. Risks and Domain describe what the step
// actually touches and are compared against the manifest while it runs.
type PlanStep struct {
	Name   string                 `json:"name" yaml:"name"`
	Action string                 `json:"action" yaml:"action"`
	Args   map[string]interface{} `json:"args,omitempty" yaml:"args,omitempty"`
	Risks  []string               `json:"risks,omitempty" yaml:"risks,omitempty"`
	Domain string                 `json:"domain,omitempty" yaml:"domain,omitempty"`
}

// StepNames returns the expected step sequence of the plan.
func (p Plan) StepNames() []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Name
	}
	return names
}

// PlanResult is the outcome of running a plan locally.
type PlanResult struct {
	ExecutionID string            `json:"execution_id"`
	Decision    AutopilotDecision `json:"decision"`
	Status      ExecutionStatus   `json:"status"`
	StepsRun    int               `json:"steps_run"`
	ApprovalID  string            `json:"approval_id,omitempty"`
	Error       string            `json:"error,omitempty"`
	Deviations  *DeviationSummary `json:"deviations,omitempty"`
}
