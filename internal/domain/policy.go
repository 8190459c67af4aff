package domain

import "fmt"

// PolicyConfig holds the authorization rules a template is checked against.
type PolicyConfig struct {
	AllowDomains           []string `json:"allow_domains" yaml:"allow_domains"`
	AllowRisks             []string `json:"allow_risks" yaml:"allow_risks"`
	RequireCapabilities    []string `json:"require_capabilities" yaml:"require_capabilities"`
	RequireSignedTemplates bool     `json:"require_signed_templates" yaml:"require_signed_templates"`
	Window                 string   `json:"window" yaml:"window"`
	Autopilot              bool     `json:"autopilot" yaml:"autopilot"`
	// Rules optionally points at a rego module evaluated after the built-in checks.
	Rules string `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// TemplateManifest is the declared intent of a plan before execution.
type TemplateManifest struct {
	Name                 string     `json:"name,omitempty" yaml:"name,omitempty"`
	RequiredCapabilities []string   `json:"required_capabilities" yaml:"required_capabilities"`
	RiskFlags            []string   `json:"risk_flags" yaml:"risk_flags"`
	WebxURLs             []string   `json:"webx_urls" yaml:"webx_urls"`
	SignatureVerified    bool       `json:"signature_verified" yaml:"signature_verified"`
	TrustLevel           TrustLevel `json:"trust_level,omitempty" yaml:"trust_level,omitempty"`
}

// PolicyDecision is the result of a policy evaluation.
type PolicyDecision struct {
	Allowed   bool     `json:"allowed"`
	Autopilot bool     `json:"autopilot"`
	Reason    string   `json:"reason,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// PolicyViolation describes a typed policy rejection.
type PolicyViolation struct {
	Kind            ViolationKind `json:"kind"`
	Message         string        `json:"message"`
	SuggestedAction string        `json:"suggested_action,omitempty"`
}

// String renders the violation for logs and CLI output.
func (v PolicyViolation) String() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Message)
}

// AutopilotDecision is the outcome handed back to the orchestrator.
type AutopilotDecision struct {
	ExecutionID         string            `json:"execution_id"`
	Allowed             bool              `json:"allowed"`
	AutopilotEnabled    bool              `json:"autopilot_enabled"`
	DeviationMonitoring bool              `json:"deviation_monitoring"`
	PolicyViolations    []PolicyViolation `json:"policy_violations,omitempty"`
	Warnings            []string          `json:"warnings,omitempty"`
}
