package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// Rule actions returned by a rego module.
const (
	RuleAllow           = "allow"
	RuleRequireApproval = "require_approval"
	RuleBlock           = "block"
)

// Rules is an operator-supplied rego module evaluated after the built-in
// checks pass. It can only narrow what the engine allowed.
type Rules struct {
	query rego.PreparedEvalQuery
}

// NewRules prepares the rego module. The module must define
// data.autopilot.decision as either an action string or an object with
// "action" and "reason" keys.
func NewRules(ctx context.Context, module string) (*Rules, error) {
	r := rego.New(
		rego.Query("data.autopilot.decision"),
		rego.Module("autopilot.rego", module),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Rules{query: query}, nil
}

// BuiltinRules is the rules path that selects DefaultRules instead of a file.
const BuiltinRules = "builtin"

// LoadRules reads and prepares a rego module from disk, or DefaultRules when
// path is BuiltinRules.
func LoadRules(ctx context.Context, path string) (*Rules, error) {
	if path == BuiltinRules {
		return NewRules(ctx, DefaultRules)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return NewRules(ctx, string(data))
}

// Evaluate runs the rules for a manifest and returns the action and an
// optional reason. Unknown actions are reported as errors so callers fail
// closed.
func (r *Rules) Evaluate(ctx context.Context, m domain.TemplateManifest, now time.Time) (string, string, error) {
	input, err := ruleInput(m, now)
	if err != nil {
		return "", "", err
	}

	results, err := r.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate rules: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// No default in the module; nothing narrowed the decision.
		return RuleAllow, "", nil
	}

	var action, reason string
	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		action = val
	case map[string]interface{}:
		action, _ = val["action"].(string)
		reason, _ = val["reason"].(string)
	default:
		return "", "", fmt.Errorf("unexpected rule result type %T", val)
	}

	switch action {
	case RuleAllow, RuleRequireApproval, RuleBlock:
		return action, reason, nil
	}
	return "", "", fmt.Errorf("unknown rule action %q", action)
}

func ruleInput(m domain.TemplateManifest, now time.Time) (map[string]interface{}, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	var manifest map[string]interface{}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return map[string]interface{}{
		"manifest": manifest,
		"now":      now.UTC().Format(time.RFC3339),
		"weekday":  now.UTC().Weekday().String(),
	}, nil
}

// DefaultRules blocks destructive templates that are not signed and asks for
// a human when the signer is not trusted.
const DefaultRules = `
package autopilot

import rego.v1

default decision := {"action": "allow", "reason": "default"}

destructive := {"deletes", "overwrites", "system_modify"}

decision := {"action": "block", "reason": "destructive template without verified signature"} if {
	some flag in input.manifest.risk_flags
	flag in destructive
	not input.manifest.signature_verified
} else := {"action": "require_approval", "reason": "template signer is not trusted"} if {
	input.manifest.trust_level in {"community", "unknown"}
}
`
