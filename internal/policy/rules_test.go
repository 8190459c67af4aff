package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

func TestDefaultRules(t *testing.T) {
	ctx := context.Background()
	rules, err := NewRules(ctx, DefaultRules)
	require.NoError(t, err)
	now := time.Date(2024, 8, 17, 3, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		manifest domain.TemplateManifest
		want     string
	}{
		{
			name:     "plain template",
			manifest: domain.TemplateManifest{RiskFlags: []string{"sends"}, SignatureVerified: true, TrustLevel: domain.TrustSystem},
			want:     RuleAllow,
		},
		{
			name:     "unsigned destructive template",
			manifest: domain.TemplateManifest{RiskFlags: []string{"reads", "deletes"}},
			want:     RuleBlock,
		},
		{
			name:     "signed destructive template",
			manifest: domain.TemplateManifest{RiskFlags: []string{"deletes"}, SignatureVerified: true, TrustLevel: domain.TrustCommercial},
			want:     RuleAllow,
		},
		{
			name:     "community signer",
			manifest: domain.TemplateManifest{SignatureVerified: true, TrustLevel: domain.TrustCommunity},
			want:     RuleRequireApproval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, _, err := rules.Evaluate(ctx, tt.manifest, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, action)
		})
	}
}

func TestRulesStringResult(t *testing.T) {
	ctx := context.Background()
	rules, err := NewRules(ctx, `
package autopilot

import rego.v1

default decision := "allow"

decision := "block" if input.weekday == "Saturday"
`)
	require.NoError(t, err)

	action, reason, err := rules.Evaluate(ctx, domain.TemplateManifest{}, time.Date(2024, 8, 17, 3, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, RuleBlock, action)
	assert.Empty(t, reason)
}

func TestRulesUnknownActionIsError(t *testing.T) {
	ctx := context.Background()
	rules, err := NewRules(ctx, `
package autopilot

decision := "maybe"
`)
	require.NoError(t, err)

	_, _, err = rules.Evaluate(ctx, domain.TemplateManifest{}, time.Now())
	assert.Error(t, err)
}

func TestNewRulesRejectsInvalidModule(t *testing.T) {
	_, err := NewRules(context.Background(), "package autopilot\n\ndecision := {")
	assert.Error(t, err)
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.rego")
	require.NoError(t, os.WriteFile(path, []byte(DefaultRules), 0o600))

	rules, err := LoadRules(context.Background(), path)
	require.NoError(t, err)
	assert.NotNil(t, rules)

	_, err = LoadRules(context.Background(), filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)
}

func TestLoadBuiltinRules(t *testing.T) {
	ctx := context.Background()
	rules, err := LoadRules(ctx, BuiltinRules)
	require.NoError(t, err)

	action, reason, err := rules.Evaluate(ctx, domain.TemplateManifest{RiskFlags: []string{"overwrites"}}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, RuleBlock, action)
	assert.Contains(t, reason, "destructive")
}
