package config

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

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MAX_DEVIATIONS", "")
	cfg := Load()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.False(t, cfg.AutopilotEnabled)
	assert.Equal(t, 3, cfg.Deviation().MaxDeviations)
	assert.Equal(t, 30*time.Second, cfg.Deviation().StepTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AUTOPILOT_ENABLED", "true")
	t.Setenv("MAX_DEVIATIONS", "5")
	t.Setenv("STEP_TIMEOUT_MS", "1500")
	t.Setenv("RISK_ESCALATION_PENALTY", "not-a-number")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := Load()
	assert.True(t, cfg.AutopilotEnabled)
	assert.Equal(t, 5, cfg.MaxDeviations)
	assert.Equal(t, 1500*time.Millisecond, cfg.StepTimeout)
	assert.Equal(t, 3, cfg.RiskEscalationPenalty)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "DEBUG", cfg.SlogLevel().String())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const policyYAML = `
allow_domains: [partner.example.com]
allow_risks: [sends]
require_capabilities: [webx]
require_signed_templates: true
window: "SAT 11:00-13:00 Asia/Tokyo"
autopilot: true
rules: rules.rego
`

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policy.yaml", policyYAML)

	cfg, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"partner.example.com"}, cfg.AllowDomains)
	assert.Equal(t, []string{"webx"}, cfg.RequireCapabilities)
	assert.True(t, cfg.RequireSignedTemplates)
	assert.True(t, cfg.Autopilot)
	assert.Equal(t, "SAT 11:00-13:00 Asia/Tokyo", cfg.Window)
	assert.Equal(t, filepath.Join(dir, "rules.rego"), cfg.Rules)
}

func TestLoadPolicyRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, t.TempDir(), "policy.yaml", "allow_domain: [x.com]\n")
	_, err := LoadPolicy(path)
	assert.Error(t, err)
}

func TestLoadManifest(t *testing.T) {
	path := writeFile(t, t.TempDir(), "manifest.yaml", `
name: weekly-report
required_capabilities: [webx]
risk_flags: [sends]
webx_urls: ["https://partner.example.com/form"]
signature_verified: true
trust_level: commercial
`)
	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "weekly-report", m.Name)
	assert.Equal(t, domain.TrustCommercial, m.TrustLevel)
	assert.True(t, m.SignatureVerified)
}

func TestLoadPlan(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "plan.yaml", `
name: weekly-report
manifest: manifest.yaml
steps:
  - name: open_browser
    action: noop
  - name: fill_by_label
    action: log
    args: {message: filling}
    risks: [sends]
    domain: partner.example.com
`)
	p, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"open_browser", "fill_by_label"}, p.StepNames())
	assert.Equal(t, filepath.Join(dir, "manifest.yaml"), p.Manifest)
	assert.Equal(t, "filling", p.Steps[1].Args["message"])

	empty := writeFile(t, dir, "empty.yaml", "name: nothing\n")
	_, err = LoadPlan(empty)
	assert.Error(t, err)
}

func TestWatchPolicyReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policy.yaml", policyYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan domain.PolicyConfig, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchPolicy(ctx, path, nil, func(cfg domain.PolicyConfig) { reloaded <- cfg })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("allow_domains: [other.example.com]\nautopilot: false\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, []string{"other.example.com"}, cfg.AllowDomains)
		assert.False(t, cfg.Autopilot)
	case <-time.After(3 * time.Second):
		t.Fatal("policy was not reloaded")
	}

	cancel()
	require.NoError(t, <-done)
}
