package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/config"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

const testPolicy = `
allow_domains: [partner.example.com]
allow_risks: [sends, reads]
require_capabilities: [webx]
require_signed_templates: true
window: "SAT 11:00-13:00 Asia/Tokyo"
autopilot: true
`

const testManifest = `
name: weekly-report
required_capabilities: [webx]
risk_flags: [sends]
webx_urls: ["https://partner.example.com/form"]
signature_verified: true
trust_level: commercial
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.AutopilotEnabled = true
	return cfg
}

func TestRunWindow(t *testing.T) {
	var out bytes.Buffer
	at := time.Date(2024, 8, 17, 3, 0, 0, 0, time.UTC) // 12:00 in Tokyo
	require.NoError(t, runWindow(&out, "SAT 11:00-13:00 Asia/Tokyo", at))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, true, resp["inside"])

	assert.Error(t, runWindow(&out, "SAT 25:00-26:00 UTC", at))
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeFile(t, dir, "policy.yaml", testPolicy)
	manifestPath := writeFile(t, dir, "manifest.yaml", testManifest)

	var out bytes.Buffer
	inside := time.Date(2024, 8, 17, 12, 0, 0, 0, time.FixedZone("JST", 9*60*60))
	require.NoError(t, runValidate(context.Background(), &out, testConfig(), policyPath, manifestPath, inside))

	var decision domain.AutopilotDecision
	require.NoError(t, json.Unmarshal(out.Bytes(), &decision))
	assert.True(t, decision.Allowed)
	assert.True(t, decision.AutopilotEnabled)

	out.Reset()
	outside := inside.Add(24 * time.Hour)
	err := runValidate(context.Background(), &out, testConfig(), policyPath, manifestPath, outside)
	require.Error(t, err)
	require.NoError(t, json.Unmarshal(out.Bytes(), &decision))
	require.Len(t, decision.PolicyViolations, 1)
	assert.Equal(t, domain.ViolationWindow, decision.PolicyViolations[0].Kind)
}

func TestRunPlan(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeFile(t, dir, "policy.yaml", `
allow_domains: [partner.example.com]
allow_risks: [sends]
autopilot: true
`)
	writeFile(t, dir, "manifest.yaml", testManifest)
	planPath := writeFile(t, dir, "plan.yaml", `
name: weekly-report
manifest: manifest.yaml
steps:
  - name: open
    action: noop
    domain: partner.example.com
  - name: note
    action: log
    args:
      message: submitting
  - name: submit
    action: noop
    risks: [sends]
`)

	var out bytes.Buffer
	require.NoError(t, runPlan(context.Background(), &out, testConfig(), policyPath, planPath, "", ":memory:"))

	var result domain.PlanResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, domain.ExecutionStatusDone, result.Status)
	assert.Equal(t, 3, result.StepsRun)
}

func TestRootCommandTree(t *testing.T) {
	root := buildRootCmd(testConfig())
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "validate", "window", "run"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"window", "always", "--at", "2024-08-17T12:00:00Z"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"inside": true`)
}
