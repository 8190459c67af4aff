// Package policy decides whether a template may run and whether it may run
// unattended. Evaluation is pure: every call takes the current time explicitly
// and reads one immutable configuration snapshot.
package policy

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// Engine evaluates templates against a PolicyConfig.
type Engine struct {
	config atomic.Pointer[domain.PolicyConfig]
}

// NewEngine creates a policy engine for the given configuration.
func NewEngine(cfg domain.PolicyConfig) *Engine {
	e := &Engine{}
	e.SetConfig(cfg)
	return e
}

// SetConfig swaps the active configuration. Decisions already in flight keep
// the snapshot they started with.
func (e *Engine) SetConfig(cfg domain.PolicyConfig) {
	snapshot := cloneConfig(cfg)
	e.config.Store(&snapshot)
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() domain.PolicyConfig {
	return cloneConfig(*e.config.Load())
}

// Evaluate is the quick pre-check. It runs the domain, window, signature,
// capability and risk checks in that order and reports the first failure as
// the decision reason. The capability check requires every requested
// capability to be listed by the policy.
func (e *Engine) Evaluate(host string, risks []string, now time.Time, signed bool, capabilities []string) domain.PolicyDecision {
	cfg := e.config.Load()
	deny := func(reason string) domain.PolicyDecision {
		return domain.PolicyDecision{Allowed: false, Reason: reason}
	}

	if host != "" {
		h, err := NormalizeHost(host)
		if err != nil || !domainAllowed(h, cfg.AllowDomains) {
			return deny(domain.ReasonDomain)
		}
	}

	inside, err := WithinWindow(cfg.Window, now)
	if err != nil {
		return deny(domain.ReasonWindowFormat)
	}
	if !inside {
		return deny(domain.ReasonWindow)
	}

	if cfg.RequireSignedTemplates && !signed {
		return deny(domain.ReasonSignature)
	}

	if missing := difference(capabilities, cfg.RequireCapabilities); len(missing) > 0 {
		return deny(domain.ReasonCapability)
	}

	if extra := difference(risks, cfg.AllowRisks); len(extra) > 0 {
		return deny(domain.ReasonRisk)
	}

	var warnings []string
	if !signed {
		warnings = append(warnings, "template signature not verified")
	}
	return domain.PolicyDecision{Allowed: true, Autopilot: cfg.Autopilot, Warnings: warnings}
}

// ValidateExecution is the authoritative gate. It runs the same five checks
// against a manifest, but the capability check is reversed: the policy's
// required capabilities must all be declared by the manifest. The first
// failing check is returned as a *Violation.
func (e *Engine) ValidateExecution(m domain.TemplateManifest, now time.Time) (domain.PolicyDecision, error) {
	cfg := e.config.Load()

	for _, raw := range m.WebxURLs {
		host, err := NormalizeHost(raw)
		if err != nil {
			return domain.PolicyDecision{}, &Violation{
				Kind:            domain.ViolationDomain,
				Message:         fmt.Sprintf("cannot determine domain of %q", raw),
				SuggestedAction: "use absolute URLs in webx_urls",
				Err:             err,
			}
		}
		if !domainAllowed(host, cfg.AllowDomains) {
			return domain.PolicyDecision{}, &Violation{
				Kind:            domain.ViolationDomain,
				Message:         fmt.Sprintf("domain %q is not in allow_domains", host),
				SuggestedAction: fmt.Sprintf("add %q to allow_domains or remove the URL from the template", host),
			}
		}
	}

	inside, err := WithinWindow(cfg.Window, now)
	if err != nil {
		return domain.PolicyDecision{}, &Violation{
			Kind:            domain.ViolationWindow,
			Message:         err.Error(),
			SuggestedAction: `fix the policy window, e.g. "MON-FRI 09:00-17:00 Asia/Tokyo"`,
			Err:             err,
		}
	}
	if !inside {
		return domain.PolicyDecision{}, &Violation{
			Kind:            domain.ViolationWindow,
			Message:         fmt.Sprintf("%s is outside the allowed window %q", now.Format(time.RFC3339), cfg.Window),
			SuggestedAction: "run the template inside the window or schedule it for later",
		}
	}

	if cfg.RequireSignedTemplates && !m.SignatureVerified {
		return domain.PolicyDecision{}, &Violation{
			Kind:            domain.ViolationSignature,
			Message:         "template signature is not verified",
			SuggestedAction: "sign the template with a trusted key and verify it before running",
		}
	}

	if missing := difference(cfg.RequireCapabilities, m.RequiredCapabilities); len(missing) > 0 {
		return domain.PolicyDecision{}, &Violation{
			Kind:            domain.ViolationCapability,
			Message:         fmt.Sprintf("template does not declare required capabilities: %s", strings.Join(missing, ", ")),
			SuggestedAction: fmt.Sprintf("declare %s in required_capabilities", strings.Join(missing, ", ")),
		}
	}

	if extra := difference(m.RiskFlags, cfg.AllowRisks); len(extra) > 0 {
		return domain.PolicyDecision{}, &Violation{
			Kind:            domain.ViolationRisk,
			Message:         fmt.Sprintf("risk flags not allowed by policy: %s", strings.Join(extra, ", ")),
			SuggestedAction: "remove the risky steps or ask an administrator to extend allow_risks",
		}
	}

	var warnings []string
	if !m.SignatureVerified {
		warnings = append(warnings, "template signature not verified")
	}
	switch m.TrustLevel {
	case domain.TrustCommunity, domain.TrustUnknown, domain.TrustDevelopment:
		warnings = append(warnings, fmt.Sprintf("template signed with %s trust level", m.TrustLevel))
	}

	return domain.PolicyDecision{Allowed: true, Autopilot: cfg.Autopilot, Warnings: warnings}, nil
}

// ManifestHosts returns the normalized hosts of a manifest's webx URLs,
// skipping entries that cannot be parsed.
func ManifestHosts(m domain.TemplateManifest) []string {
	var hosts []string
	for _, raw := range m.WebxURLs {
		if h, err := NormalizeHost(raw); err == nil && !slices.Contains(hosts, h) {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func domainAllowed(host string, allow []string) bool {
	for _, entry := range allow {
		entry = strings.TrimPrefix(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(entry)), "."), "*.")
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

// NormalizeHost accepts a bare host, host:port or URL and returns the
// lower-cased host name without a trailing dot.
func NormalizeHost(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty host")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("no host in %q", raw)
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(strings.ToLower(host), "."), nil
}

// difference returns the members of want missing from have, in order.
func difference(want, have []string) []string {
	var missing []string
	for _, w := range want {
		if !slices.Contains(have, w) && !slices.Contains(missing, w) {
			missing = append(missing, w)
		}
	}
	return missing
}

func cloneConfig(cfg domain.PolicyConfig) domain.PolicyConfig {
	cfg.AllowDomains = slices.Clone(cfg.AllowDomains)
	cfg.AllowRisks = slices.Clone(cfg.AllowRisks)
	cfg.RequireCapabilities = slices.Clone(cfg.RequireCapabilities)
	return cfg
}
