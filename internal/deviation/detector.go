// Package deviation compares what a plan said it would do with what it
// actually did and scores the difference against a safety threshold.
package deviation

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/policy"
)

// Config holds the thresholds and penalty weights of a Detector.
type Config struct {
	// MaxDeviations is the penalty total at which the safety threshold trips.
	MaxDeviations int
	// StepTimeout is the longest a single step may run.
	StepTimeout time.Duration

	UnexpectedStepPenalty int
	FailedStepPenalty     int
	RiskEscalationPenalty int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxDeviations:         3,
		StepTimeout:           30 * time.Second,
		UnexpectedStepPenalty: 1,
		FailedStepPenalty:     1,
		RiskEscalationPenalty: 3,
	}
}

const recentLimit = 5

var (
	destructiveRisks = []string{"deletes", "overwrites", "system_modify"}
	egressRisks      = []string{"sends", "uploads"}
	readRisks        = []string{"reads", "downloads"}
)

type key struct {
	typ   domain.DeviationType
	index int
	name  string
}

// Detector accumulates deviations for one execution. The check methods are
// pure; Record is the only way state changes.
type Detector struct {
	mu       sync.Mutex
	cfg      Config
	recorded []domain.Deviation
	seen     map[key]bool
	baseline int
}

// NewDetector creates a detector with the given configuration.
func NewDetector(cfg Config) *Detector {
	return &Detector{
		cfg:  cfg,
		seen: make(map[key]bool),
	}
}

// Config returns the detector configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// AnalyzeSequenceDeviation aligns the actual step names against the expected
// ones with two pointers. A step that does not occur in expected at all is an
// insertion: it is reported once and only the actual pointer advances, so the
// steps after it realign instead of each being reported. A known step in the
// wrong place is a sequence deviation and advances both pointers. Actual
// steps left over after expected is exhausted are unexpected.
func (d *Detector) AnalyzeSequenceDeviation(expected, actual []string, now time.Time) []domain.Deviation {
	var out []domain.Deviation
	e, a := 0, 0
	for e < len(expected) && a < len(actual) {
		switch {
		case actual[a] == expected[e]:
			e++
			a++
		case !slices.Contains(expected, actual[a]):
			out = append(out, domain.Deviation{
				Type:       domain.DeviationUnexpectedStep,
				Severity:   domain.SeverityHigh,
				StepName:   actual[a],
				StepIndex:  a,
				Message:    fmt.Sprintf("step %q is not part of the plan", actual[a]),
				DetectedAt: now,
			})
			a++
		default:
			out = append(out, domain.Deviation{
				Type:       domain.DeviationSequence,
				Severity:   domain.SeverityMedium,
				StepName:   actual[a],
				StepIndex:  a,
				Message:    fmt.Sprintf("expected step %q, got %q", expected[e], actual[a]),
				DetectedAt: now,
			})
			e++
			a++
		}
	}
	for ; a < len(actual); a++ {
		out = append(out, domain.Deviation{
			Type:       domain.DeviationUnexpectedStep,
			Severity:   domain.SeverityHigh,
			StepName:   actual[a],
			StepIndex:  a,
			Message:    fmt.Sprintf("step %q runs past the end of the plan", actual[a]),
			DetectedAt: now,
		})
	}
	return out
}

// CheckStepTimeout reports a step that ran longer than the configured timeout.
func (d *Detector) CheckStepTimeout(name string, index int, duration time.Duration, now time.Time) *domain.Deviation {
	if duration <= d.cfg.StepTimeout {
		return nil
	}
	return &domain.Deviation{
		Type:            domain.DeviationStepTimeout,
		Severity:        domain.SeverityMedium,
		StepName:        name,
		StepIndex:       index,
		DurationSeconds: duration.Seconds(),
		Message:         fmt.Sprintf("step %q ran %s, limit %s", name, duration, d.cfg.StepTimeout),
		DetectedAt:      now,
	}
}

// CheckRiskEscalation reports risks the step exercised that the manifest did
// not declare. Severity is the worst over all escalated risks; a risk with no
// known class counts as critical.
func (d *Detector) CheckRiskEscalation(name string, index int, expectedRisks, actualRisks []string, now time.Time) *domain.Deviation {
	var escalated []string
	for _, r := range actualRisks {
		if !slices.Contains(expectedRisks, r) && !slices.Contains(escalated, r) {
			escalated = append(escalated, r)
		}
	}
	if len(escalated) == 0 {
		return nil
	}

	severity := domain.SeverityLow
	for _, r := range escalated {
		if s := riskSeverity(r); s.Rank() > severity.Rank() {
			severity = s
		}
	}

	return &domain.Deviation{
		Type:           domain.DeviationRiskEscalation,
		Severity:       severity,
		StepName:       name,
		StepIndex:      index,
		EscalatedRisks: escalated,
		Message:        fmt.Sprintf("step %q exercised undeclared risks %v", name, escalated),
		DetectedAt:     now,
	}
}

func riskSeverity(risk string) domain.Severity {
	switch {
	case slices.Contains(destructiveRisks, risk):
		return domain.SeverityCritical
	case slices.Contains(egressRisks, risk):
		return domain.SeverityHigh
	case slices.Contains(readRisks, risk):
		return domain.SeverityMedium
	}
	return domain.SeverityCritical
}

// CheckDomainDeviation reports a step that touched a domain the manifest did
// not declare. Both sides are compared as normalized hosts, so a URL or a
// differently cased host names the same domain.
func (d *Detector) CheckDomainDeviation(name string, index int, expectedDomains []string, actualDomain string, now time.Time) *domain.Deviation {
	if strings.TrimSpace(actualDomain) == "" {
		return nil
	}
	host := hostOf(actualDomain)
	for _, expected := range expectedDomains {
		if hostOf(expected) == host {
			return nil
		}
	}
	return &domain.Deviation{
		Type:       domain.DeviationDomain,
		Severity:   domain.SeverityHigh,
		StepName:   name,
		StepIndex:  index,
		Domain:     host,
		Message:    fmt.Sprintf("step %q visited undeclared domain %q", name, actualDomain),
		DetectedAt: now,
	}
}

func hostOf(raw string) string {
	if h, err := policy.NormalizeHost(raw); err == nil {
		return h
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

// Record adds deviations that have not been recorded before and returns the
// newly added ones. A deviation is identified by its type, step index and
// step name, so repeated analysis of the same execution is idempotent.
func (d *Detector) Record(devs ...domain.Deviation) []domain.Deviation {
	d.mu.Lock()
	defer d.mu.Unlock()

	var added []domain.Deviation
	for _, dev := range devs {
		k := key{typ: dev.Type, index: dev.StepIndex, name: dev.StepName}
		if d.seen[k] {
			continue
		}
		d.seen[k] = true
		d.recorded = append(d.recorded, dev)
		added = append(added, dev)
	}
	return added
}

// Deviations returns a copy of everything recorded so far.
func (d *Detector) Deviations() []domain.Deviation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.recorded)
}

// Count returns the number of recorded deviations.
func (d *Detector) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.recorded)
}

// PenaltyScore returns the weighted penalty of deviations recorded since the
// last acknowledgement.
func (d *Detector) PenaltyScore() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.penaltyLocked() - d.baseline
}

func (d *Detector) penaltyLocked() int {
	total := 0
	for _, dev := range d.recorded {
		switch dev.Type {
		case domain.DeviationUnexpectedStep:
			total += d.cfg.UnexpectedStepPenalty
		case domain.DeviationStepTimeout:
			total += d.cfg.FailedStepPenalty
		case domain.DeviationRiskEscalation:
			total += d.cfg.RiskEscalationPenalty
		default:
			total++
		}
	}
	return total
}

// AssessSafetyThreshold reports whether the penalty total has reached
// MaxDeviations. This is the safe-fail trigger.
func (d *Detector) AssessSafetyThreshold() bool {
	return d.PenaltyScore() >= d.cfg.MaxDeviations
}

// Acknowledge marks everything recorded so far as reviewed by a human. Only
// deviations recorded afterwards count toward the threshold; the audit list
// keeps all of them.
func (d *Detector) Acknowledge() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baseline = d.penaltyLocked()
}

// Summary counts deviations by severity and type and lists the most recent.
func (d *Detector) Summary() domain.DeviationSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := domain.DeviationSummary{
		Total:        len(d.recorded),
		PenaltyScore: d.penaltyLocked() - d.baseline,
		Threshold:    d.cfg.MaxDeviations,
		BySeverity:   make(map[domain.Severity]int),
		ByType:       make(map[domain.DeviationType]int),
	}
	s.ThresholdReached = s.PenaltyScore >= s.Threshold
	for _, dev := range d.recorded {
		s.BySeverity[dev.Severity]++
		s.ByType[dev.Type]++
	}
	start := len(d.recorded) - recentLimit
	if start < 0 {
		start = 0
	}
	s.Recent = slices.Clone(d.recorded[start:])
	return s
}
