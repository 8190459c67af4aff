package autopilot

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// No manifest turns an internal fault into permission.
func TestValidateExecutionNeverAllowsOnFault(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	erroring := New(faultyValidator{err: errors.New("injected")}, Config{Enabled: true})
	panicking := New(faultyValidator{panic: true}, Config{Enabled: true})
	risks := []string{"reads", "sends", "deletes", "overwrites"}
	urls := []string{"https://partner.example.com", "https://evil.example.com", "::bad"}

	properties.Property("allowed is false", prop.ForAll(
		func(caps []string, riskIdx, urlIdx []int, signed bool) bool {
			m := domain.TemplateManifest{
				RequiredCapabilities: caps,
				SignatureVerified:    signed,
			}
			for _, i := range riskIdx {
				m.RiskFlags = append(m.RiskFlags, risks[i])
			}
			for _, i := range urlIdx {
				m.WebxURLs = append(m.WebxURLs, urls[i])
			}
			a := erroring.ValidateExecution(context.Background(), m, saturdayNoon)
			b := panicking.ValidateExecution(context.Background(), m, saturdayNoon)
			return !a.Allowed && !a.AutopilotEnabled && !b.Allowed && !b.AutopilotEnabled
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.IntRange(0, len(risks)-1)),
		gen.SliceOf(gen.IntRange(0, len(urls)-1)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
