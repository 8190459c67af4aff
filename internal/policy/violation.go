package policy

import (
	"fmt"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// Violation is the typed rejection returned by Engine.ValidateExecution.
type Violation struct {
	Kind            domain.ViolationKind
	Message         string
	SuggestedAction string
	Err             error
}

func (v *Violation) Error() string {
	return fmt.Sprintf("policy violation (%s): %s", v.Kind, v.Message)
}

func (v *Violation) Unwrap() error {
	return v.Err
}

// Info returns the serializable form of the violation.
func (v *Violation) Info() domain.PolicyViolation {
	return domain.PolicyViolation{
		Kind:            v.Kind,
		Message:         v.Message,
		SuggestedAction: v.SuggestedAction,
	}
}
