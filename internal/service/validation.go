package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// ValidateExecution runs the autopilot decision for a manifest at the service
// clock and persists it, with the manifest it approved, as a new execution in
// VALIDATED or BLOCKED state.
func (s *Service) ValidateExecution(ctx context.Context, req domain.ValidateRequest) (domain.AutopilotDecision, error) {
	now := s.now()
	decision := s.coordinator.ValidateExecution(ctx, req.Manifest, now)

	name := req.TemplateName
	if name == "" {
		name = req.Manifest.Name
	}
	status := domain.ExecutionStatusValidated
	if !decision.Allowed {
		status = domain.ExecutionStatusBlocked
	}

	raw, err := json.Marshal(decision)
	if err != nil {
		return decision, fmt.Errorf("failed to marshal decision: %w", err)
	}
	exec := &domain.Execution{
		ExecutionID:      decision.ExecutionID,
		TemplateName:     name,
		Status:           status,
		AutopilotEnabled: decision.AutopilotEnabled,
		Manifest:         &req.Manifest,
		Decision:         raw,
		CreatedAt:        s.now(),
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return decision, fmt.Errorf("failed to create execution: %w", err)
	}

	s.audit(ctx, decision.ExecutionID, domain.EventTypePolicyDecision, domain.PolicyDecisionPayload{
		TemplateName: name,
		Decision:     decision,
	})
	return decision, nil
}

// EvaluatePolicy is the quick pre-check against the active policy.
func (s *Service) EvaluatePolicy(req domain.EvaluateRequest) domain.PolicyDecision {
	now := s.now()
	if req.Now != nil {
		now = *req.Now
	}
	return s.engine.Evaluate(req.Domain, req.Risks, now, req.Signed, req.Capabilities)
}
