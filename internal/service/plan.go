package service

import (
	"context"
	"fmt"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/steps"
)

// SetStepRegistry replaces the executors used by RunPlan.
func (s *Service) SetStepRegistry(r *steps.Registry) {
	s.steps = r
}

// RunPlan validates a plan's manifest and, when autopilot is permitted, runs
// its steps unattended. The run stops at the first failing step or when the
// safety threshold trips; a tripped run is left paused with a pending resume
// approval.
func (s *Service) RunPlan(ctx context.Context, plan domain.Plan, manifest domain.TemplateManifest) (*domain.PlanResult, error) {
	if manifest.Name == "" {
		manifest.Name = plan.Name
	}
	decision, err := s.ValidateExecution(ctx, domain.ValidateRequest{
		TemplateName: plan.Name,
		Manifest:     manifest,
	})
	if err != nil {
		return nil, err
	}

	result := &domain.PlanResult{
		ExecutionID: decision.ExecutionID,
		Decision:    decision,
		Status:      domain.ExecutionStatusBlocked,
	}
	if !decision.Allowed {
		return result, nil
	}
	if !decision.AutopilotEnabled {
		result.Status = domain.ExecutionStatusValidated
		result.Error = "autopilot is not permitted for this plan; an operator must supervise it"
		return result, nil
	}

	if _, err := s.StartExecution(ctx, domain.StartExecutionRequest{
		ExecutionID:   decision.ExecutionID,
		TemplateName:  plan.Name,
		ExpectedSteps: plan.StepNames(),
		Manifest:      &manifest,
	}); err != nil {
		return nil, err
	}
	result.Status = domain.ExecutionStatusRunning

	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return s.finishPlan(ctx, result, false, err.Error())
		}

		resp, err := s.RecordStepEvent(ctx, decision.ExecutionID, domain.StepEventRequest{
			Phase:     domain.StepPhaseStart,
			StepIndex: i,
			StepName:  step.Name,
			Risks:     step.Risks,
			Domain:    step.Domain,
		})
		if err != nil {
			return nil, err
		}
		if paused(resp) {
			return s.pausePlan(result, resp.Safety.ApprovalID), nil
		}

		execErr := s.steps.Execute(ctx, step.Action, step.Args)
		result.StepsRun++

		phase := domain.StepPhaseSuccess
		msg := ""
		if execErr != nil {
			phase = domain.StepPhaseFailure
			msg = execErr.Error()
			s.logger.Warn("plan step failed",
				"execution_id", decision.ExecutionID, "step", step.Name, "error", execErr)
		}
		resp, err = s.RecordStepEvent(ctx, decision.ExecutionID, domain.StepEventRequest{
			Phase:     phase,
			StepIndex: i,
			Error:     msg,
		})
		if err != nil {
			return nil, err
		}
		if execErr != nil {
			return s.finishPlan(ctx, result, false, fmt.Sprintf("step %q failed: %s", step.Name, msg))
		}
		if paused(resp) {
			return s.pausePlan(result, resp.Safety.ApprovalID), nil
		}
	}

	return s.finishPlan(ctx, result, true, "")
}

func paused(resp *domain.StepEventResponse) bool {
	return resp.Safety != nil && !resp.Safety.Safe
}

func (s *Service) pausePlan(result *domain.PlanResult, approvalID string) *domain.PlanResult {
	result.Status = domain.ExecutionStatusPausedSafeFail
	result.ApprovalID = approvalID
	if summary, err := s.GetDeviations(result.ExecutionID); err == nil {
		result.Deviations = &summary
	}
	return result
}

func (s *Service) finishPlan(ctx context.Context, result *domain.PlanResult, success bool, reason string) (*domain.PlanResult, error) {
	if summary, err := s.GetDeviations(result.ExecutionID); err == nil {
		result.Deviations = &summary
	}
	exec, err := s.FinalizeExecution(ctx, result.ExecutionID, success)
	if err != nil {
		return nil, err
	}
	result.Status = exec.Status
	result.Error = reason
	return result, nil
}
