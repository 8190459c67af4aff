package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/adapter/notify"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/autopilot"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// StartExecution begins monitoring an allowed execution. Steps are checked
// against the manifest stored at validation; a request manifest that differs
// from it is rejected.
func (s *Service) StartExecution(ctx context.Context, req domain.StartExecutionRequest) (*domain.Execution, error) {
	if req.ExecutionID == "" {
		return nil, fmt.Errorf("execution_id is required")
	}

	exec, err := s.store.GetExecution(ctx, req.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	if exec == nil {
		return nil, ErrExecutionNotFound
	}
	if exec.Status != domain.ExecutionStatusValidated {
		return nil, fmt.Errorf("%w: status is %s", ErrExecutionNotStartable, exec.Status)
	}

	if exec.Manifest == nil {
		return nil, fmt.Errorf("%w: no validated manifest", ErrExecutionNotStartable)
	}
	if req.Manifest != nil && !sameManifest(*req.Manifest, *exec.Manifest) {
		return nil, ErrManifestMismatch
	}

	if _, err := s.coordinator.StartExecutionMonitoring(req.ExecutionID, req.ExpectedSteps, exec.Manifest); err != nil {
		return nil, err
	}
	s.updateGauge()

	startedAt := s.now()
	if _, err := s.store.UpdateExecutionStarted(ctx, req.ExecutionID, req.ExpectedSteps, startedAt); err != nil {
		return nil, fmt.Errorf("failed to update execution: %w", err)
	}
	s.audit(ctx, req.ExecutionID, domain.EventTypeExecutionStarted, domain.ExecutionStartedPayload{
		ExpectedSteps: req.ExpectedSteps,
	})

	exec.Status = domain.ExecutionStatusRunning
	exec.ExpectedSteps = req.ExpectedSteps
	exec.StartedAt = &startedAt
	return exec, nil
}

// RecordStepEvent applies a step lifecycle event to the execution monitor,
// persists it and runs a safety check.
func (s *Service) RecordStepEvent(ctx context.Context, executionID string, req domain.StepEventRequest) (*domain.StepEventResponse, error) {
	mon, ok := s.coordinator.GetExecutionMonitor(executionID)
	if !ok {
		return nil, ErrExecutionNotFound
	}

	at := s.now()
	if req.At != nil {
		at = *req.At
	}

	switch req.Phase {
	case domain.StepPhaseStart:
		if err := mon.RecordStepStart(req.StepIndex, req.StepName, req.Risks, req.Domain, at); err != nil {
			return nil, err
		}
		step := lastStep(mon.Snapshot().Steps, req.StepIndex)
		if err := s.store.CreateStepExecution(ctx, &step); err != nil {
			s.logger.Warn("failed to persist step start", "execution_id", executionID, "error", err)
		}
		s.audit(ctx, executionID, domain.EventTypeStepStarted, domain.StepEventPayload{
			StepIndex: step.StepIndex,
			StepName:  step.StepName,
		})

	case domain.StepPhaseSuccess, domain.StepPhaseFailure:
		var err error
		eventType := domain.EventTypeStepSucceeded
		if req.Phase == domain.StepPhaseSuccess {
			err = mon.RecordStepSuccess(req.StepIndex, at)
		} else {
			eventType = domain.EventTypeStepFailed
			err = mon.RecordStepFailure(req.StepIndex, req.Error, at)
		}
		if err != nil {
			return nil, err
		}
		step := lastStep(mon.Snapshot().Steps, req.StepIndex)
		if _, err := s.store.CompleteStepExecution(ctx, &step); err != nil {
			s.logger.Warn("failed to persist step result", "execution_id", executionID, "error", err)
		}
		s.audit(ctx, executionID, eventType, domain.StepEventPayload{
			StepIndex:  step.StepIndex,
			StepName:   step.StepName,
			DurationMs: step.DurationMs,
			Error:      step.ErrorMessage,
		})

	default:
		return nil, fmt.Errorf("unknown step phase %q", req.Phase)
	}

	safety, err := s.checkSafety(ctx, executionID, at)
	if err != nil {
		return nil, err
	}
	return &domain.StepEventResponse{
		ExecutionID: executionID,
		Snapshot:    mon.Snapshot(),
		Safety:      safety,
	}, nil
}

// sameManifest compares two manifests, treating list fields as sets.
func sameManifest(a, b domain.TemplateManifest) bool {
	return a.Name == b.Name &&
		a.SignatureVerified == b.SignatureVerified &&
		a.TrustLevel == b.TrustLevel &&
		sameSet(a.RequiredCapabilities, b.RequiredCapabilities) &&
		sameSet(a.RiskFlags, b.RiskFlags) &&
		sameSet(a.WebxURLs, b.WebxURLs)
}

func sameSet(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(slices.Compact(a), slices.Compact(b))
}

func lastStep(steps []domain.StepExecution, index int) domain.StepExecution {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].StepIndex == index {
			return steps[i]
		}
	}
	return domain.StepExecution{StepIndex: index}
}

// CheckSafety records new deviations and, when the threshold is crossed,
// pauses the execution and opens a resume approval. A paused execution keeps
// its existing approval.
func (s *Service) CheckSafety(ctx context.Context, executionID string) (*domain.SafetyResponse, error) {
	return s.checkSafety(ctx, executionID, s.now())
}

func (s *Service) checkSafety(ctx context.Context, executionID string, now time.Time) (*domain.SafetyResponse, error) {
	verdict, err := s.coordinator.CheckExecutionSafety(executionID, now)
	if errors.Is(err, autopilot.ErrExecutionNotFound) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}

	for _, dev := range verdict.Detected {
		s.audit(ctx, executionID, domain.EventTypeDeviationDetected, dev)
	}

	if verdict.Safe() {
		return &domain.SafetyResponse{ExecutionID: executionID, Safe: true, Deviations: verdict.Detected}, nil
	}

	approval, err := s.pauseForApproval(ctx, executionID, verdict)
	if err != nil {
		return nil, err
	}
	return &domain.SafetyResponse{
		ExecutionID: executionID,
		Safe:        false,
		ApprovalID:  approval.ApprovalID,
		Deviations:  verdict.Deviations,
	}, nil
}

func (s *Service) pauseForApproval(ctx context.Context, executionID string, verdict autopilot.Verdict) (*domain.Approval, error) {
	deviations := verdict.Deviations
	existing, err := s.store.GetPendingApproval(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending approval: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	raw, err := json.Marshal(deviations)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal deviations: %w", err)
	}
	approval := &domain.Approval{
		ApprovalID:  "apr_" + uuid.New().String()[:8],
		ExecutionID: executionID,
		Status:      domain.ApprovalStatusPending,
		Deviations:  raw,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateApproval(ctx, approval); err != nil {
		return nil, fmt.Errorf("failed to create approval: %w", err)
	}
	if _, err := s.store.UpdateExecutionStatus(ctx, executionID, domain.ExecutionStatusPausedSafeFail); err != nil {
		return nil, fmt.Errorf("failed to pause execution: %w", err)
	}

	s.audit(ctx, executionID, domain.EventTypeSafeFail, domain.SafeFailPayload{
		ApprovalID: approval.ApprovalID,
		Deviations: deviations,
	})
	s.audit(ctx, executionID, domain.EventTypeApprovalRequired, map[string]string{
		"approval_id": approval.ApprovalID,
	})
	cause := verdict.Err()
	s.logger.Warn("execution paused for approval",
		"execution_id", executionID, "approval_id", approval.ApprovalID, "error", cause)

	s.notify(ctx, notify.Notification{
		Type:        domain.EventTypeSafeFail,
		ExecutionID: executionID,
		ApprovalID:  approval.ApprovalID,
		Message:     fmt.Sprintf("%v; approval %s required to resume", cause, approval.ApprovalID),
		Deviations:  deviations,
	})
	return approval, nil
}

// FinalizeExecution ends monitoring of an execution and records its outcome.
// A pending resume approval is expired.
func (s *Service) FinalizeExecution(ctx context.Context, executionID string, success bool) (*domain.Execution, error) {
	return s.finalize(ctx, executionID, success, "", "")
}

func (s *Service) finalize(ctx context.Context, executionID string, success bool, override domain.ExecutionStatus, reason string) (*domain.Execution, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	if exec == nil {
		return nil, ErrExecutionNotFound
	}

	snapshot, summary, err := s.coordinator.FinalizeExecution(executionID, success)
	monitored := err == nil
	switch {
	case errors.Is(err, autopilot.ErrExecutionNotFound):
		if isTerminal(exec.Status) {
			return exec, nil
		}
		// Never started in this process; close the persisted record anyway.
		success = false
	case err != nil:
		return nil, err
	default:
		success = snapshot.State == domain.ExecutionStateCompleted
	}
	s.updateGauge()

	status := domain.ExecutionStatusFailed
	if success {
		status = domain.ExecutionStatusDone
	}
	if override != "" {
		status = override
	}

	endedAt := s.now()
	if _, err := s.store.UpdateExecutionCompleted(ctx, executionID, status, endedAt); err != nil {
		return nil, fmt.Errorf("failed to update execution: %w", err)
	}

	pending, err := s.store.GetPendingApproval(ctx, executionID)
	if err != nil {
		s.logger.Warn("failed to get pending approval", "execution_id", executionID, "error", err)
	} else if pending != nil {
		if _, err := s.store.DecideApprovalIfPending(ctx, pending.ApprovalID, domain.ApprovalStatusExpired, "", "execution finalized", endedAt); err != nil {
			s.logger.Warn("failed to expire approval", "approval_id", pending.ApprovalID, "error", err)
		}
	}

	payload := domain.FinalizedPayload{Success: success, Status: status, Reason: reason}
	if monitored {
		payload.Deviations = &summary
	}
	s.audit(ctx, executionID, domain.EventTypeExecutionFinalized, payload)
	s.logger.Info("execution finalized", "execution_id", executionID, "status", status)

	return s.store.GetExecution(ctx, executionID)
}

func isTerminal(status domain.ExecutionStatus) bool {
	switch status {
	case domain.ExecutionStatusDone, domain.ExecutionStatusFailed,
		domain.ExecutionStatusCancelled, domain.ExecutionStatusBlocked:
		return true
	}
	return false
}

// GetExecution returns the persisted execution and, while it is monitored,
// its live snapshot.
func (s *Service) GetExecution(ctx context.Context, executionID string) (*domain.ExecutionResponse, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	if exec == nil {
		return nil, ErrExecutionNotFound
	}
	steps, err := s.store.ListStepExecutions(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	resp := &domain.ExecutionResponse{Execution: exec, Steps: steps}
	if mon, ok := s.coordinator.GetExecutionMonitor(executionID); ok {
		snap := mon.Snapshot()
		resp.Monitor = &snap
	}
	return resp, nil
}

// ListExecutions lists persisted executions, newest first. An empty status
// lists all of them.
func (s *Service) ListExecutions(ctx context.Context, status domain.ExecutionStatus, limit int) ([]domain.Execution, error) {
	execs, err := s.store.ListExecutions(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	if execs == nil {
		execs = []domain.Execution{}
	}
	return execs, nil
}

// GetDeviations returns the deviation summary of a monitored execution.
func (s *Service) GetDeviations(executionID string) (domain.DeviationSummary, error) {
	mon, ok := s.coordinator.GetExecutionMonitor(executionID)
	if !ok {
		return domain.DeviationSummary{}, ErrExecutionNotFound
	}
	return mon.Detector().Summary(), nil
}
