package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/adapter/notify"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/autopilot"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// DecideApproval applies a human decision to a resume approval. Approving
// resumes the paused execution; rejecting cancels it.
func (s *Service) DecideApproval(ctx context.Context, approvalID string, req domain.ApprovalDecisionRequest) (*domain.Approval, error) {
	var newStatus domain.ApprovalStatus
	switch strings.ToLower(strings.TrimSpace(req.Decision)) {
	case "approve", "approved":
		newStatus = domain.ApprovalStatusApproved
	case "reject", "rejected":
		newStatus = domain.ApprovalStatusRejected
	default:
		return nil, ErrInvalidDecision
	}

	approval, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	if approval == nil {
		return nil, ErrApprovalNotFound
	}
	if approval.Status != domain.ApprovalStatusPending {
		return nil, ErrApprovalNotPending
	}

	decided, err := s.store.DecideApprovalIfPending(ctx, approvalID, newStatus, req.DecidedBy, req.Reason, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to update approval status: %w", err)
	}
	if !decided {
		// Lost the race against another decision or the timeout sweep.
		return nil, ErrApprovalNotPending
	}

	s.audit(ctx, approval.ExecutionID, domain.EventTypeApprovalDecision, domain.ApprovalDecisionPayload{
		ApprovalID: approvalID,
		Decision:   newStatus,
		Reason:     req.Reason,
	})
	s.logger.Info("approval decided",
		"approval_id", approvalID, "execution_id", approval.ExecutionID, "decision", newStatus, "decided_by", req.DecidedBy)

	if newStatus == domain.ApprovalStatusApproved {
		if err := s.resume(ctx, approval.ExecutionID, req.DecidedBy); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.finalize(ctx, approval.ExecutionID, false, domain.ExecutionStatusCancelled, "resume rejected"); err != nil {
			return nil, err
		}
	}

	return s.store.GetApproval(ctx, approvalID)
}

func (s *Service) resume(ctx context.Context, executionID, decidedBy string) error {
	err := s.coordinator.ResumeExecution(executionID)
	if errors.Is(err, autopilot.ErrExecutionNotFound) {
		return ErrExecutionNotFound
	}
	if err != nil {
		return err
	}

	if _, err := s.store.UpdateExecutionStatus(ctx, executionID, domain.ExecutionStatusRunning); err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	s.audit(ctx, executionID, domain.EventTypeExecutionResumed, map[string]string{
		"decided_by": decidedBy,
	})
	s.notify(ctx, notify.Notification{
		Type:        domain.EventTypeExecutionResumed,
		ExecutionID: executionID,
		Message:     fmt.Sprintf("execution %s resumed", executionID),
	})
	return nil
}
