package service

import (
	"context"
	"time"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// RunApprovalTimeoutMonitor periodically expires resume approvals nobody
// answered within the configured timeout and cancels their executions.
func (s *Service) RunApprovalTimeoutMonitor(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepApprovalTimeouts(ctx)
		}
	}
}

func (s *Service) sweepApprovalTimeouts(ctx context.Context) {
	if s.config == nil || s.config.ApprovalTimeout <= 0 {
		return
	}

	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	now := s.now()
	expired, err := s.store.ListExpiredApprovals(sweepCtx, now.Add(-s.config.ApprovalTimeout), 100)
	if err != nil {
		s.logger.Warn("approval timeout sweep failed", "error", err)
		return
	}

	for _, ap := range expired {
		updated, err := s.store.DecideApprovalIfPending(sweepCtx, ap.ApprovalID, domain.ApprovalStatusExpired, "", "approval_timeout", now)
		if err != nil {
			s.logger.Warn("failed to expire approval", "approval_id", ap.ApprovalID, "error", err)
			continue
		}
		if !updated {
			continue
		}

		s.audit(sweepCtx, ap.ExecutionID, domain.EventTypeApprovalDecision, domain.ApprovalDecisionPayload{
			ApprovalID: ap.ApprovalID,
			Decision:   domain.ApprovalStatusExpired,
			Reason:     "approval_timeout",
		})
		if _, err := s.finalize(sweepCtx, ap.ExecutionID, false, domain.ExecutionStatusCancelled, "approval timed out"); err != nil {
			s.logger.Warn("failed to cancel execution after approval timeout",
				"execution_id", ap.ExecutionID, "error", err)
		}
	}
}
