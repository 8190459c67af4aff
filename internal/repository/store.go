// Package repository persists executions, step records, audit events and
// resume approvals.
package repository

import (
	"context"
	"time"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Execution operations
	CreateExecution(ctx context.Context, exec *domain.Execution) error
	GetExecution(ctx context.Context, executionID string) (*domain.Execution, error)
	ListExecutions(ctx context.Context, status domain.ExecutionStatus, limit int) ([]domain.Execution, error)
	UpdateExecutionStatus(ctx context.Context, executionID string, status domain.ExecutionStatus) (bool, error)
	UpdateExecutionStarted(ctx context.Context, executionID string, expectedSteps []string, startedAt time.Time) (bool, error)
	UpdateExecutionCompleted(ctx context.Context, executionID string, status domain.ExecutionStatus, endedAt time.Time) (bool, error)

	// Step operations
	CreateStepExecution(ctx context.Context, step *domain.StepExecution) error
	CompleteStepExecution(ctx context.Context, step *domain.StepExecution) (bool, error)
	ListStepExecutions(ctx context.Context, executionID string) ([]domain.StepExecution, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, executionID string, afterTs int64, types []string, limit int) ([]domain.Event, error)

	// Approval operations
	CreateApproval(ctx context.Context, approval *domain.Approval) error
	GetApproval(ctx context.Context, approvalID string) (*domain.Approval, error)
	GetPendingApproval(ctx context.Context, executionID string) (*domain.Approval, error)
	DecideApprovalIfPending(ctx context.Context, approvalID string, status domain.ApprovalStatus, decidedBy, reason string, decidedAt time.Time) (bool, error)
	ListExpiredApprovals(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Approval, error)

	// Lifecycle
	Close() error
}
