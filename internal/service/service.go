// Package service persists the autopilot layer's decisions and transitions
// and drives the human-in-the-loop resume flow around safe-fail.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/adapter/notify"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/autopilot"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/config"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/policy"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/repository"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/steps"
)

var (
	// ErrExecutionNotFound is returned for an unknown execution id.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrExecutionNotStartable is returned when an execution was blocked by
	// policy or has already started.
	ErrExecutionNotStartable = errors.New("execution cannot be started")
	// ErrApprovalNotFound is returned for an unknown approval id.
	ErrApprovalNotFound = errors.New("approval not found")
	// ErrApprovalNotPending is returned when an approval was already decided.
	ErrApprovalNotPending = errors.New("approval is not pending")
	// ErrManifestMismatch is returned when an execution is started with a
	// manifest other than the one it was validated with.
	ErrManifestMismatch = errors.New("manifest does not match the validated manifest")
	// ErrInvalidDecision is returned for a decision other than approve or reject.
	ErrInvalidDecision = errors.New("decision must be approve or reject")
)

// Notifier delivers safe-fail and approval notifications.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// ActiveGauge tracks the number of monitored executions.
type ActiveGauge interface {
	SetActiveExecutions(n int)
}

type Service struct {
	store       repository.Store
	coordinator *autopilot.Coordinator
	engine      *policy.Engine
	notifier    Notifier
	steps       *steps.Registry
	gauge       ActiveGauge
	config      *config.Config
	logger      *slog.Logger
	now         func() time.Time
}

func New(store repository.Store, coordinator *autopilot.Coordinator, engine *policy.Engine, notifier Notifier, cfg *config.Config) *Service {
	return &Service{
		store:       store,
		coordinator: coordinator,
		engine:      engine,
		notifier:    notifier,
		steps:       steps.DefaultRegistry,
		config:      cfg,
		logger:      slog.Default(),
		now:         time.Now,
	}
}

// SetLogger replaces the service logger.
func (s *Service) SetLogger(l *slog.Logger) {
	s.logger = l
}

// SetActiveGauge sets the gauge updated when executions start and finish.
func (s *Service) SetActiveGauge(g ActiveGauge) {
	s.gauge = g
}

// Coordinator returns the autopilot coordinator.
func (s *Service) Coordinator() *autopilot.Coordinator {
	return s.coordinator
}

func (s *Service) updateGauge() {
	if s.gauge != nil {
		s.gauge.SetActiveExecutions(s.coordinator.Registry().Len())
	}
}

func (s *Service) notify(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	n.Ts = s.now().UnixMilli()
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("failed to deliver notification",
			"execution_id", n.ExecutionID, "type", n.Type, "error", err)
	}
}
