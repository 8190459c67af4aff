package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// recordEvent records an event to the store.
func (s *Service) recordEvent(ctx context.Context, executionID string, eventType domain.EventType, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &domain.Event{
		EventID:     "evt_" + uuid.New().String()[:8],
		ExecutionID: executionID,
		Ts:          s.now().UnixMilli(),
		Type:        eventType,
		Payload:     payloadBytes,
	}

	return s.store.CreateEvent(ctx, event)
}

// audit records an event and logs, rather than returns, a failure. Audit
// writes never fail the request that caused them.
func (s *Service) audit(ctx context.Context, executionID string, eventType domain.EventType, payload interface{}) {
	if err := s.recordEvent(ctx, executionID, eventType, payload); err != nil {
		s.logger.Warn("failed to record event",
			"execution_id", executionID, "type", eventType, "error", err)
	}
}

// GetEvents returns the audit trail of an execution.
func (s *Service) GetEvents(ctx context.Context, executionID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	events, err := s.store.GetEvents(ctx, executionID, afterTs, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}
