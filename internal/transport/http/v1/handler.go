// Package v1 provides the operator and runner HTTP API.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/monitor"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the v1 routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Policy
	e.POST("/v1/autopilot/validate", h.ValidateAutopilot)
	e.POST("/v1/policy/evaluate", h.EvaluatePolicy)

	// Execution monitoring (runner API)
	e.POST("/v1/executions", h.StartExecution)
	e.GET("/v1/executions", h.ListExecutions)
	e.GET("/v1/executions/:execution_id", h.GetExecution)
	e.POST("/v1/executions/:execution_id/steps", h.RecordStep)
	e.POST("/v1/executions/:execution_id/safety", h.CheckSafety)
	e.GET("/v1/executions/:execution_id/deviations", h.GetDeviations)
	e.POST("/v1/executions/:execution_id/finalize", h.FinalizeExecution)
	e.GET("/v1/executions/:execution_id/events", h.GetExecutionEvents)

	// Human-in-the-loop
	e.POST("/v1/approvals/:approval_id/decide", h.SubmitApprovalDecision)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"version":           "0.1.0",
		"autopilot":         h.service.Coordinator().IsEnabled(),
		"active_executions": h.service.Coordinator().Registry().Len(),
	})
}

// errorResponse maps service errors to status codes.
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrExecutionNotFound), errors.Is(err, service.ErrApprovalNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrExecutionNotStartable), errors.Is(err, service.ErrApprovalNotPending),
		errors.Is(err, service.ErrManifestMismatch), errors.Is(err, monitor.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidDecision), errors.Is(err, monitor.ErrUnknownStep):
		status = http.StatusBadRequest
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
