package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// StartExecution registers a monitor for a validated execution.
func (h *Handler) StartExecution(c echo.Context) error {
	var req domain.StartExecutionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ExecutionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "execution_id is required"})
	}

	exec, err := h.service.StartExecution(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, exec)
}

// ListExecutions lists executions, newest first, optionally by status.
func (h *Handler) ListExecutions(c echo.Context) error {
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	execs, err := h.service.ListExecutions(c.Request().Context(), domain.ExecutionStatus(strings.ToUpper(c.QueryParam("status"))), limit)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"executions": execs,
	})
}

// GetExecution returns the execution record and its live monitor.
func (h *Handler) GetExecution(c echo.Context) error {
	resp, err := h.service.GetExecution(c.Request().Context(), c.Param("execution_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// RecordStep records a step lifecycle event and returns the safety verdict.
func (h *Handler) RecordStep(c echo.Context) error {
	var req domain.StepEventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	switch req.Phase {
	case domain.StepPhaseStart, domain.StepPhaseSuccess, domain.StepPhaseFailure:
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "phase must be start, success or failure"})
	}

	resp, err := h.service.RecordStepEvent(c.Request().Context(), c.Param("execution_id"), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// CheckSafety runs the deviation checks for an execution.
func (h *Handler) CheckSafety(c echo.Context) error {
	resp, err := h.service.CheckSafety(c.Request().Context(), c.Param("execution_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetDeviations returns the deviation summary of a monitored execution.
func (h *Handler) GetDeviations(c echo.Context) error {
	summary, err := h.service.GetDeviations(c.Param("execution_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

// FinalizeExecution closes an execution.
func (h *Handler) FinalizeExecution(c echo.Context) error {
	var req domain.FinalizeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	exec, err := h.service.FinalizeExecution(c.Request().Context(), c.Param("execution_id"), req.Success)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, exec)
}

// GetExecutionEvents returns the audit trail of an execution.
func (h *Handler) GetExecutionEvents(c echo.Context) error {
	executionID := c.Param("execution_id")

	var afterTs int64
	if v := c.QueryParam("after_ts"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "after_ts must be an integer"})
		}
		afterTs = parsed
	}

	var types []string
	if v := c.QueryParam("types"); v != "" {
		types = strings.Split(v, ",")
	}

	limit := 1000
	if v := c.QueryParam("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := h.service.GetEvents(c.Request().Context(), executionID, afterTs, types, limit)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution_id": executionID,
		"events":       events,
	})
}
