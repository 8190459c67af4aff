package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// ValidateAutopilot runs the full autopilot decision for a manifest.
func (h *Handler) ValidateAutopilot(c echo.Context) error {
	var req domain.ValidateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	decision, err := h.service.ValidateExecution(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, decision)
}

// EvaluatePolicy is the quick pre-check used before a template is opened.
func (h *Handler) EvaluatePolicy(c echo.Context) error {
	var req domain.EvaluateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	return c.JSON(http.StatusOK, h.service.EvaluatePolicy(req))
}
