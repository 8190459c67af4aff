package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// SubmitApprovalDecision approves or rejects resuming a paused execution.
func (h *Handler) SubmitApprovalDecision(c echo.Context) error {
	approvalID := c.Param("approval_id")
	var req domain.ApprovalDecisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	approval, err := h.service.DecideApproval(c.Request().Context(), approvalID, req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":       true,
		"approval": approval,
	})
}
