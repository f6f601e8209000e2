package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/repositories"
	"github.com/SAP-F-2025/live-session-service/internal/services"
	"github.com/SAP-F-2025/live-session-service/internal/utils"
	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AdminHandler serves the proctor and operator endpoints.
type AdminHandler struct {
	BaseHandler
	sessionService services.SessionService
	exportService  services.ExportService
}

func NewAdminHandler(
	sessionService services.SessionService,
	exportService services.ExportService,
	logger utils.Logger,
) *AdminHandler {
	return &AdminHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
		exportService:  exportService,
	}
}

// GetPresence lists the users connected to a test room
// @Summary Room presence
// @Tags admin
// @Produce json
// @Param test_id path uint true "Test ID"
// @Success 200 {object} SuccessResponse
// @Router /admin/tests/{test_id}/presence [get]
func (h *AdminHandler) GetPresence(c *gin.Context) {
	testID := ParseUintParam(c, "test_id")
	if testID == 0 {
		return
	}

	members, err := h.sessionService.Presence(requestContext(c), testID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"test_id": testID,
		"count":   len(members),
		"members": members,
	})
}

// ExportAttempts downloads the attempt roster of a test as xlsx
// @Summary Export attempts
// @Tags admin
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param test_id path uint true "Test ID"
// @Param status query string false "Attempt status"
// @Router /admin/tests/{test_id}/attempts/export [get]
func (h *AdminHandler) ExportAttempts(c *gin.Context) {
	testID := ParseUintParam(c, "test_id")
	if testID == 0 {
		return
	}

	var filters repositories.AttemptFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid query parameters",
			Details: err.Error(),
			Code:    CodeBadRequest,
		})
		return
	}

	data, err := h.exportService.ExportAttempts(requestContext(c), testID, filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("test-%d-attempts-%s.xlsx", testID, time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// Sweep runs one abandoned-attempt sweep immediately
// @Summary Run sweep
// @Tags admin
// @Produce json
// @Success 200 {object} services.SweepResult
// @Router /admin/sweep [post]
func (h *AdminHandler) Sweep(c *gin.Context) {
	h.LogRequest(c, "Manual sweep requested")

	result, err := h.sessionService.CleanupAbandoned(requestContext(c))
	if err != nil {
		// partial results are still reported
		h.LogError(c, err, "Sweep finished with errors")
		if result == nil {
			h.handleServiceError(c, err)
			return
		}
		c.JSON(http.StatusMultiStatus, gin.H{"result": result, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// PurgeAttempt deletes an attempt record
// @Summary Purge attempt
// @Tags admin
// @Param attempt_id path uint true "Attempt ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /admin/attempts/{attempt_id} [delete]
func (h *AdminHandler) PurgeAttempt(c *gin.Context) {
	attemptID := ParseUintParam(c, "attempt_id")
	if attemptID == 0 {
		return
	}

	h.LogRequest(c, "Purging attempt", "attempt_id", attemptID)

	if err := h.sessionService.Purge(requestContext(c), attemptID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
