package handlers

import (
	"errors"
	"net/http"

	"github.com/SAP-F-2025/live-session-service/internal/services"
	"github.com/gin-gonic/gin"
)

// Error codes shared by HTTP responses and websocket error frames.
const (
	CodeValidation     = "VALIDATION_FAILED"
	CodeForbidden      = "FORBIDDEN"
	CodePaymentNeeded  = "PAYMENT_REQUIRED"
	CodeNotFound       = "NOT_FOUND"
	CodeAttemptExists  = "ATTEMPT_EXISTS"
	CodeNoActive       = "NO_ACTIVE_ATTEMPT"
	CodeTestNotOpen    = "TEST_NOT_OPEN"
	CodeTestClosed     = "TEST_CLOSED"
	CodeUnavailable    = "SERVICE_UNAVAILABLE"
	CodeInternal       = "INTERNAL_ERROR"
	CodeBadRequest     = "BAD_REQUEST"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeUnknownMessage = "UNKNOWN_MESSAGE"
)

type errorClass struct {
	status    int
	code      string
	message   string
	retryable bool
}

// classifyError maps a service error onto its transport representation.
func classifyError(err error) errorClass {
	var validationErrors services.ValidationErrors
	switch {
	case errors.As(err, &validationErrors), services.IsValidation(err):
		return errorClass{http.StatusBadRequest, CodeValidation, "Validation failed", false}
	case errors.Is(err, services.ErrPaymentRequired):
		return errorClass{http.StatusForbidden, CodePaymentNeeded, "Payment required for this test", false}
	case services.IsForbidden(err):
		return errorClass{http.StatusForbidden, CodeForbidden, "Forbidden - insufficient permissions", false}
	case errors.Is(err, services.ErrTestNotFound):
		return errorClass{http.StatusNotFound, CodeNotFound, "Test not found", false}
	case errors.Is(err, services.ErrAttemptNotFound):
		return errorClass{http.StatusNotFound, CodeNotFound, "Attempt not found", false}
	case services.IsNotFound(err):
		return errorClass{http.StatusNotFound, CodeNotFound, "Resource not found", false}
	case errors.Is(err, services.ErrAttemptExists):
		return errorClass{http.StatusConflict, CodeAttemptExists, "An attempt for this test already exists", false}
	case errors.Is(err, services.ErrNoActiveAttempt):
		return errorClass{http.StatusConflict, CodeNoActive, "No attempt in progress for this test", false}
	case errors.Is(err, services.ErrTestNotOpen):
		return errorClass{http.StatusConflict, CodeTestNotOpen, "Test has not started yet", false}
	case errors.Is(err, services.ErrTestClosed):
		return errorClass{http.StatusConflict, CodeTestClosed, "Test has ended", false}
	case services.IsUnavailable(err):
		return errorClass{http.StatusServiceUnavailable, CodeUnavailable, "Service temporarily unavailable", true}
	default:
		return errorClass{http.StatusInternalServerError, CodeInternal, "Internal server error", false}
	}
}

func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	class := classifyError(err)

	resp := ErrorResponse{Message: class.message, Code: class.code}

	var validationErrors services.ValidationErrors
	var permissionError *services.PermissionError
	switch {
	case errors.As(err, &validationErrors):
		resp.Details = validationErrors
	case errors.As(err, &permissionError):
		resp.Details = map[string]interface{}{
			"resource": permissionError.Resource,
			"action":   permissionError.Action,
			"reason":   permissionError.Reason,
		}
		h.LogWarn(c, "Permission denied", "resource", permissionError.Resource, "action", permissionError.Action)
	}

	if class.status >= http.StatusInternalServerError {
		h.LogError(c, err, "Service error", "status_code", class.status)
		if class.status == http.StatusServiceUnavailable {
			c.Header("Retry-After", "1")
		}
	}
	c.JSON(class.status, resp)
}
