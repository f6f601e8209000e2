package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/SAP-F-2025/live-session-service/internal/realtime"
	"github.com/SAP-F-2025/live-session-service/internal/services"
	"github.com/SAP-F-2025/live-session-service/internal/utils"
	"github.com/SAP-F-2025/live-session-service/internal/validator"
	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	BaseHandler
	sessionService     services.SessionService
	entitlementService services.EntitlementService
	validator          *validator.Validator
}

func NewSessionHandler(
	sessionService services.SessionService,
	entitlementService services.EntitlementService,
	validator *validator.Validator,
	logger utils.Logger,
) *SessionHandler {
	return &SessionHandler{
		BaseHandler:        NewBaseHandler(logger),
		sessionService:     sessionService,
		entitlementService: entitlementService,
		validator:          validator,
	}
}

// CheckAccess reports whether the caller may take the test
// @Summary Check test access
// @Tags sessions
// @Produce json
// @Param test_id path uint true "Test ID"
// @Success 200 {object} services.AccessResult
// @Failure 404 {object} ErrorResponse
// @Router /tests/{test_id}/access [get]
func (h *SessionHandler) CheckAccess(c *gin.Context) {
	testID := ParseUintParam(c, "test_id")
	if testID == 0 {
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	result, err := h.entitlementService.CheckAccess(requestContext(c), userID, testID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// StartSession starts an attempt or resumes the caller's in-progress one
// @Summary Start or resume a live session
// @Tags sessions
// @Produce json
// @Param test_id path uint true "Test ID"
// @Success 200 {object} services.StartResult "Resumed"
// @Success 201 {object} services.StartResult "Started"
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /tests/{test_id}/session [post]
func (h *SessionHandler) StartSession(c *gin.Context) {
	testID := ParseUintParam(c, "test_id")
	if testID == 0 {
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Starting session", "test_id", testID)

	result, err := startOrResume(requestContext(c), h.sessionService, userID, testID, nil)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Resumed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// GetSnapshot returns the in-flight answers of the caller's attempt
// @Summary Get session snapshot
// @Tags sessions
// @Produce json
// @Param test_id path uint true "Test ID"
// @Success 200 {object} services.StartResult
// @Failure 409 {object} ErrorResponse
// @Router /tests/{test_id}/session [get]
func (h *SessionHandler) GetSnapshot(c *gin.Context) {
	testID := ParseUintParam(c, "test_id")
	if testID == 0 {
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	result, err := h.sessionService.Snapshot(requestContext(c), userID, testID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RecordAnswer saves one answer without a websocket connection
// @Summary Record an answer
// @Tags sessions
// @Accept json
// @Produce json
// @Param test_id path uint true "Test ID"
// @Param answer body RecordAnswerRequest true "Answer"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /tests/{test_id}/answers [put]
func (h *SessionHandler) RecordAnswer(c *gin.Context) {
	testID := ParseUintParam(c, "test_id")
	if testID == 0 {
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req RecordAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
			Code:    CodeBadRequest,
		})
		return
	}
	if err := h.validator.Validate(req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	if err := h.sessionService.RecordAnswer(requestContext(c), userID, testID, req.QuestionID, req.Answer, nil); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Submit finalizes the caller's attempt
// @Summary Submit attempt
// @Tags sessions
// @Produce json
// @Param test_id path uint true "Test ID"
// @Success 200 {object} services.SubmitResult
// @Failure 409 {object} ErrorResponse
// @Router /tests/{test_id}/submit [post]
func (h *SessionHandler) Submit(c *gin.Context) {
	testID := ParseUintParam(c, "test_id")
	if testID == 0 {
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Submitting attempt", "test_id", testID)

	result, err := h.sessionService.Submit(requestContext(c), userID, testID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Cleanup drops the session state of one of the caller's attempts
// @Summary Clean up session state
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body CleanupRequest true "Attempt"
// @Success 200 {object} SuccessResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/cleanup [post]
func (h *SessionHandler) Cleanup(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
			Code:    CodeBadRequest,
		})
		return
	}
	if err := h.validator.Validate(req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	if err := h.sessionService.Cleanup(requestContext(c), userID, req.AttemptID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.RespondWithSuccess(c, http.StatusOK, "Session cleaned up", gin.H{"attempt_id": req.AttemptID})
}

// startOrResume starts an attempt and, when one is already in progress,
// reattaches to it. A blocking submitted attempt keeps ErrAttemptExists.
func startOrResume(ctx context.Context, sessions services.SessionService, userID string, testID uint, conn realtime.Conn) (*services.StartResult, error) {
	result, err := sessions.StartOrResume(ctx, userID, testID, conn)
	if !errors.Is(err, services.ErrAttemptExists) {
		return result, err
	}

	result, resumeErr := sessions.Resume(ctx, userID, testID, conn)
	if errors.Is(resumeErr, services.ErrNoActiveAttempt) {
		return nil, err
	}
	return result, resumeErr
}
