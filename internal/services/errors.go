package services

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/SAP-F-2025/live-session-service/internal/errors"
)

// ===== COMMON SERVICE ERRORS =====

var (
	// Generic errors
	ErrNotFound           = errors.New("resource not found")
	ErrForbidden          = errors.New("forbidden - insufficient permissions")
	ErrValidationFailed   = errors.New("validation failed")
	ErrConflict           = errors.New("resource conflict")
	ErrServiceUnavailable = errors.New("service temporarily unavailable")

	// Entitlement errors
	ErrPaymentRequired = fmt.Errorf("%w: payment required", ErrForbidden)

	// Test specific errors
	ErrTestNotFound = fmt.Errorf("%w: test not found", ErrNotFound)
	ErrTestNotOpen  = errors.New("test has not started yet")
	ErrTestClosed   = errors.New("test has ended")

	// Attempt specific errors
	ErrAttemptNotFound = fmt.Errorf("%w: attempt not found", ErrNotFound)
	ErrAttemptExists   = errors.New("an attempt for this test already exists")
	ErrNoActiveAttempt = errors.New("no attempt in progress for this test")
)

// ===== CUSTOM ERROR TYPES =====

// Use shared validation errors from errors package
type ValidationError = apperrors.ValidationError
type ValidationErrors = apperrors.ValidationErrors

type PermissionError struct {
	UserID     string `json:"user_id"`
	ResourceID uint   `json:"resource_id"`
	Resource   string `json:"resource"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
}

func (pe *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: user %s cannot %s %s %d - %s",
		pe.UserID, pe.Action, pe.Resource, pe.ResourceID, pe.Reason)
}

// Is lets errors.Is(err, ErrForbidden) match permission errors.
func (pe *PermissionError) Is(target error) bool {
	return target == ErrForbidden
}

// ===== ERROR HELPERS =====

// NewValidationError creates a new validation error using the shared type
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return apperrors.NewValidationError(field, message, value)
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// IsNotFound checks if error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsForbidden checks if error represents a denied entitlement or ownership
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsValidation checks if error represents a validation failure
func IsValidation(err error) bool {
	if errors.Is(err, ErrValidationFailed) {
		return true
	}
	var ve apperrors.ValidationErrors
	return errors.As(err, &ve)
}

// IsConflict checks if error represents a state conflict on the attempt
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAttemptExists) ||
		errors.Is(err, ErrNoActiveAttempt) ||
		errors.Is(err, ErrTestNotOpen) ||
		errors.Is(err, ErrTestClosed)
}

// IsUnavailable checks if a store stayed unreachable after the retry
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}

// isDomainError reports errors that retrying cannot change
func isDomainError(err error) bool {
	return IsNotFound(err) || IsForbidden(err) || IsValidation(err) || IsConflict(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
