package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/SAP-F-2025/live-session-service/internal/repositories"
)

// AccessResult is the outcome of an entitlement check
type AccessResult struct {
	TestID          uint `json:"test_id"`
	HasAccess       bool `json:"has_access"`
	RequiresPayment bool `json:"requires_payment"`
	IsPaid          bool `json:"is_paid"`
}

// EntitlementService decides whether a user may start or continue a test.
// Access is derived fresh from purchases and subscriptions on every call.
type EntitlementService interface {
	CheckAccess(ctx context.Context, userID string, testID uint) (*AccessResult, error)
	// CheckTestAccess evaluates a test that was already loaded.
	CheckTestAccess(ctx context.Context, userID string, test *models.Test) (*AccessResult, error)
}

type entitlementService struct {
	repo         repositories.Repository
	logger       *slog.Logger
	retryBackoff time.Duration
	now          func() time.Time
}

func NewEntitlementService(repo repositories.Repository, logger *slog.Logger, retryBackoff time.Duration) EntitlementService {
	return &entitlementService{
		repo:         repo,
		logger:       logger,
		retryBackoff: retryBackoff,
		now:          time.Now,
	}
}

func (s *entitlementService) CheckAccess(ctx context.Context, userID string, testID uint) (*AccessResult, error) {
	test, err := retryOnce(ctx, s.retryBackoff, func() (*models.Test, error) {
		return s.repo.Test().GetByID(ctx, testID)
	})
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	return s.CheckTestAccess(ctx, userID, test)
}

func (s *entitlementService) CheckTestAccess(ctx context.Context, userID string, test *models.Test) (*AccessResult, error) {
	result := &AccessResult{TestID: test.ID, IsPaid: test.IsPaid()}

	if !test.IsPaid() {
		result.HasAccess = true
		return result, nil
	}

	purchased, err := retryOnce(ctx, s.retryBackoff, func() (bool, error) {
		return s.repo.Entitlement().HasSuccessfulPurchase(ctx, userID, test.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check purchase: %w", err)
	}

	if !purchased {
		subscribed, err := retryOnce(ctx, s.retryBackoff, func() (bool, error) {
			return s.repo.Entitlement().HasActiveSubscriptionFor(ctx, userID, test.ID, s.now())
		})
		if err != nil {
			return nil, fmt.Errorf("failed to check subscription: %w", err)
		}
		result.HasAccess = subscribed
	} else {
		result.HasAccess = true
	}

	result.RequiresPayment = !result.HasAccess
	if !result.HasAccess {
		s.logger.Info("Access denied to paid test", "user_id", userID, "test_id", test.ID)
	}
	return result, nil
}
