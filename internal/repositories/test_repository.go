package repositories

import (
	"context"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/models"
)

// TestRepository reads tests owned by the content catalog.
type TestRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Test, error)
	GetByIDs(ctx context.Context, ids []uint) (map[uint]*models.Test, error)
}

// EntitlementRepository answers the two facts entitlement is derived from.
type EntitlementRepository interface {
	HasSuccessfulPurchase(ctx context.Context, userID string, testID uint) (bool, error)
	HasActiveSubscriptionFor(ctx context.Context, userID string, testID uint, at time.Time) (bool, error)
}

// Repository groups the stores used by the session services.
type Repository interface {
	Test() TestRepository
	Attempt() AttemptRepository
	Entitlement() EntitlementRepository
}
