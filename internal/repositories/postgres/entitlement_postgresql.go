package postgres

import (
	"context"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/SAP-F-2025/live-session-service/internal/repositories"
	"gorm.io/gorm"
)

type EntitlementPostgreSQL struct {
	db *gorm.DB
}

func NewEntitlementPostgreSQL(db *gorm.DB) repositories.EntitlementRepository {
	return &EntitlementPostgreSQL{db: db}
}

func (e EntitlementPostgreSQL) HasSuccessfulPurchase(ctx context.Context, userID string, testID uint) (bool, error) {
	var count int64
	err := e.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("user_id = ? AND test_id = ? AND status = ?", userID, testID, models.PurchaseSucceeded).
		Count(&count).Error
	return count > 0, err
}

func (e EntitlementPostgreSQL) HasActiveSubscriptionFor(ctx context.Context, userID string, testID uint, at time.Time) (bool, error) {
	var count int64
	err := e.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Joins("JOIN subscription_plan_tests ON subscription_plan_tests.plan_id = subscriptions.plan_id").
		Where("subscriptions.user_id = ? AND subscriptions.status = ?", userID, models.SubscriptionActive).
		Where("subscription_plan_tests.test_id = ?", testID).
		Where("subscriptions.starts_at <= ?", at).
		Where("(subscriptions.ends_at IS NULL OR subscriptions.ends_at > ?)", at).
		Count(&count).Error
	return count > 0, err
}
