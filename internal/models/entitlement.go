package models

import "time"

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseSucceeded PurchaseStatus = "succeeded"
	PurchaseFailed    PurchaseStatus = "failed"
	PurchaseRefunded  PurchaseStatus = "refunded"
)

// Purchase is a one-time payment for a single test. Rows are written by the
// payments flow; this service only reads them.
type Purchase struct {
	ID     uint           `json:"id" gorm:"primaryKey"`
	UserID string         `json:"user_id" gorm:"not null;size:255;index:idx_purchases_user_test"`
	TestID uint           `json:"test_id" gorm:"not null;index:idx_purchases_user_test"`
	Amount int64          `json:"amount" gorm:"not null"`
	Status PurchaseStatus `json:"status" gorm:"not null;size:20;index"`
	PaidAt *time.Time     `json:"paid_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Purchase) TableName() string {
	return "purchases"
}

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

type Subscription struct {
	ID       uint               `json:"id" gorm:"primaryKey"`
	UserID   string             `json:"user_id" gorm:"not null;size:255;index"`
	PlanID   uint               `json:"plan_id" gorm:"not null;index"`
	Status   SubscriptionStatus `json:"status" gorm:"not null;size:20"`
	StartsAt time.Time          `json:"starts_at" gorm:"not null"`
	EndsAt   *time.Time         `json:"ends_at"` // nil = open ended

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// SubscriptionPlanTest lists the tests a subscription plan covers.
type SubscriptionPlanTest struct {
	PlanID uint `json:"plan_id" gorm:"primaryKey"`
	TestID uint `json:"test_id" gorm:"primaryKey;index"`
}

func (SubscriptionPlanTest) TableName() string {
	return "subscription_plan_tests"
}
