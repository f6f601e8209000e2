package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntitlementService_CheckAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewEntitlementService(f.repo, slog.New(slog.DiscardHandler), time.Millisecond)

	free := f.createTest(t, nil)
	paid := f.createTest(t, func(test *models.Test) { test.Price = 1500 })

	require.NoError(t, f.db.Create(&models.Purchase{UserID: "buyer", TestID: paid.ID, Amount: 1500, Status: models.PurchaseSucceeded}).Error)
	require.NoError(t, f.db.Create(&models.Purchase{UserID: "refunded", TestID: paid.ID, Amount: 1500, Status: models.PurchaseRefunded}).Error)
	require.NoError(t, f.db.Create(&models.SubscriptionPlanTest{PlanID: 1, TestID: paid.ID}).Error)
	require.NoError(t, f.db.Create(&models.Subscription{
		UserID: "subscriber", PlanID: 1, Status: models.SubscriptionActive, StartsAt: time.Now().Add(-time.Hour),
	}).Error)

	tests := []struct {
		name            string
		userID          string
		testID          uint
		wantAccess      bool
		wantRequiresPay bool
	}{
		{name: "free test", userID: "anyone", testID: free.ID, wantAccess: true},
		{name: "purchased", userID: "buyer", testID: paid.ID, wantAccess: true},
		{name: "subscribed", userID: "subscriber", testID: paid.ID, wantAccess: true},
		{name: "refunded purchase", userID: "refunded", testID: paid.ID, wantRequiresPay: true},
		{name: "no entitlement", userID: "stranger", testID: paid.ID, wantRequiresPay: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.CheckAccess(ctx, tt.userID, tt.testID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAccess, result.HasAccess)
			assert.Equal(t, tt.wantRequiresPay, result.RequiresPayment)
		})
	}

	t.Run("unknown test", func(t *testing.T) {
		_, err := svc.CheckAccess(ctx, "anyone", 999999)
		assert.ErrorIs(t, err, ErrTestNotFound)
		assert.True(t, IsNotFound(err))
	})
}

func TestEntitlementService_FreeTestNeedsNoLookups(t *testing.T) {
	// a nil repository would panic on any entitlement lookup
	svc := NewEntitlementService(nil, slog.New(slog.DiscardHandler), time.Millisecond)

	result, err := svc.CheckTestAccess(context.Background(), "u1", &models.Test{ID: 1})
	require.NoError(t, err)
	assert.True(t, result.HasAccess)
	assert.False(t, result.RequiresPayment)
}
