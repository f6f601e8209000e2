package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRetryOnce(t *testing.T) {
	ctx := context.Background()
	transient := errors.New("i/o timeout")

	t.Run("succeeds on second try", func(t *testing.T) {
		calls := 0
		v, err := retryOnce(ctx, time.Millisecond, func() (int, error) {
			calls++
			if calls == 1 {
				return 0, transient
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 2, calls)
	})

	t.Run("second transient failure is unavailable", func(t *testing.T) {
		calls := 0
		_, err := retryOnce(ctx, time.Millisecond, func() (int, error) {
			calls++
			return 0, transient
		})
		assert.ErrorIs(t, err, ErrServiceUnavailable)
		assert.Contains(t, err.Error(), "i/o timeout")
		assert.Equal(t, 2, calls)
	})

	permanent := []struct {
		name string
		err  error
	}{
		{name: "domain", err: ErrAttemptExists},
		{name: "not found", err: gorm.ErrRecordNotFound},
		{name: "duplicate", err: repositories.ErrDuplicate},
		{name: "transition conflict", err: repositories.ErrTransitionConflict},
		{name: "cancelled", err: context.Canceled},
	}
	for _, tt := range permanent {
		t.Run("no retry for "+tt.name, func(t *testing.T) {
			calls := 0
			err := retryOnceErr(ctx, time.Millisecond, func() error {
				calls++
				return tt.err
			})
			assert.ErrorIs(t, err, tt.err)
			assert.NotErrorIs(t, err, ErrServiceUnavailable)
			assert.Equal(t, 1, calls)
		})
	}
}
