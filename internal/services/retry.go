package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/cache"
	"github.com/SAP-F-2025/live-session-service/internal/repositories"
	"github.com/SAP-F-2025/live-session-service/internal/session"
	"github.com/cenkalti/backoff/v5"
)

// retryOnce runs op and, on a transient store error, retries it once after
// an exponential backoff. A transient failure that survives the retry
// becomes ErrServiceUnavailable.
func retryOnce[T any](ctx context.Context, initial time.Duration, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial

	result, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && isPermanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(2))
	if err == nil {
		return result, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if isPermanent(err) {
		return result, err
	}
	return result, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}

// retryOnceErr is retryOnce for operations without a result.
func retryOnceErr(ctx context.Context, initial time.Duration, op func() error) error {
	_, err := retryOnce(ctx, initial, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

func isPermanent(err error) bool {
	return isDomainError(err) ||
		repositories.IsNotFoundError(err) ||
		repositories.IsDuplicateError(err) ||
		errors.Is(err, repositories.ErrTransitionConflict) ||
		errors.Is(err, cache.ErrCacheMiss) ||
		errors.Is(err, session.ErrNoState) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
