package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/events"
	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/SAP-F-2025/live-session-service/internal/realtime"
	"github.com/SAP-F-2025/live-session-service/internal/repositories"
	"github.com/SAP-F-2025/live-session-service/internal/session"
)

// openTest loads a published test, checks the caller's entitlement and the
// availability window.
func (s *sessionService) openTest(ctx context.Context, userID string, testID uint) (*models.Test, error) {
	test, err := retryOnce(ctx, s.opts.RetryBackoff, func() (*models.Test, error) {
		return s.repo.Test().GetByID(ctx, testID)
	})
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	// unpublished tests are invisible to takers
	if !test.IsPublished {
		return nil, ErrTestNotFound
	}

	access, err := s.entitlement.CheckTestAccess(ctx, userID, test)
	if err != nil {
		return nil, err
	}
	if !access.HasAccess {
		if access.RequiresPayment {
			return nil, ErrPaymentRequired
		}
		return nil, ErrForbidden
	}

	now := s.now()
	if !test.HasStarted(now) {
		return nil, ErrTestNotOpen
	}
	if test.HasEnded(now) {
		return nil, ErrTestClosed
	}
	return test, nil
}

// createAttempt inserts an IN_PROGRESS attempt. When a concurrent request
// won the insert, the winner's attempt is returned with created=false if the
// test allows resuming it.
func (s *sessionService) createAttempt(ctx context.Context, userID string, test *models.Test) (*models.Attempt, bool, error) {
	startedAt := s.now()
	attempt := &models.Attempt{
		UserID:    userID,
		TestID:    test.ID,
		Status:    models.AttemptInProgress,
		StartedAt: &startedAt,
	}

	err := retryOnceErr(ctx, s.opts.RetryBackoff, func() error {
		return s.repo.Attempt().Create(ctx, attempt)
	})
	if err == nil {
		if !test.AllowMultipleAttempts {
			if err := s.ensureOnlyAttempt(ctx, attempt); err != nil {
				return nil, false, err
			}
		}
		s.logger.Info("Attempt started", "attempt_id", attempt.ID, "user_id", userID, "test_id", test.ID)
		return attempt, true, nil
	}
	if !repositories.IsDuplicateError(err) {
		return nil, false, fmt.Errorf("failed to create attempt: %w", err)
	}

	if !test.AllowMultipleAttempts {
		return nil, false, ErrAttemptExists
	}
	winner, err := s.repo.Attempt().GetActiveAttempt(ctx, userID, test.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get active attempt: %w", err)
	}
	if winner == nil {
		return nil, false, ErrAttemptExists
	}
	return winner, false, nil
}

// ensureOnlyAttempt backs out a just-inserted attempt when another attempt
// was created and submitted between the blocking check and the insert. The
// unique index only covers IN_PROGRESS rows.
func (s *sessionService) ensureOnlyAttempt(ctx context.Context, attempt *models.Attempt) error {
	submitted, err := retryOnce(ctx, s.opts.RetryBackoff, func() (bool, error) {
		return s.repo.Attempt().HasSubmittedAttempt(ctx, attempt.UserID, attempt.TestID)
	})
	if err == nil && !submitted {
		return nil
	}

	if purgeErr := retryOnceErr(ctx, s.opts.RetryBackoff, func() error {
		return s.repo.Attempt().Purge(ctx, attempt.ID)
	}); purgeErr != nil {
		s.logger.Error("Failed to back out attempt", "attempt_id", attempt.ID, "error", purgeErr)
	}
	if err != nil {
		return fmt.Errorf("failed to check existing attempts: %w", err)
	}
	s.logger.Warn("Backed out attempt raced by a submit", "attempt_id", attempt.ID, "user_id", attempt.UserID, "test_id", attempt.TestID)
	return ErrAttemptExists
}

// attach begins or reuses the ephemeral state and joins the room.
func (s *sessionService) attach(ctx context.Context, attempt *models.Attempt, conn realtime.Conn, resumed bool) (*StartResult, error) {
	snapshot, err := retryOnce(ctx, s.opts.RetryBackoff, func() (*models.AnswerSnapshot, error) {
		return s.store.Begin(ctx, session.KeyOf(attempt))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin session state: %w", err)
	}

	if conn != nil {
		if err := s.rooms.Join(ctx, attempt.TestID, conn, attempt.UserID); err != nil {
			return nil, fmt.Errorf("failed to join room: %w", err)
		}
	}

	return &StartResult{Attempt: attempt, Snapshot: snapshot, Resumed: resumed}, nil
}

// finalize moves an IN_PROGRESS attempt to a terminal status. won is false
// when another caller finalized it first; the stored record is returned.
func (s *sessionService) finalize(ctx context.Context, attempt *models.Attempt, to models.AttemptStatus, reason string, snapshot *models.AnswerSnapshot) (*models.Attempt, bool, error) {
	endedAt := s.now()
	update := repositories.TransitionUpdate{
		Answers:   snapshot.Answers,
		TimeSpent: timeSpent(attempt, snapshot, endedAt),
		EndedAt:   endedAt,
		EndReason: reason,
	}

	updated, err := retryOnce(ctx, s.opts.RetryBackoff, func() (*models.Attempt, error) {
		return s.repo.Attempt().Transition(ctx, attempt.ID, models.AttemptInProgress, to, update)
	})
	if errors.Is(err, repositories.ErrTransitionConflict) {
		current, err := s.getAttempt(ctx, attempt.ID)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to finalize attempt: %w", err)
	}

	if err := s.store.Clear(ctx, session.KeyOf(attempt)); err != nil {
		// state is keyed by attempt and expires on its own
		s.logger.Warn("Failed to clear session state", "attempt_id", attempt.ID, "error", err)
	}
	s.rooms.LeaveUser(ctx, attempt.TestID, attempt.UserID)
	s.publish(ctx, updated)
	return updated, true, nil
}

func (s *sessionService) finalResult(attempt *models.Attempt, alreadyFinal bool) *SubmitResult {
	return &SubmitResult{
		Attempt:      attempt,
		ScorePending: attempt.ScorePending(),
		AlreadyFinal: alreadyFinal,
	}
}

func (s *sessionService) getAttempt(ctx context.Context, attemptID uint) (*models.Attempt, error) {
	attempt, err := retryOnce(ctx, s.opts.RetryBackoff, func() (*models.Attempt, error) {
		return s.repo.Attempt().GetByID(ctx, attemptID)
	})
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return attempt, nil
}

// sweepOne returns the status the attempt was moved to, or "" when it was
// left alone.
func (s *sessionService) sweepOne(ctx context.Context, attempt *models.Attempt, test *models.Test) (models.AttemptStatus, error) {
	if test == nil {
		return "", nil
	}
	now := s.now()

	if test.HasEnded(now) {
		return s.expire(ctx, attempt)
	}

	if attempt.StartedAt != nil && now.Sub(*attempt.StartedAt) < s.opts.IdleTTL {
		return "", nil
	}
	exists, err := retryOnce(ctx, s.opts.RetryBackoff, func() (bool, error) {
		return s.store.Exists(ctx, session.KeyOf(attempt))
	})
	if err != nil {
		return "", fmt.Errorf("failed to check session state: %w", err)
	}
	if exists {
		return "", nil
	}

	_, won, err := s.finalize(ctx, attempt, models.AttemptAbandoned, models.AttemptEndReasonIdle, models.NewAnswerSnapshot())
	if err != nil || !won {
		return "", err
	}
	return models.AttemptAbandoned, nil
}

// expire finalizes an attempt whose test window has closed with the answers
// recorded so far.
func (s *sessionService) expire(ctx context.Context, attempt *models.Attempt) (models.AttemptStatus, error) {
	snapshot, err := retryOnce(ctx, s.opts.RetryBackoff, func() (*models.AnswerSnapshot, error) {
		return s.store.Snapshot(ctx, session.KeyOf(attempt))
	})
	if err != nil {
		return "", fmt.Errorf("failed to read session state: %w", err)
	}
	_, won, err := s.finalize(ctx, attempt, models.AttemptExpired, models.AttemptEndReasonTestEnded, snapshot)
	if err != nil || !won {
		return "", err
	}
	return models.AttemptExpired, nil
}

func (s *sessionService) publish(ctx context.Context, attempt *models.Attempt) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLifecycleEvent(ctx, events.NewAttemptEvent(attempt)); err != nil {
		s.logger.Warn("Failed to publish lifecycle event", "attempt_id", attempt.ID, "status", attempt.Status, "error", err)
	}
}

// timeSpent prefers the elapsed time tracked in ephemeral state and falls
// back to wall clock time since the start.
func timeSpent(attempt *models.Attempt, snapshot *models.AnswerSnapshot, endedAt time.Time) int {
	if snapshot != nil && snapshot.ElapsedSeconds > 0 {
		return snapshot.ElapsedSeconds
	}
	if attempt.StartedAt == nil {
		return 0
	}
	if d := endedAt.Sub(*attempt.StartedAt); d > 0 {
		return int(d.Seconds())
	}
	return 0
}

func testIDsOf(attempts []*models.Attempt) []uint {
	seen := make(map[uint]struct{}, len(attempts))
	ids := make([]uint, 0, len(attempts))
	for _, a := range attempts {
		if _, ok := seen[a.TestID]; ok {
			continue
		}
		seen[a.TestID] = struct{}{}
		ids = append(ids, a.TestID)
	}
	return ids
}
