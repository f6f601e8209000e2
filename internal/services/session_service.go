package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/events"
	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/SAP-F-2025/live-session-service/internal/realtime"
	"github.com/SAP-F-2025/live-session-service/internal/repositories"
	"github.com/SAP-F-2025/live-session-service/internal/session"
)

// Rooms is the part of the broadcast hub the coordinator drives.
type Rooms interface {
	Join(ctx context.Context, testID uint, conn realtime.Conn, userID string) error
	Leave(ctx context.Context, conn realtime.Conn) (uint, bool)
	LeaveUser(ctx context.Context, testID uint, userID string) []realtime.Conn
	Broadcast(testID uint, event string, payload any, exclude realtime.Conn)
	Members(testID uint) []realtime.Member
}

type StartResult struct {
	Attempt  *models.Attempt        `json:"attempt"`
	Snapshot *models.AnswerSnapshot `json:"snapshot"`
	Resumed  bool                   `json:"resumed"`
}

type SubmitResult struct {
	Attempt      *models.Attempt `json:"attempt"`
	ScorePending bool            `json:"score_pending"`
	// AlreadyFinal is set when the attempt had left IN_PROGRESS before this call.
	AlreadyFinal bool `json:"already_final"`
}

type SweepResult struct {
	Scanned   int `json:"scanned"`
	Expired   int `json:"expired"`
	Abandoned int `json:"abandoned"`
	Skipped   int `json:"skipped"`
}

// SessionService coordinates entitlement, the attempt store, ephemeral
// answer state and the room hub for live test sessions.
type SessionService interface {
	// StartOrResume validates access and the test window, then resumes the
	// in-progress attempt or creates one. conn may be nil for HTTP callers.
	StartOrResume(ctx context.Context, userID string, testID uint, conn realtime.Conn) (*StartResult, error)
	// Resume reattaches to the existing in-progress attempt only.
	Resume(ctx context.Context, userID string, testID uint, conn realtime.Conn) (*StartResult, error)
	RecordAnswer(ctx context.Context, userID string, testID uint, questionID, answer string, origin realtime.Conn) error
	Snapshot(ctx context.Context, userID string, testID uint) (*StartResult, error)
	Submit(ctx context.Context, userID string, testID uint) (*SubmitResult, error)
	Leave(ctx context.Context, conn realtime.Conn) (uint, bool)
	Cleanup(ctx context.Context, userID string, attemptID uint) error
	CleanupAbandoned(ctx context.Context) (*SweepResult, error)

	// Administrative
	Purge(ctx context.Context, attemptID uint) error
	Presence(ctx context.Context, testID uint) ([]realtime.Member, error)
}

// SessionOptions holds the timing knobs of the coordinator.
type SessionOptions struct {
	IdleTTL        time.Duration
	RetryBackoff   time.Duration
	SweepBatchSize int
}

type sessionService struct {
	repo        repositories.Repository
	entitlement EntitlementService
	store       session.Store
	rooms       Rooms
	presence    realtime.Presence
	publisher   events.EventPublisher
	opts        SessionOptions
	logger      *slog.Logger
	ops         *ServiceLogger
	now         func() time.Time
}

// NewSessionService wires the coordinator. presence is optional; without it
// the presence view only covers this node.
func NewSessionService(
	repo repositories.Repository,
	entitlement EntitlementService,
	store session.Store,
	rooms Rooms,
	presence realtime.Presence,
	publisher events.EventPublisher,
	opts SessionOptions,
	logger *slog.Logger,
) SessionService {
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = 200
	}
	return &sessionService{
		repo:        repo,
		entitlement: entitlement,
		store:       store,
		rooms:       rooms,
		presence:    presence,
		publisher:   publisher,
		opts:        opts,
		logger:      logger,
		ops:         NewServiceLogger(logger, LogConfig{Service: "session", Component: "coordinator"}),
		now:         time.Now,
	}
}

// ===== START / RESUME =====

func (s *sessionService) StartOrResume(ctx context.Context, userID string, testID uint, conn realtime.Conn) (result *StartResult, err error) {
	defer func(start time.Time) {
		s.ops.LogOperation(ctx, "start_or_resume", userID, testID, "test", time.Since(start), err)
	}(time.Now())

	test, err := s.openTest(ctx, userID, testID)
	if err != nil {
		return nil, err
	}

	active, err := retryOnce(ctx, s.opts.RetryBackoff, func() (*models.Attempt, error) {
		return s.repo.Attempt().GetActiveAttempt(ctx, userID, testID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get active attempt: %w", err)
	}

	if active != nil {
		if !test.AllowMultipleAttempts {
			return nil, ErrAttemptExists
		}
		return s.attach(ctx, active, conn, true)
	}

	if !test.AllowMultipleAttempts {
		blocking, err := retryOnce(ctx, s.opts.RetryBackoff, func() (bool, error) {
			return s.repo.Attempt().HasBlockingAttempt(ctx, userID, testID)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to check existing attempts: %w", err)
		}
		if blocking {
			return nil, ErrAttemptExists
		}
	}

	attempt, created, err := s.createAttempt(ctx, userID, test)
	if err != nil {
		return nil, err
	}

	result, err = s.attach(ctx, attempt, conn, !created)
	if err != nil {
		return nil, err
	}
	if created {
		s.publish(ctx, attempt)
	}
	return result, nil
}

func (s *sessionService) Resume(ctx context.Context, userID string, testID uint, conn realtime.Conn) (result *StartResult, err error) {
	defer func(start time.Time) {
		s.ops.LogOperation(ctx, "resume", userID, testID, "test", time.Since(start), err)
	}(time.Now())

	if _, err := s.openTest(ctx, userID, testID); err != nil {
		return nil, err
	}

	active, err := retryOnce(ctx, s.opts.RetryBackoff, func() (*models.Attempt, error) {
		return s.repo.Attempt().GetActiveAttempt(ctx, userID, testID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get active attempt: %w", err)
	}
	if active == nil {
		return nil, ErrNoActiveAttempt
	}

	return s.attach(ctx, active, conn, true)
}

// ===== ANSWERS =====

func (s *sessionService) RecordAnswer(ctx context.Context, userID string, testID uint, questionID, answer string, origin realtime.Conn) error {
	active, err := retryOnce(ctx, s.opts.RetryBackoff, func() (*models.Attempt, error) {
		return s.repo.Attempt().GetActiveAttempt(ctx, userID, testID)
	})
	if err != nil {
		return fmt.Errorf("failed to get active attempt: %w", err)
	}
	if active == nil {
		return ErrNoActiveAttempt
	}

	test, err := retryOnce(ctx, s.opts.RetryBackoff, func() (*models.Test, error) {
		return s.repo.Test().GetByID(ctx, testID)
	})
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrTestNotFound
		}
		return fmt.Errorf("failed to get test: %w", err)
	}
	if test.HasEnded(s.now()) {
		// answers recorded before the close are kept
		if _, err := s.expire(ctx, active); err != nil {
			s.logger.Warn("Failed to expire attempt", "attempt_id", active.ID, "error", err)
		}
		return ErrTestClosed
	}

	err = retryOnceErr(ctx, s.opts.RetryBackoff, func() error {
		return s.store.Put(ctx, session.KeyOf(active), questionID, answer)
	})
	if errors.Is(err, session.ErrNoState) {
		// finalized or cleaned up after the active check
		return ErrNoActiveAttempt
	}
	if err != nil {
		return fmt.Errorf("failed to record answer: %w", err)
	}

	s.rooms.Broadcast(testID, realtime.EventTestUpdate, realtime.TestUpdatePayload{
		TestID:     testID,
		UserID:     userID,
		QuestionID: questionID,
		Answer:     answer,
	}, origin)
	return nil
}

func (s *sessionService) Snapshot(ctx context.Context, userID string, testID uint) (*StartResult, error) {
	active, err := retryOnce(ctx, s.opts.RetryBackoff, func() (*models.Attempt, error) {
		return s.repo.Attempt().GetActiveAttempt(ctx, userID, testID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get active attempt: %w", err)
	}
	if active == nil {
		return nil, ErrNoActiveAttempt
	}

	snapshot, err := retryOnce(ctx, s.opts.RetryBackoff, func() (*models.AnswerSnapshot, error) {
		return s.store.Snapshot(ctx, session.KeyOf(active))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}
	return &StartResult{Attempt: active, Snapshot: snapshot, Resumed: true}, nil
}

// ===== SUBMIT =====

// Submit is the single reconciliation point. Repeated calls return the
// attempt as first finalized.
func (s *sessionService) Submit(ctx context.Context, userID string, testID uint) (result *SubmitResult, err error) {
	defer func(start time.Time) {
		s.ops.LogOperation(ctx, "submit", userID, testID, "test", time.Since(start), err)
	}(time.Now())

	latest, err := retryOnce(ctx, s.opts.RetryBackoff, func() (*models.Attempt, error) {
		return s.repo.Attempt().GetLatest(ctx, userID, testID)
	})
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrNoActiveAttempt
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if latest.Status != models.AttemptInProgress {
		return s.finalResult(latest, true), nil
	}

	snapshot, err := retryOnce(ctx, s.opts.RetryBackoff, func() (*models.AnswerSnapshot, error) {
		return s.store.Snapshot(ctx, session.KeyOf(latest))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}

	updated, won, err := s.finalize(ctx, latest, models.AttemptSubmitted, models.AttemptEndReasonSubmitted, snapshot)
	if err != nil {
		return nil, err
	}
	if !won {
		return s.finalResult(updated, true), nil
	}

	s.logger.Info("Attempt submitted",
		"attempt_id", updated.ID,
		"user_id", userID,
		"test_id", testID,
		"answers", len(snapshot.Answers))
	return s.finalResult(updated, false), nil
}

// ===== CONNECTIONS / CLEANUP =====

func (s *sessionService) Leave(ctx context.Context, conn realtime.Conn) (uint, bool) {
	return s.rooms.Leave(ctx, conn)
}

func (s *sessionService) Cleanup(ctx context.Context, userID string, attemptID uint) (err error) {
	defer func(start time.Time) {
		s.ops.LogOperation(ctx, "cleanup", userID, attemptID, "attempt", time.Since(start), err)
	}(time.Now())

	attempt, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if attempt.UserID != userID {
		permErr := NewPermissionError(userID, attemptID, "attempt", "cleanup", "not the attempt owner")
		s.ops.LogPermissionDenied(ctx, "cleanup", permErr)
		return permErr
	}

	if err := retryOnceErr(ctx, s.opts.RetryBackoff, func() error {
		return s.store.Clear(ctx, session.KeyOf(attempt))
	}); err != nil {
		return fmt.Errorf("failed to clear session state: %w", err)
	}
	s.rooms.LeaveUser(ctx, attempt.TestID, userID)
	return nil
}

// CleanupAbandoned finalizes IN_PROGRESS attempts whose test window closed
// (EXPIRED) or whose ephemeral state lapsed while the window is still open
// (ABANDONED). Rows are paged by id so transitions never shift the scan.
func (s *sessionService) CleanupAbandoned(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}
	cursor := repositories.ScanCursor{Limit: s.opts.SweepBatchSize}
	var errs []error

	for {
		page, err := retryOnce(ctx, s.opts.RetryBackoff, func() ([]*models.Attempt, error) {
			return s.repo.Attempt().ScanByStatus(ctx, models.AttemptInProgress, cursor)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to scan attempts: %w", err))
			break
		}
		if len(page) == 0 {
			break
		}
		cursor.AfterID = page[len(page)-1].ID

		tests, err := retryOnce(ctx, s.opts.RetryBackoff, func() (map[uint]*models.Test, error) {
			return s.repo.Test().GetByIDs(ctx, testIDsOf(page))
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to load tests: %w", err))
			break
		}

		for _, attempt := range page {
			result.Scanned++
			outcome, err := s.sweepOne(ctx, attempt, tests[attempt.TestID])
			if err != nil {
				errs = append(errs, fmt.Errorf("attempt %d: %w", attempt.ID, err))
			}
			switch outcome {
			case models.AttemptExpired:
				result.Expired++
			case models.AttemptAbandoned:
				result.Abandoned++
			default:
				result.Skipped++
			}
		}

		if len(page) < cursor.Limit || ctx.Err() != nil {
			break
		}
	}

	if result.Expired > 0 || result.Abandoned > 0 {
		s.logger.Info("Sweep finalized attempts",
			"scanned", result.Scanned,
			"expired", result.Expired,
			"abandoned", result.Abandoned)
	}
	return result, errors.Join(errs...)
}

// ===== ADMINISTRATIVE =====

func (s *sessionService) Purge(ctx context.Context, attemptID uint) error {
	attempt, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return err
	}

	if attempt.Status == models.AttemptInProgress {
		if err := s.store.Clear(ctx, session.KeyOf(attempt)); err != nil {
			s.logger.Warn("Failed to clear session state before purge", "attempt_id", attemptID, "error", err)
		}
		s.rooms.LeaveUser(ctx, attempt.TestID, attempt.UserID)
	}

	if err := retryOnceErr(ctx, s.opts.RetryBackoff, func() error {
		return s.repo.Attempt().Purge(ctx, attemptID)
	}); err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("failed to purge attempt: %w", err)
	}

	s.logger.Warn("Attempt purged", "attempt_id", attemptID, "user_id", attempt.UserID, "test_id", attempt.TestID)
	return nil
}

func (s *sessionService) Presence(ctx context.Context, testID uint) ([]realtime.Member, error) {
	if s.presence == nil {
		return s.rooms.Members(testID), nil
	}
	members, err := retryOnce(ctx, s.opts.RetryBackoff, func() ([]realtime.Member, error) {
		return s.presence.List(ctx, testID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}
	return members, nil
}
