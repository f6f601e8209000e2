package repositories

import (
	"context"

	"github.com/SAP-F-2025/live-session-service/internal/models"
)

// AttemptRepository is the attempt lifecycle store. Status only changes
// through Create (straight into IN_PROGRESS) and Transition.
type AttemptRepository interface {
	// Create inserts an IN_PROGRESS attempt. Returns ErrDuplicate when the
	// user already holds an IN_PROGRESS attempt for the test.
	Create(ctx context.Context, attempt *models.Attempt) error
	GetByID(ctx context.Context, id uint) (*models.Attempt, error)

	// GetActiveAttempt returns nil, nil when no IN_PROGRESS attempt exists.
	GetActiveAttempt(ctx context.Context, userID string, testID uint) (*models.Attempt, error)
	// GetLatest returns the most recently created attempt for (user, test).
	GetLatest(ctx context.Context, userID string, testID uint) (*models.Attempt, error)
	// HasBlockingAttempt reports an IN_PROGRESS or SUBMITTED attempt.
	HasBlockingAttempt(ctx context.Context, userID string, testID uint) (bool, error)
	HasSubmittedAttempt(ctx context.Context, userID string, testID uint) (bool, error)

	// Transition moves an attempt from one status to another with a
	// conditional update. Returns ErrTransitionConflict when the attempt is
	// no longer in the from status.
	Transition(ctx context.Context, id uint, from, to models.AttemptStatus, update TransitionUpdate) (*models.Attempt, error)

	ScanByStatus(ctx context.Context, status models.AttemptStatus, cursor ScanCursor) ([]*models.Attempt, error)
	ListByTest(ctx context.Context, testID uint, filters AttemptFilters) ([]*models.Attempt, int64, error)

	// Purge is the administrative delete path.
	Purge(ctx context.Context, id uint) error
}
