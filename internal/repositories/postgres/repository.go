package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/SAP-F-2025/live-session-service/internal/repositories"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const uniqueViolationCode = "23505"

type repository struct {
	tests       repositories.TestRepository
	attempts    repositories.AttemptRepository
	entitlement repositories.EntitlementRepository
}

func NewRepository(db *gorm.DB) repositories.Repository {
	return &repository{
		tests:       NewTestPostgreSQL(db),
		attempts:    NewAttemptPostgreSQL(db),
		entitlement: NewEntitlementPostgreSQL(db),
	}
}

func (r *repository) Test() repositories.TestRepository               { return r.tests }
func (r *repository) Attempt() repositories.AttemptRepository         { return r.attempts }
func (r *repository) Entitlement() repositories.EntitlementRepository { return r.entitlement }

// AutoMigrate creates the tables and the partial unique index that allows a
// single IN_PROGRESS attempt per user and test.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Test{},
		&models.Attempt{},
		&models.Purchase{},
		&models.Subscription{},
		&models.SubscriptionPlanTest{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_one_in_progress
		ON attempts (user_id, test_id) WHERE status = 'IN_PROGRESS'`).Error; err != nil {
		return fmt.Errorf("failed to create in-progress index: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	// sqlite, used by the test suite
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
