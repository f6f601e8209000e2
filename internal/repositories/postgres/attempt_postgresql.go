package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/SAP-F-2025/live-session-service/internal/repositories"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AttemptPostgreSQL struct {
	db *gorm.DB
}

func NewAttemptPostgreSQL(db *gorm.DB) repositories.AttemptRepository {
	return &AttemptPostgreSQL{db: db}
}

func (a AttemptPostgreSQL) Create(ctx context.Context, attempt *models.Attempt) error {
	if err := a.db.WithContext(ctx).Create(attempt).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", repositories.ErrDuplicate, err)
		}
		return err
	}
	return nil
}

func (a AttemptPostgreSQL) GetByID(ctx context.Context, id uint) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := a.db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		return nil, err
	}

	return &attempt, nil
}

func (a AttemptPostgreSQL) GetActiveAttempt(ctx context.Context, userID string, testID uint) (*models.Attempt, error) {
	var attempts []models.Attempt
	if err := a.db.WithContext(ctx).
		Where("user_id = ? AND test_id = ? AND status = ?", userID, testID, models.AttemptInProgress).
		Limit(1).
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, nil
	}

	return &attempts[0], nil
}

func (a AttemptPostgreSQL) GetLatest(ctx context.Context, userID string, testID uint) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := a.db.WithContext(ctx).
		Where("user_id = ? AND test_id = ?", userID, testID).
		Order("id DESC").
		First(&attempt).Error; err != nil {
		return nil, err
	}

	return &attempt, nil
}

func (a AttemptPostgreSQL) HasBlockingAttempt(ctx context.Context, userID string, testID uint) (bool, error) {
	var count int64
	if err := a.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("user_id = ? AND test_id = ? AND status IN ?", userID, testID,
			[]models.AttemptStatus{models.AttemptInProgress, models.AttemptSubmitted}).
		Count(&count).Error; err != nil {
		return false, err
	}

	return count > 0, nil
}

func (a AttemptPostgreSQL) HasSubmittedAttempt(ctx context.Context, userID string, testID uint) (bool, error) {
	var count int64
	if err := a.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("user_id = ? AND test_id = ? AND status = ?", userID, testID, models.AttemptSubmitted).
		Count(&count).Error; err != nil {
		return false, err
	}

	return count > 0, nil
}

func (a AttemptPostgreSQL) Transition(ctx context.Context, id uint, from, to models.AttemptStatus, update repositories.TransitionUpdate) (*models.Attempt, error) {
	answers := update.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	answerBytes, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answers: %w", err)
	}

	values := map[string]interface{}{
		"status":     to,
		"answers":    datatypes.JSON(answerBytes),
		"time_spent": update.TimeSpent,
		"updated_at": update.EndedAt,
	}
	if to.IsTerminal() {
		values["submitted_at"] = update.EndedAt
	}
	if update.EndReason != "" {
		values["end_reason"] = update.EndReason
	}

	result := a.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, repositories.ErrTransitionConflict
	}

	return a.GetByID(ctx, id)
}

func (a AttemptPostgreSQL) ScanByStatus(ctx context.Context, status models.AttemptStatus, cursor repositories.ScanCursor) ([]*models.Attempt, error) {
	var attempts []*models.Attempt
	query := a.db.WithContext(ctx).
		Where("status = ? AND id > ?", status, cursor.AfterID).
		Order("id ASC")
	if cursor.Limit > 0 {
		query = query.Limit(cursor.Limit)
	}

	if err := query.Find(&attempts).Error; err != nil {
		return nil, err
	}

	return attempts, nil
}

func (a AttemptPostgreSQL) ListByTest(ctx context.Context, testID uint, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	var attempts []*models.Attempt
	var total int64

	// apply filter first
	query := a.db.WithContext(ctx).Model(&models.Attempt{}).Where("test_id = ?", testID)
	query = a.applyFiltersAttempt(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then apply pagination and sorting
	query = a.applyPaginationAndSortAttempt(query, filters)

	if err := query.Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

func (a AttemptPostgreSQL) Purge(ctx context.Context, id uint) error {
	result := a.db.WithContext(ctx).Delete(&models.Attempt{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// applyFiltersAttempt applies common filters to a query
func (a AttemptPostgreSQL) applyFiltersAttempt(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}
	return query
}

// applyPaginationAndSortAttempt applies pagination and sorting to a query
func (a AttemptPostgreSQL) applyPaginationAndSortAttempt(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	if filters.SortOrder == "desc" {
		query = query.Order("id DESC")
	} else {
		query = query.Order("id ASC")
	}
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}
	return query
}
