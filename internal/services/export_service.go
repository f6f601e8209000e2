package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/SAP-F-2025/live-session-service/internal/repositories"
	"github.com/SAP-F-2025/live-session-service/internal/validator"
	"github.com/xuri/excelize/v2"
)

const exportPageSize = 500

// ExportService produces attempt rosters for proctors
type ExportService interface {
	ExportAttempts(ctx context.Context, testID uint, filters repositories.AttemptFilters) ([]byte, error)
}

type exportService struct {
	repo      repositories.Repository
	validator *validator.Validator
	logger    *slog.Logger
}

func NewExportService(repo repositories.Repository, validator *validator.Validator, logger *slog.Logger) ExportService {
	return &exportService{
		repo:      repo,
		validator: validator,
		logger:    logger,
	}
}

var attemptExportHeaders = []string{
	"Attempt ID", "User ID", "Status", "Started At", "Submitted At",
	"Time Spent (s)", "Answered", "End Reason", "Score",
}

func (s *exportService) ExportAttempts(ctx context.Context, testID uint, filters repositories.AttemptFilters) ([]byte, error) {
	if err := s.validator.Validate(filters); err != nil {
		return nil, err
	}

	if _, err := s.repo.Test().GetByID(ctx, testID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	attempts, err := s.collectAttempts(ctx, testID, filters)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	sheetName := "Attempts"

	// Create sheet
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	// Write headers
	for i, header := range attemptExportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}

	// Write data
	for rowIndex, attempt := range attempts {
		for colIndex, value := range attemptExportRow(attempt) {
			cell, _ := excelize.CoordinatesToCellName(colIndex+1, rowIndex+2)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}

	s.logger.Info("Exported attempts", "test_id", testID, "rows", len(attempts))
	return buf.Bytes(), nil
}

// collectAttempts pages through all attempts unless the caller set a limit.
func (s *exportService) collectAttempts(ctx context.Context, testID uint, filters repositories.AttemptFilters) ([]*models.Attempt, error) {
	if filters.Limit > 0 {
		attempts, _, err := s.repo.Attempt().ListByTest(ctx, testID, filters)
		if err != nil {
			return nil, fmt.Errorf("failed to list attempts: %w", err)
		}
		return attempts, nil
	}

	var all []*models.Attempt
	filters.Limit = exportPageSize
	for {
		page, total, err := s.repo.Attempt().ListByTest(ctx, testID, filters)
		if err != nil {
			return nil, fmt.Errorf("failed to list attempts: %w", err)
		}
		all = append(all, page...)
		filters.Offset += len(page)
		if len(page) < exportPageSize || int64(filters.Offset) >= total {
			return all, nil
		}
	}
}

func attemptExportRow(attempt *models.Attempt) []interface{} {
	answered := 0
	if answers, err := attempt.AnswerSet(); err == nil {
		answered = len(answers)
	}

	endReason := ""
	if attempt.EndReason != nil {
		endReason = *attempt.EndReason
	}

	var score interface{} = "pending"
	if attempt.Score != nil {
		score = *attempt.Score
	}

	return []interface{}{
		attempt.ID,
		attempt.UserID,
		string(attempt.Status),
		formatTime(attempt.StartedAt),
		formatTime(attempt.SubmittedAt),
		attempt.TimeSpent,
		answered,
		endReason,
		score,
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
