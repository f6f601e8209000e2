package postgres

import (
	"context"

	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/SAP-F-2025/live-session-service/internal/repositories"
	"gorm.io/gorm"
)

type TestPostgreSQL struct {
	db *gorm.DB
}

func NewTestPostgreSQL(db *gorm.DB) repositories.TestRepository {
	return &TestPostgreSQL{db: db}
}

func (t TestPostgreSQL) GetByID(ctx context.Context, id uint) (*models.Test, error) {
	var test models.Test
	if err := t.db.WithContext(ctx).First(&test, id).Error; err != nil {
		return nil, err
	}
	return &test, nil
}

func (t TestPostgreSQL) GetByIDs(ctx context.Context, ids []uint) (map[uint]*models.Test, error) {
	tests := make(map[uint]*models.Test, len(ids))
	if len(ids) == 0 {
		return tests, nil
	}

	var rows []*models.Test
	if err := t.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		tests[row.ID] = row
	}
	return tests, nil
}
