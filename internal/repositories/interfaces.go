package repositories

import (
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type AttemptFilters struct {
	Status    models.AttemptStatus `json:"status" form:"status" validate:"omitempty,attempt_status"`
	UserID    string               `json:"user_id" form:"user_id" validate:"omitempty,max=255"`
	Limit     int                  `json:"limit" form:"limit" validate:"omitempty,min=1,max=1000"`
	Offset    int                  `json:"offset" form:"offset" validate:"omitempty,min=0"`
	SortOrder string               `json:"sort_order" form:"sort_order" validate:"omitempty,oneof=asc desc"`
}

// ScanCursor pages through attempts by ascending primary key so that rows
// transitioned mid-scan never shift later pages.
type ScanCursor struct {
	AfterID uint
	Limit   int
}

// ===== SHARED HELPER STRUCTS =====

// TransitionUpdate carries the columns written together with a status change.
type TransitionUpdate struct {
	Answers   map[string]string
	TimeSpent int
	EndedAt   time.Time
	EndReason string
}
