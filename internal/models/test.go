package models

import "time"

// Test is the assessment a live session runs against. Tests are owned by the
// content catalog and never modified while a session is open.
type Test struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	Title       string `json:"title" gorm:"not null;size:200"`
	Price       int64  `json:"price" gorm:"not null;default:0"` // minor currency units, 0 = free
	IsPublished bool   `json:"is_published" gorm:"default:false;index"`

	// Availability window, both ends optional
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at" gorm:"index"`

	AllowMultipleAttempts bool `json:"allow_multiple_attempts" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Test) TableName() string {
	return "tests"
}

func (t *Test) IsPaid() bool {
	return t.Price > 0
}

func (t *Test) HasStarted(now time.Time) bool {
	return t.StartsAt == nil || !now.Before(*t.StartsAt)
}

func (t *Test) HasEnded(now time.Time) bool {
	return t.EndsAt != nil && now.After(*t.EndsAt)
}
