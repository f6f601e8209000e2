package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "NOT_STARTED"
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptSubmitted  AttemptStatus = "SUBMITTED"
	AttemptExpired    AttemptStatus = "EXPIRED"
	AttemptAbandoned  AttemptStatus = "ABANDONED"
)

const (
	AttemptEndReasonSubmitted = "submitted"
	AttemptEndReasonTestEnded = "test_ended"
	AttemptEndReasonIdle      = "idle_timeout"
)

// IsTerminal reports whether no further transition is possible.
func (s AttemptStatus) IsTerminal() bool {
	switch s {
	case AttemptSubmitted, AttemptExpired, AttemptAbandoned:
		return true
	}
	return false
}

func (s AttemptStatus) IsValid() bool {
	switch s {
	case AttemptNotStarted, AttemptInProgress, AttemptSubmitted, AttemptExpired, AttemptAbandoned:
		return true
	}
	return false
}

// Attempt is the durable record of one user taking one test. At most one
// IN_PROGRESS attempt exists per (user_id, test_id); a partial unique index
// created by the migration enforces it.
type Attempt struct {
	ID     uint          `json:"id" gorm:"primaryKey"`
	UserID string        `json:"user_id" gorm:"not null;size:255;index:idx_attempts_user_test"`
	TestID uint          `json:"test_id" gorm:"not null;index:idx_attempts_user_test"`
	Status AttemptStatus `json:"status" gorm:"not null;size:20;default:NOT_STARTED;index"`

	// Timing
	StartedAt   *time.Time `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at"`
	TimeSpent   int        `json:"time_spent"` // seconds

	// Answers holds the reconciled questionId -> answer map. Empty until the
	// attempt leaves IN_PROGRESS.
	Answers   datatypes.JSON `json:"answers" gorm:"type:jsonb"`
	Score     *float64       `json:"score"`
	EndReason *string        `json:"end_reason" gorm:"size:50"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Attempt) TableName() string {
	return "attempts"
}

// AnswerSet decodes the reconciled answers.
func (a *Attempt) AnswerSet() (map[string]string, error) {
	answers := make(map[string]string)
	if len(a.Answers) == 0 {
		return answers, nil
	}
	if err := json.Unmarshal(a.Answers, &answers); err != nil {
		return nil, err
	}
	return answers, nil
}

// ScorePending is true until an external grader fills in Score.
func (a *Attempt) ScorePending() bool {
	return a.Score == nil
}
