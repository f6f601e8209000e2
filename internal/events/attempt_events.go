package events

import (
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/google/uuid"
)

const (
	eventSource  = "live-session-service"
	eventVersion = "1.0"
)

// EventType represents the attempt lifecycle transitions published downstream
type EventType string

const (
	EventAttemptStarted   EventType = "attempt.started"
	EventAttemptSubmitted EventType = "attempt.submitted"
	EventAttemptExpired   EventType = "attempt.expired"
	EventAttemptAbandoned EventType = "attempt.abandoned"
)

// LifecycleEvent is the envelope for every attempt lifecycle event
type LifecycleEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	Data      AttemptEventData       `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// AttemptEventData is the payload shared by all lifecycle events. Graders
// consume SUBMITTED and EXPIRED events to fill in the score.
type AttemptEventData struct {
	AttemptID   uint                 `json:"attempt_id"`
	TestID      uint                 `json:"test_id"`
	UserID      string               `json:"user_id"`
	Status      models.AttemptStatus `json:"status"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	EndedAt     *time.Time           `json:"ended_at,omitempty"`
	TimeSpent   int                  `json:"time_spent"`
	AnswerCount int                  `json:"answer_count"`
	EndReason   string               `json:"end_reason,omitempty"`
}

// NewAttemptEvent builds the lifecycle event matching the attempt's status.
func NewAttemptEvent(attempt *models.Attempt) *LifecycleEvent {
	data := AttemptEventData{
		AttemptID: attempt.ID,
		TestID:    attempt.TestID,
		UserID:    attempt.UserID,
		Status:    attempt.Status,
		StartedAt: attempt.StartedAt,
		EndedAt:   attempt.SubmittedAt,
		TimeSpent: attempt.TimeSpent,
	}
	if attempt.EndReason != nil {
		data.EndReason = *attempt.EndReason
	}
	if answers, err := attempt.AnswerSet(); err == nil {
		data.AnswerCount = len(answers)
	}

	return &LifecycleEvent{
		ID:        GenerateEventID(),
		Type:      eventTypeFor(attempt.Status),
		Timestamp: time.Now(),
		Source:    eventSource,
		Version:   eventVersion,
		Data:      data,
	}
}

func eventTypeFor(status models.AttemptStatus) EventType {
	switch status {
	case models.AttemptSubmitted:
		return EventAttemptSubmitted
	case models.AttemptExpired:
		return EventAttemptExpired
	case models.AttemptAbandoned:
		return EventAttemptAbandoned
	default:
		return EventAttemptStarted
	}
}

func GenerateEventID() string {
	return uuid.NewString()
}
