package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func submittedAttempt() *models.Attempt {
	started := time.Now().Add(-time.Hour)
	ended := time.Now()
	reason := models.AttemptEndReasonSubmitted
	return &models.Attempt{
		ID:          9,
		UserID:      "u1",
		TestID:      3,
		Status:      models.AttemptSubmitted,
		StartedAt:   &started,
		SubmittedAt: &ended,
		TimeSpent:   3600,
		Answers:     datatypes.JSON(`{"q1":"A","q2":"B"}`),
		EndReason:   &reason,
	}
}

func TestNewAttemptEvent(t *testing.T) {
	event := NewAttemptEvent(submittedAttempt())

	assert.Equal(t, EventAttemptSubmitted, event.Type)
	assert.Equal(t, "live-session-service", event.Source)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, 2, event.Data.AnswerCount)
	assert.Equal(t, models.AttemptEndReasonSubmitted, event.Data.EndReason)

	tests := []struct {
		status models.AttemptStatus
		want   EventType
	}{
		{models.AttemptInProgress, EventAttemptStarted},
		{models.AttemptExpired, EventAttemptExpired},
		{models.AttemptAbandoned, EventAttemptAbandoned},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, eventTypeFor(tt.status))
	}
}

func TestWatermillEventPublisher(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(logger))
	defer pubSub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, "attempt-lifecycle")
	require.NoError(t, err)

	publisher := NewWatermillEventPublisher(pubSub, "attempt-lifecycle", logger)
	event := NewAttemptEvent(submittedAttempt())
	require.NoError(t, publisher.PublishLifecycleEvent(ctx, event))

	select {
	case msg := <-messages:
		assert.Equal(t, event.ID, msg.UUID)
		assert.Equal(t, string(EventAttemptSubmitted), msg.Metadata.Get("event_type"))

		var decoded LifecycleEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
		assert.Equal(t, uint(9), decoded.Data.AttemptID)
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("lifecycle event was not delivered")
	}
}

func TestMockEventPublisher(t *testing.T) {
	m := NewMockEventPublisher(slog.New(slog.DiscardHandler))

	require.NoError(t, m.PublishLifecycleEvent(context.Background(), NewAttemptEvent(submittedAttempt())))
	assert.Len(t, m.GetPublishedEvents(), 1)

	m.ClearEvents()
	assert.Empty(t, m.GetPublishedEvents())
}
