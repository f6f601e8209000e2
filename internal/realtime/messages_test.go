package realtime

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		want    ClientMessage
		wantErr error
	}{
		{
			name:  "join",
			frame: Frame{Type: FrameJoin, Payload: json.RawMessage(`{"testId":4,"userId":"u1"}`)},
			want:  &JoinMessage{TestID: 4, UserID: "u1"},
		},
		{
			name:  "leave",
			frame: Frame{Type: FrameLeave, Payload: json.RawMessage(`{"testId":4}`)},
			want:  &LeaveMessage{TestID: 4},
		},
		{
			name:  "answer update",
			frame: Frame{Type: FrameAnswerUpdate, Payload: json.RawMessage(`{"testId":4,"userId":"u1","questionId":"q1","answer":"B"}`)},
			want:  &AnswerUpdateMessage{TestID: 4, UserID: "u1", QuestionID: "q1", Answer: "B"},
		},
		{
			name:    "unknown",
			frame:   Frame{Type: "chat", Payload: json.RawMessage(`{}`)},
			wantErr: ErrUnknownFrame,
		},
		{
			name:    "too large",
			frame:   Frame{Type: FrameAnswerUpdate, Payload: json.RawMessage(`"` + strings.Repeat("x", maxFramePayloadBytes) + `"`)},
			wantErr: ErrPayloadTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClientMessage(tt.frame)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("malformed payload", func(t *testing.T) {
		_, err := DecodeClientMessage(Frame{Type: FrameJoin, Payload: json.RawMessage(`{"testId":"x"}`)})
		assert.Error(t, err)
	})

	t.Run("missing payload", func(t *testing.T) {
		_, err := DecodeClientMessage(Frame{Type: FrameLeave})
		assert.Error(t, err)
	})
}

func TestErrorFrame(t *testing.T) {
	frame := ErrorFrame("r1", "FORBIDDEN", "no access", false)
	assert.Equal(t, EventError, frame.Type)
	assert.Equal(t, "r1", frame.RequestID)
	assert.JSONEq(t, `{"code":"FORBIDDEN","message":"no access","retryable":false}`, string(frame.Payload))
}
