package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/SAP-F-2025/live-session-service/internal/models"
)

const (
	maxFramePayloadBytes = 16 * 1024
)

// Client frame types.
const (
	FrameJoin         = "join"
	FrameLeave        = "leave"
	FrameAnswerUpdate = "answer-update"
)

// Server event types.
const (
	EventJoined      = "joined"
	EventUserJoined  = "user-joined"
	EventTestUpdate  = "test-update"
	EventUserLeft    = "user-left"
	EventAnswerSaved = "answer-saved"
	EventLeft        = "left"
	EventError       = "error"
)

var (
	ErrUnknownFrame    = errors.New("unsupported frame type")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Frame is the single wire shape in both directions.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload into a frame. A payload that cannot be encoded
// yields a frame with no payload.
func NewFrame(event, requestID string, payload any) Frame {
	frame := Frame{Type: event, RequestID: requestID}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			frame.Payload = b
		}
	}
	return frame
}

// ClientMessage is one of JoinMessage, LeaveMessage or AnswerUpdateMessage.
type ClientMessage interface {
	clientMessage()
}

type JoinMessage struct {
	TestID uint   `json:"testId" validate:"required"`
	UserID string `json:"userId" validate:"omitempty,max=255"`
}

type LeaveMessage struct {
	TestID uint `json:"testId" validate:"required"`
}

type AnswerUpdateMessage struct {
	TestID     uint   `json:"testId" validate:"required"`
	UserID     string `json:"userId" validate:"omitempty,max=255"`
	QuestionID string `json:"questionId" validate:"required,max=255"`
	Answer     string `json:"answer" validate:"max=10000"`
}

func (JoinMessage) clientMessage()         {}
func (LeaveMessage) clientMessage()        {}
func (AnswerUpdateMessage) clientMessage() {}

// DecodeClientMessage maps a client frame onto its typed message.
func DecodeClientMessage(frame Frame) (ClientMessage, error) {
	if len(frame.Payload) > maxFramePayloadBytes {
		return nil, ErrPayloadTooLarge
	}

	var msg ClientMessage
	switch frame.Type {
	case FrameJoin:
		msg = &JoinMessage{}
	case FrameLeave:
		msg = &LeaveMessage{}
	case FrameAnswerUpdate:
		msg = &AnswerUpdateMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, frame.Type)
	}

	if len(frame.Payload) == 0 {
		return nil, fmt.Errorf("%s payload is required", frame.Type)
	}
	if err := json.Unmarshal(frame.Payload, msg); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", frame.Type, err)
	}
	return msg, nil
}

// Outbound payloads

type JoinedPayload struct {
	TestID   uint                   `json:"testId"`
	Attempt  *models.Attempt        `json:"attempt"`
	Snapshot *models.AnswerSnapshot `json:"snapshot"`
	Resumed  bool                   `json:"resumed"`
}

type UserPayload struct {
	UserID string `json:"userId"`
}

type TestUpdatePayload struct {
	TestID     uint   `json:"testId"`
	UserID     string `json:"userId"`
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

type AnswerSavedPayload struct {
	TestID     uint   `json:"testId"`
	QuestionID string `json:"questionId"`
}

type LeftPayload struct {
	TestID uint `json:"testId"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func ErrorFrame(requestID, code, message string, retryable bool) Frame {
	return NewFrame(EventError, requestID, ErrorPayload{
		Code:      code,
		Message:   message,
		Retryable: retryable,
	})
}
