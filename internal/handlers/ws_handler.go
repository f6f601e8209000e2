package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/realtime"
	"github.com/SAP-F-2025/live-session-service/internal/services"
	"github.com/SAP-F-2025/live-session-service/internal/utils"
	"github.com/SAP-F-2025/live-session-service/internal/validator"
	"github.com/gin-gonic/gin"
	"golang.org/x/net/websocket"
)

const (
	wsMaxMessageBytes = 64 * 1024
	wsFrameTimeout    = 10 * time.Second
)

// WSHandler upgrades authenticated requests to the live session socket.
type WSHandler struct {
	BaseHandler
	sessionService services.SessionService
	validator      *validator.Validator
	sendBuffer     int
}

func NewWSHandler(
	sessionService services.SessionService,
	validator *validator.Validator,
	sendBuffer int,
	logger utils.Logger,
) *WSHandler {
	return &WSHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
		validator:      validator,
		sendBuffer:     sendBuffer,
	}
}

// Serve handles GET /ws
func (h *WSHandler) Serve(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	server := websocket.Server{
		// Origin checks are left to the gateway; the caller is already
		// authenticated.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(ws *websocket.Conn) {
			ws.MaxPayloadBytes = wsMaxMessageBytes
			h.serveConn(ws, userID)
		},
	}
	server.ServeHTTP(c.Writer, c.Request)
}

func (h *WSHandler) serveConn(ws *websocket.Conn, userID string) {
	client := realtime.NewClient(ws, h.sendBuffer, utils.ToSlogLogger(h.logger))
	go client.WritePump()

	base := services.WithRequestID(ws.Request().Context(), client.ID())
	h.logger.Debug("Websocket connected", "conn_id", client.ID(), "user_id", userID)

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), wsFrameTimeout)
		defer cancel()
		if testID, ok := h.sessionService.Leave(ctx, client); ok {
			h.logger.Debug("Websocket left room on disconnect", "conn_id", client.ID(), "test_id", testID)
		}
		_ = client.Close()
		h.logger.Debug("Websocket disconnected", "conn_id", client.ID(), "user_id", userID)
	}()

	for {
		frame, err := client.ReadFrame()
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				client.Send(realtime.ErrorFrame("", CodeBadRequest, "malformed frame", false))
				continue
			}
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				client.Send(realtime.ErrorFrame("", CodeBadRequest, realtime.ErrPayloadTooLarge.Error(), false))
				continue
			}
			if !errors.Is(err, io.EOF) {
				h.logger.Debug("Websocket read failed", "conn_id", client.ID(), "error", err)
			}
			return
		}

		ctx, cancel := context.WithTimeout(base, wsFrameTimeout)
		h.handleFrame(ctx, client, userID, frame)
		cancel()
	}
}

func (h *WSHandler) handleFrame(ctx context.Context, client *realtime.Client, userID string, frame realtime.Frame) {
	msg, err := realtime.DecodeClientMessage(frame)
	if err != nil {
		code := CodeBadRequest
		if errors.Is(err, realtime.ErrUnknownFrame) {
			code = CodeUnknownMessage
		}
		client.Send(realtime.ErrorFrame(frame.RequestID, code, err.Error(), false))
		return
	}
	if err := h.validator.Validate(msg); err != nil {
		h.sendError(client, frame.RequestID, err)
		return
	}

	switch m := msg.(type) {
	case *realtime.JoinMessage:
		if !h.sameUser(client, frame.RequestID, userID, m.UserID) {
			return
		}
		result, err := startOrResume(ctx, h.sessionService, userID, m.TestID, client)
		if err != nil {
			h.sendError(client, frame.RequestID, err)
			return
		}
		client.Send(realtime.NewFrame(realtime.EventJoined, frame.RequestID, realtime.JoinedPayload{
			TestID:   m.TestID,
			Attempt:  result.Attempt,
			Snapshot: result.Snapshot,
			Resumed:  result.Resumed,
		}))

	case *realtime.AnswerUpdateMessage:
		if !h.sameUser(client, frame.RequestID, userID, m.UserID) {
			return
		}
		if err := h.sessionService.RecordAnswer(ctx, userID, m.TestID, m.QuestionID, m.Answer, client); err != nil {
			h.sendError(client, frame.RequestID, err)
			return
		}
		client.Send(realtime.NewFrame(realtime.EventAnswerSaved, frame.RequestID, realtime.AnswerSavedPayload{
			TestID:     m.TestID,
			QuestionID: m.QuestionID,
		}))

	case *realtime.LeaveMessage:
		h.sessionService.Leave(ctx, client)
		client.Send(realtime.NewFrame(realtime.EventLeft, frame.RequestID, realtime.LeftPayload{TestID: m.TestID}))
	}
}

// sameUser rejects frames that claim another user's identity.
func (h *WSHandler) sameUser(client *realtime.Client, requestID, authenticated, claimed string) bool {
	if claimed == "" || claimed == authenticated {
		return true
	}
	h.logger.Warn("Websocket frame user mismatch", "conn_id", client.ID(), "user_id", authenticated, "claimed", claimed)
	client.Send(realtime.ErrorFrame(requestID, CodeForbidden, "userId does not match the authenticated user", false))
	return false
}

func (h *WSHandler) sendError(client *realtime.Client, requestID string, err error) {
	class := classifyError(err)
	if class.status >= http.StatusInternalServerError {
		h.logger.LogError(err, "Websocket operation failed", "conn_id", client.ID())
	}
	client.Send(realtime.ErrorFrame(requestID, class.code, class.message, class.retryable))
}
