package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SAP-F-2025/live-session-service/internal/middleware"
	"github.com/SAP-F-2025/live-session-service/internal/services"
	"github.com/SAP-F-2025/live-session-service/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseHandler_LogsThroughRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := utils.NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	h := NewBaseHandler(utils.NewSlogLogger(slog.New(slog.DiscardHandler)))

	router := gin.New()
	router.Use(utils.RequestID(), utils.ContextLogger(logger))
	router.GET("/attempts/:id", func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "u1")
		h.handleServiceError(c, services.NewPermissionError("u1", 7, "attempt", "cleanup", "not the attempt owner"))
	})
	router.GET("/broken", func(c *gin.Context) {
		h.handleServiceError(c, errors.New("disk on fire"))
	})

	req := httptest.NewRequest(http.MethodGet, "/attempts/7", nil)
	req.Header.Set("X-Request-ID", "req-7")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "Permission denied", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "req-7", entry["request_id"])
	assert.Equal(t, "/attempts/7", entry["path"])
	assert.Equal(t, "u1", entry["user_id"])

	buf.Reset()
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/broken", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	entry = nil
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "disk on fire", entry["error"])
	assert.Equal(t, "/broken", entry["path"])
	_, hasUser := entry["user_id"]
	assert.False(t, hasUser)
}
