package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/cache"
	"github.com/SAP-F-2025/live-session-service/internal/events"
	"github.com/SAP-F-2025/live-session-service/internal/middleware"
	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/SAP-F-2025/live-session-service/internal/realtime"
	"github.com/SAP-F-2025/live-session-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/live-session-service/internal/services"
	"github.com/SAP-F-2025/live-session-service/internal/session"
	"github.com/SAP-F-2025/live-session-service/internal/utils"
	"github.com/SAP-F-2025/live-session-service/internal/validator"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type apiFixture struct {
	db     *gorm.DB
	router *gin.Engine
	hub    *realtime.Hub
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, postgres.AutoMigrate(db))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := slog.New(slog.DiscardHandler)
	presence := realtime.NewRedisPresence(client, time.Hour)
	hub := realtime.NewHub(realtime.HubOptions{Presence: presence, Logger: log})
	v := validator.New()

	manager := services.NewServiceManager(services.ServiceDeps{
		Repo:      postgres.NewRepository(db),
		Store:     session.NewRedisStore(client, cache.NewRedisCache(client, log), 30*time.Minute, log),
		Rooms:     hub,
		Presence:  presence,
		Publisher: events.NewMockEventPublisher(log),
		Validator: v,
		Options:   services.SessionOptions{IdleTTL: 30 * time.Minute, RetryBackoff: time.Millisecond},
		Logger:    log,
	})

	router := gin.New()
	NewHandlerManager(manager, v, middleware.HeaderAuthenticator{}, 16, utils.NewSlogLogger(log)).SetupRoutes(router)

	return &apiFixture{db: db, router: router, hub: hub}
}

func (f *apiFixture) createTest(t *testing.T, test *models.Test) *models.Test {
	t.Helper()
	test.Title = "Live test"
	test.IsPublished = true
	require.NoError(t, f.db.Create(test).Error)
	return test
}

func (f *apiFixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if userID == "admin" {
		req.Header.Set("X-User-Role", "admin")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Code
}

func TestSessionFlow(t *testing.T) {
	f := newAPIFixture(t)
	f.createTest(t, &models.Test{ID: 10})

	w := f.do(t, http.MethodGet, "/api/v1/tests/10/access", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"has_access":true`)

	w = f.do(t, http.MethodPost, "/api/v1/tests/10/session", "u1", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var started services.StartResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.Equal(t, models.AttemptInProgress, started.Attempt.Status)

	// a second start resumes the same attempt
	w = f.do(t, http.MethodPost, "/api/v1/tests/10/session", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resumed services.StartResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resumed))
	assert.Equal(t, started.Attempt.ID, resumed.Attempt.ID)
	assert.True(t, resumed.Resumed)

	w = f.do(t, http.MethodPut, "/api/v1/tests/10/answers", "u1", RecordAnswerRequest{QuestionID: "q1", Answer: "B"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/tests/10/session", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"q1":"B"`)

	w = f.do(t, http.MethodPost, "/api/v1/tests/10/submit", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var submitted services.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))
	assert.Equal(t, models.AttemptSubmitted, submitted.Attempt.Status)
	assert.True(t, submitted.ScorePending)
	assert.False(t, submitted.AlreadyFinal)

	w = f.do(t, http.MethodPost, "/api/v1/tests/10/submit", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"already_final":true`)

	// the submitted attempt blocks a new one
	w = f.do(t, http.MethodPost, "/api/v1/tests/10/session", "u1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeAttemptExists, errorCode(t, w))
}

func TestSessionErrors(t *testing.T) {
	f := newAPIFixture(t)
	f.createTest(t, &models.Test{ID: 20, Price: 500})
	f.createTest(t, &models.Test{ID: 21})

	tests := []struct {
		name       string
		method     string
		path       string
		userID     string
		body       any
		wantStatus int
		wantCode   string
	}{
		{name: "unauthenticated", method: http.MethodPost, path: "/api/v1/tests/21/session", wantStatus: http.StatusUnauthorized, wantCode: CodeUnauthorized},
		{name: "bad test id", method: http.MethodPost, path: "/api/v1/tests/abc/session", userID: "u1", wantStatus: http.StatusBadRequest, wantCode: CodeBadRequest},
		{name: "unknown test", method: http.MethodPost, path: "/api/v1/tests/999/session", userID: "u1", wantStatus: http.StatusNotFound, wantCode: CodeNotFound},
		{name: "paid test", method: http.MethodPost, path: "/api/v1/tests/20/session", userID: "u1", wantStatus: http.StatusForbidden, wantCode: CodePaymentNeeded},
		{name: "answer without attempt", method: http.MethodPut, path: "/api/v1/tests/21/answers", userID: "u1", body: RecordAnswerRequest{QuestionID: "q1", Answer: "A"}, wantStatus: http.StatusConflict, wantCode: CodeNoActive},
		{name: "answer without question", method: http.MethodPut, path: "/api/v1/tests/21/answers", userID: "u1", body: RecordAnswerRequest{Answer: "A"}, wantStatus: http.StatusBadRequest, wantCode: CodeValidation},
		{name: "submit without attempt", method: http.MethodPost, path: "/api/v1/tests/21/submit", userID: "u1", wantStatus: http.StatusConflict, wantCode: CodeNoActive},
		{name: "cleanup unknown attempt", method: http.MethodPost, path: "/api/v1/sessions/cleanup", userID: "u1", body: CleanupRequest{AttemptID: 12345}, wantStatus: http.StatusNotFound, wantCode: CodeNotFound},
		{name: "cleanup without attempt id", method: http.MethodPost, path: "/api/v1/sessions/cleanup", userID: "u1", body: CleanupRequest{}, wantStatus: http.StatusBadRequest, wantCode: CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.userID, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, w))
		})
	}
}

func TestCleanupOwnership(t *testing.T) {
	f := newAPIFixture(t)
	f.createTest(t, &models.Test{ID: 30})

	w := f.do(t, http.MethodPost, "/api/v1/tests/30/session", "owner", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var started services.StartResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	w = f.do(t, http.MethodPost, "/api/v1/sessions/cleanup", "intruder", CleanupRequest{AttemptID: started.Attempt.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, CodeForbidden, errorCode(t, w))

	w = f.do(t, http.MethodPost, "/api/v1/sessions/cleanup", "owner", CleanupRequest{AttemptID: started.Attempt.ID})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	f := newAPIFixture(t)
	f.createTest(t, &models.Test{ID: 40})

	w := f.do(t, http.MethodPost, "/api/v1/tests/40/session", "u1", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var started services.StartResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	w = f.do(t, http.MethodGet, "/api/v1/admin/tests/40/presence", "u1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/admin/tests/40/presence", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	w = f.do(t, http.MethodGet, "/api/v1/admin/tests/40/attempts/export", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "test-40-attempts")
	assert.NotEmpty(t, w.Body.Bytes())

	w = f.do(t, http.MethodGet, "/api/v1/admin/tests/40/attempts/export?status=BOGUS", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/admin/sweep", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"scanned":1`)

	path := "/api/v1/admin/attempts/" + strconv.FormatUint(uint64(started.Attempt.ID), 10)
	w = f.do(t, http.MethodDelete, path, "admin", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodDelete, path, "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "healthy"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
