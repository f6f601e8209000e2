package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/cache"
	"github.com/SAP-F-2025/live-session-service/internal/events"
	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/SAP-F-2025/live-session-service/internal/realtime"
	"github.com/SAP-F-2025/live-session-service/internal/repositories"
	"github.com/SAP-F-2025/live-session-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/live-session-service/internal/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const fixtureIdleTTL = 30 * time.Minute

type fixture struct {
	db        *gorm.DB
	repo      repositories.Repository
	mr        *miniredis.Miniredis
	store     *session.RedisStore
	hub       *realtime.Hub
	publisher *events.MockEventPublisher
	svc       *sessionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "live.db")), &gorm.Config{
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
	store := session.NewRedisStore(client, cache.NewRedisCache(client, log), fixtureIdleTTL, log)
	hub := realtime.NewHub(realtime.HubOptions{Logger: log})
	publisher := events.NewMockEventPublisher(log)
	repo := postgres.NewRepository(db)

	opts := SessionOptions{IdleTTL: fixtureIdleTTL, RetryBackoff: time.Millisecond, SweepBatchSize: 2}
	svc := NewSessionService(repo, NewEntitlementService(repo, log, time.Millisecond), store, hub, nil, publisher, opts, log)

	return &fixture{
		db:        db,
		repo:      repo,
		mr:        mr,
		store:     store,
		hub:       hub,
		publisher: publisher,
		svc:       svc.(*sessionService),
	}
}

var testIDs atomic.Uint32

func (f *fixture) createTest(t *testing.T, mutate func(*models.Test)) *models.Test {
	t.Helper()
	test := &models.Test{
		ID:          uint(testIDs.Add(1)),
		Title:       "Live test",
		IsPublished: true,
	}
	if mutate != nil {
		mutate(test)
	}
	require.NoError(t, f.db.Create(test).Error)
	if !test.IsPublished {
		require.NoError(t, f.db.Model(test).Update("is_published", false).Error)
	}
	return test
}

func (f *fixture) attempts(t *testing.T, testID uint) []*models.Attempt {
	t.Helper()
	var attempts []*models.Attempt
	require.NoError(t, f.db.Where("test_id = ?", testID).Order("id").Find(&attempts).Error)
	return attempts
}

func (f *fixture) eventTypes() []events.EventType {
	var out []events.EventType
	for _, e := range f.publisher.GetPublishedEvents() {
		out = append(out, e.Type)
	}
	return out
}

// recordingConn is an in-memory realtime.Conn.
type recordingConn struct {
	id     string
	mu     sync.Mutex
	frames []realtime.Frame
}

var connIDs atomic.Uint32

func newRecordingConn() *recordingConn {
	return &recordingConn{id: fmt.Sprintf("conn-%d", connIDs.Add(1))}
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(frame realtime.Frame) bool {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
	return true
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) framesOf(event string) []realtime.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []realtime.Frame
	for _, f := range c.frames {
		if f.Type == event {
			out = append(out, f)
		}
	}
	return out
}

func decode[T any](t *testing.T, frame realtime.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(frame.Payload, &v))
	return v
}

// flakyAttempts fails the first n calls of GetActiveAttempt with a
// transient error.
type flakyAttempts struct {
	repositories.AttemptRepository
	failures atomic.Int32
}

func (f *flakyAttempts) GetActiveAttempt(ctx context.Context, userID string, testID uint) (*models.Attempt, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, fmt.Errorf("connection reset by peer")
	}
	return f.AttemptRepository.GetActiveAttempt(ctx, userID, testID)
}

type flakyRepo struct {
	repositories.Repository
	attempts *flakyAttempts
}

func (r *flakyRepo) Attempt() repositories.AttemptRepository { return r.attempts }

// hookedAttempts runs each hook once at a fixed point of the attempt
// lifecycle so tests can force an interleaving.
type hookedAttempts struct {
	repositories.AttemptRepository
	afterActive  func()
	beforeCreate func()
	activeOnce   sync.Once
	createOnce   sync.Once
}

func (h *hookedAttempts) GetActiveAttempt(ctx context.Context, userID string, testID uint) (*models.Attempt, error) {
	attempt, err := h.AttemptRepository.GetActiveAttempt(ctx, userID, testID)
	if h.afterActive != nil {
		h.activeOnce.Do(h.afterActive)
	}
	return attempt, err
}

func (h *hookedAttempts) Create(ctx context.Context, attempt *models.Attempt) error {
	if h.beforeCreate != nil {
		h.createOnce.Do(h.beforeCreate)
	}
	return h.AttemptRepository.Create(ctx, attempt)
}

type hookedRepo struct {
	repositories.Repository
	attempts *hookedAttempts
}

func (r *hookedRepo) Attempt() repositories.AttemptRepository { return r.attempts }

// unclearableStore simulates a Redis outage on Clear.
type unclearableStore struct {
	session.Store
}

func (s *unclearableStore) Clear(ctx context.Context, key session.Key) error {
	return fmt.Errorf("connection reset by peer")
}
