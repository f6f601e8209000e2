package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/cache"
	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/redis/go-redis/v9"
)

// ErrNoState is returned by writes against state that was never begun, was
// cleared or has expired. Writes never bring cleared state back.
var ErrNoState = errors.New("no session state")

// Key identifies the ephemeral state of one attempt. A new attempt by the
// same user never sees the state of an earlier one.
type Key struct {
	TestID    uint
	UserID    string
	AttemptID uint
}

func KeyOf(attempt *models.Attempt) Key {
	return Key{TestID: attempt.TestID, UserID: attempt.UserID, AttemptID: attempt.ID}
}

// Store holds the in-flight answers of IN_PROGRESS attempts. Every write
// slides the expiry forward by the idle TTL.
type Store interface {
	// Begin creates the state for a key or reuses the existing one, and
	// returns the current snapshot.
	Begin(ctx context.Context, key Key) (*models.AnswerSnapshot, error)
	// Put records one answer. Last write wins per question. Returns
	// ErrNoState unless Begin ran and the state is still live.
	Put(ctx context.Context, key Key, questionID, answer string) error
	// Snapshot returns an empty snapshot when no state exists.
	Snapshot(ctx context.Context, key Key) (*models.AnswerSnapshot, error)
	Exists(ctx context.Context, key Key) (bool, error)
	Touch(ctx context.Context, key Key) error
	Clear(ctx context.Context, key Key) error
}

type meta struct {
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ElapsedMillis  int64     `json:"elapsed_ms"`
}

// touch folds the time since the last activity into the elapsed counter.
func (m *meta) touch(now time.Time) {
	if now.After(m.LastActivityAt) {
		m.ElapsedMillis += now.Sub(m.LastActivityAt).Milliseconds()
	}
	m.LastActivityAt = now
}

// putScript writes an answer only while the meta key is live.
// KEYS[1] meta, KEYS[2] answers; ARGV question, answer, ttl in ms.
var putScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("PEXPIRE", KEYS[2], ARGV[3])
return 1
`)

type RedisStore struct {
	client  redis.UniversalClient
	cache   cache.CacheService
	idleTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewRedisStore(client redis.UniversalClient, cacheService cache.CacheService, idleTTL time.Duration, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client:  client,
		cache:   cacheService,
		idleTTL: idleTTL,
		logger:  logger,
		now:     time.Now,
	}
}

// Both keys share a hash tag so they land on the same cluster slot.
func answersKey(key Key) string {
	return fmt.Sprintf("live:session:{%d:%s:%d}:answers", key.TestID, key.UserID, key.AttemptID)
}

func metaKey(key Key) string {
	return fmt.Sprintf("live:session:{%d:%s:%d}:meta", key.TestID, key.UserID, key.AttemptID)
}

func (s *RedisStore) Begin(ctx context.Context, key Key) (*models.AnswerSnapshot, error) {
	// the second pass covers meta expiring between SETNX and the touch
	for i := 0; i < 2; i++ {
		now := s.now()
		created, err := s.cache.SetIfAbsent(ctx, metaKey(key), meta{
			StartedAt:      now,
			LastActivityAt: now,
		}, s.idleTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to begin session state: %w", err)
		}
		if created {
			s.logger.Debug("Created session state", "test_id", key.TestID, "user_id", key.UserID, "attempt_id", key.AttemptID)
			break
		}

		err = s.Touch(ctx, key)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrNoState) || i == 1 {
			return nil, err
		}
	}

	return s.Snapshot(ctx, key)
}

func (s *RedisStore) Put(ctx context.Context, key Key, questionID, answer string) error {
	stored, err := putScript.Run(ctx, s.client,
		[]string{metaKey(key), answersKey(key)},
		questionID, answer, s.idleTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to store answer: %w", err)
	}
	if stored == 0 {
		return ErrNoState
	}

	return s.Touch(ctx, key)
}

func (s *RedisStore) Snapshot(ctx context.Context, key Key) (*models.AnswerSnapshot, error) {
	snapshot := models.NewAnswerSnapshot()

	answers, err := s.client.HGetAll(ctx, answersKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read answers: %w", err)
	}
	snapshot.Answers = answers

	var m meta
	err = s.cache.Get(ctx, metaKey(key), &m)
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		return snapshot, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read session meta: %w", err)
	}

	m.touch(s.now())
	startedAt, lastActivity := m.StartedAt, m.LastActivityAt
	snapshot.StartedAt = &startedAt
	snapshot.LastActivityAt = &lastActivity
	snapshot.ElapsedSeconds = int(m.ElapsedMillis / 1000)
	return snapshot, nil
}

func (s *RedisStore) Exists(ctx context.Context, key Key) (bool, error) {
	n, err := s.client.Exists(ctx, metaKey(key), answersKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session state: %w", err)
	}
	return n > 0, nil
}

// Touch slides the expiry of both keys and accumulates elapsed time. The
// meta key is only overwritten while it exists, so a touch racing Clear
// leaves nothing behind.
func (s *RedisStore) Touch(ctx context.Context, key Key) error {
	mk := metaKey(key)

	var m meta
	err := s.cache.Get(ctx, mk, &m)
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		return ErrNoState
	case err != nil:
		return fmt.Errorf("failed to read session meta: %w", err)
	}
	m.touch(s.now())

	ok, err := s.cache.SetIfPresent(ctx, mk, m, s.idleTTL)
	if err != nil {
		return fmt.Errorf("failed to touch session state: %w", err)
	}
	if !ok {
		return ErrNoState
	}
	if err := s.cache.Expire(ctx, answersKey(key), s.idleTTL); err != nil {
		return fmt.Errorf("failed to touch session state: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, key Key) error {
	if err := s.cache.Delete(ctx, metaKey(key), answersKey(key)); err != nil {
		return fmt.Errorf("failed to clear session state: %w", err)
	}
	s.logger.Debug("Cleared session state", "test_id", key.TestID, "user_id", key.UserID, "attempt_id", key.AttemptID)
	return nil
}
