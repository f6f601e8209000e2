package realtime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence records room membership across every node.
type Presence interface {
	Add(ctx context.Context, testID uint, connID, userID string) error
	Remove(ctx context.Context, testID uint, connID string) error
	List(ctx context.Context, testID uint) ([]Member, error)
}

// RedisPresence keeps one hash per room mapping connection id to user id.
// The hash expires after ttl without joins, which bounds what a crashed node
// leaves behind.
type RedisPresence struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisPresence(client redis.UniversalClient, ttl time.Duration) *RedisPresence {
	return &RedisPresence{client: client, ttl: ttl}
}

func presenceKey(testID uint) string {
	return fmt.Sprintf("live:room:%d:members", testID)
}

func (p *RedisPresence) Add(ctx context.Context, testID uint, connID, userID string) error {
	key := presenceKey(testID)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, connID, userID)
		pipe.Expire(ctx, key, p.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add presence: %w", err)
	}
	return nil
}

func (p *RedisPresence) Remove(ctx context.Context, testID uint, connID string) error {
	if err := p.client.HDel(ctx, presenceKey(testID), connID).Err(); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}

func (p *RedisPresence) List(ctx context.Context, testID uint) ([]Member, error) {
	entries, err := p.client.HGetAll(ctx, presenceKey(testID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}

	members := make([]Member, 0, len(entries))
	for connID, userID := range entries {
		members = append(members, Member{ConnID: connID, UserID: userID})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].UserID == members[j].UserID {
			return members[i].ConnID < members[j].ConnID
		}
		return members[i].UserID < members[j].UserID
	})
	return members, nil
}
