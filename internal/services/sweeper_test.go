package services

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeps struct {
	SessionService
	runs atomic.Int32
}

func (c *countingSweeps) CleanupAbandoned(ctx context.Context) (*SweepResult, error) {
	c.runs.Add(1)
	return &SweepResult{}, nil
}

func TestSweeper_RunsUntilStopped(t *testing.T) {
	sessions := &countingSweeps{}
	sweeper := NewSweeper(sessions, 5*time.Millisecond, slog.New(slog.DiscardHandler))

	go sweeper.Run(context.Background())

	assert.Eventually(t, func() bool { return sessions.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sweeper.Stop(ctx))
	// a second stop is harmless
	require.NoError(t, sweeper.Stop(ctx))

	runs := sessions.runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, runs, sessions.runs.Load())
}
