package services

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper runs CleanupAbandoned on a fixed interval until stopped.
type Sweeper struct {
	sessions SessionService
	interval time.Duration
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewSweeper(sessions SessionService, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Stop is called.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	result, err := s.sessions.CleanupAbandoned(ctx)
	if err != nil {
		s.logger.Error("Sweep finished with errors", "error", FormatError(err))
	}
	if result != nil {
		s.logger.Debug("Sweep finished",
			"scanned", result.Scanned,
			"expired", result.Expired,
			"abandoned", result.Abandoned,
			"skipped", result.Skipped)
	}
}

// Stop ends Run and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.once.Do(func() { close(s.stop) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
