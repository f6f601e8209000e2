package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/live-session-service/internal/events"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTTL)
	assert.Equal(t, time.Minute, cfg.Session.SweepInterval)
	assert.Equal(t, 200, cfg.Session.SweepBatchSize)
	assert.Equal(t, "none", cfg.Relay.Backend)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_IDLE_TTL", "5m")
	t.Setenv("SWEEP_INTERVAL", "15s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.Session.IdleTTL)
	assert.Equal(t, 15*time.Second, cfg.Session.SweepInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.GetKafkaBrokers())
}

func TestLoadConfig_RejectsInvalidValues(t *testing.T) {
	t.Setenv("SESSION_IDLE_TTL", "0s")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_ProductionRequiresCasdoor(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "CASDOOR_ENDPOINT")

	t.Setenv("CASDOOR_ENDPOINT", "https://auth.example.com")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestEventConfig_CreateEventPublisher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	disabled := EventConfig{Enabled: false, Publisher: "kafka"}
	publisher, err := disabled.CreateEventPublisher(logger)
	require.NoError(t, err)
	assert.IsType(t, &events.MockEventPublisher{}, publisher)

	unknown := EventConfig{Enabled: true, Publisher: "carrier-pigeon"}
	publisher, err = unknown.CreateEventPublisher(logger)
	require.NoError(t, err)
	assert.IsType(t, &events.MockEventPublisher{}, publisher)
}

func TestRelayConfig_NoneReturnsNilRelay(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := RelayConfig{Backend: "none"}
	relay, err := cfg.CreateRelay(logger)
	require.NoError(t, err)
	assert.Nil(t, relay)
}
