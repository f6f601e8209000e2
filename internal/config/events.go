package config

import (
	"log/slog"
	"strings"

	"github.com/SAP-F-2025/live-session-service/internal/events"
	"github.com/SAP-F-2025/live-session-service/internal/realtime"
)

// EventConfig holds configuration for event publishing
type EventConfig struct {
	Enabled        bool   `env:"EVENTS_ENABLED" envDefault:"true"`
	Publisher      string `env:"EVENTS_PUBLISHER" envDefault:"kafka"` // kafka or mock
	KafkaBrokers   string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	LifecycleTopic string `env:"LIFECYCLE_TOPIC" envDefault:"attempt-lifecycle"`
}

// RelayConfig controls fan-out of room broadcasts between server processes.
type RelayConfig struct {
	Backend      string `env:"ROOM_RELAY" envDefault:"none"` // none or kafka
	KafkaBrokers string `env:"ROOM_RELAY_KAFKA_BROKERS" envDefault:"localhost:9092"`
	Topic        string `env:"ROOM_RELAY_TOPIC" envDefault:"live-room-events"`
}

func splitBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetKafkaBrokers returns Kafka brokers as a slice
func (c *EventConfig) GetKafkaBrokers() []string {
	return splitBrokers(c.KafkaBrokers)
}

// CreateEventPublisher creates an event publisher based on configuration
func (c *EventConfig) CreateEventPublisher(logger *slog.Logger) (events.EventPublisher, error) {
	if !c.Enabled {
		logger.Info("Event publishing disabled, using mock publisher")
		return events.NewMockEventPublisher(logger), nil
	}

	switch c.Publisher {
	case "kafka":
		logger.Info("Creating Kafka event publisher",
			"brokers", c.KafkaBrokers,
			"topic", c.LifecycleTopic)

		publisher, err := events.NewKafkaEventPublisher(events.PublisherConfig{
			KafkaBrokers: c.GetKafkaBrokers(),
			TopicName:    c.LifecycleTopic,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return publisher, nil
	case "mock":
		logger.Info("Using mock event publisher")
		return events.NewMockEventPublisher(logger), nil
	default:
		logger.Warn("Unknown event publisher type, falling back to mock", "publisher", c.Publisher)
		return events.NewMockEventPublisher(logger), nil
	}
}

// CreateRelay returns nil when rooms are served by a single process.
func (c *RelayConfig) CreateRelay(logger *slog.Logger) (realtime.Relay, error) {
	switch c.Backend {
	case "kafka":
		logger.Info("Creating Kafka room relay",
			"brokers", c.KafkaBrokers,
			"topic", c.Topic)
		relay, err := realtime.NewKafkaRelay(splitBrokers(c.KafkaBrokers), c.Topic, logger)
		if err != nil {
			return nil, err
		}
		return relay, nil
	case "", "none":
		return nil, nil
	default:
		logger.Warn("Unknown room relay backend, running single-node", "backend", c.Backend)
		return nil, nil
	}
}
