package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Shopify/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Relay carries room broadcasts between server processes so members joined
// on different nodes still see each other.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe streams envelopes from every node, including this one. The
	// channel is closed when ctx ends.
	Subscribe(ctx context.Context) (<-chan Envelope, error)
	Close() error
}

type WatermillRelay struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	logger     *slog.Logger
}

func NewWatermillRelay(publisher message.Publisher, subscriber message.Subscriber, topic string, logger *slog.Logger) *WatermillRelay {
	return &WatermillRelay{
		publisher:  publisher,
		subscriber: subscriber,
		topic:      topic,
		logger:     logger,
	}
}

// NewKafkaRelay builds a relay on Kafka. The subscriber has no consumer
// group, so every node reads every partition and starts from the newest
// offset: room events are live only.
func NewKafkaRelay(brokers []string, topic string, logger *slog.Logger) (*WatermillRelay, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay publisher: %w", err)
	}

	saramaConfig := kafka.DefaultSaramaSubscriberConfig()
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest

	subscriber, err := kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers:               brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: saramaConfig,
	}, wmLogger)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("failed to create relay subscriber: %w", err)
	}

	return NewWatermillRelay(publisher, subscriber, topic, logger), nil
}

func (r *WatermillRelay) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal room envelope: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("node_id", env.NodeID)
	msg.Metadata.Set("event", env.Event)

	if err := r.publisher.Publish(r.topic, msg); err != nil {
		return fmt.Errorf("failed to publish room envelope: %w", err)
	}
	return nil
}

func (r *WatermillRelay) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	messages, err := r.subscriber.Subscribe(ctx, r.topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.topic, err)
	}

	out := make(chan Envelope)
	go func() {
		defer close(out)
		for msg := range messages {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				r.logger.Warn("Dropping malformed room envelope", "message_id", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()

			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *WatermillRelay) Close() error {
	pubErr := r.publisher.Close()
	subErr := r.subscriber.Close()
	if pubErr != nil {
		return pubErr
	}
	return subErr
}
