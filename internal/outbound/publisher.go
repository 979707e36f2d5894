package outbound

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// Publisher hands persisted notifications to the outbound transport.
// Publishing is fire-and-forget from the change store's perspective: a
// failure here never rolls back the settle commit.
type Publisher interface {
	// Publish sends one payload keyed by the subject's primary id, so
	// partitioned transports keep per-subject ordering.
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// KafkaPublisher publishes notifications to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
// The hash balancer pins each subject to one partition.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("outbound: publish notification: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher swallows notifications. Used when outbound publishing is
// disabled by configuration, e.g. while backfilling a fresh environment.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	slog.Info("Publishing disabled, dropping notification", "key", key)
	return nil
}

func (NopPublisher) Close() error { return nil }
