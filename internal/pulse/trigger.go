package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	v1 "github.com/changepulse/changepulse/internal/api/v1"
	"github.com/segmentio/kafka-go"
)

// triggerFetcher is the slice of kafka.Reader the trigger listener needs.
type triggerFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTrigger turns messages on the pulse topic into scheduler triggers.
// The tick messages carry no payload beyond their event name; receiving
// them redundantly is harmless because Trigger coalesces.
type KafkaTrigger struct {
	reader    triggerFetcher
	scheduler *Scheduler
	predicate v1.Predicate
}

// NewKafkaTrigger subscribes to the pulse topic for the given group.
func NewKafkaTrigger(brokers []string, topic, groupID string, scheduler *Scheduler) *KafkaTrigger {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	return newKafkaTrigger(reader, scheduler)
}

func newKafkaTrigger(reader triggerFetcher, scheduler *Scheduler) *KafkaTrigger {
	return &KafkaTrigger{
		reader:    reader,
		scheduler: scheduler,
		predicate: v1.Predicate{
			Required: []string{"event_name"},
			Exact:    map[string]string{"event_name": "pulse"},
		},
	}
}

// Run listens until the context is cancelled.
func (t *KafkaTrigger) Run(ctx context.Context) error {
	defer t.reader.Close()

	slog.Info("[Pulse] Listening for pulse trigger messages")

	for {
		msg, err := t.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		var doc map[string]interface{}
		if err := json.Unmarshal(msg.Value, &doc); err == nil && t.predicate.Matches(doc) {
			t.scheduler.Trigger("topic")
		}

		// Trigger messages are fire-and-forget; always commit.
		if err := t.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("[Pulse] Failed to commit trigger offset", "error", err)
		}
	}
}
