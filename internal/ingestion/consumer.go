package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	v1 "github.com/changepulse/changepulse/internal/api/v1"
	"github.com/segmentio/kafka-go"
)

// messageFetcher is the slice of kafka.Reader the consumer needs.
// Narrowed to an interface so tests can drive the loop without brokers.
type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads raw CDC messages from the inbound topic, evaluates the
// envelope predicate, and dispatches matching messages to the handler.
//
// Offsets are committed only after successful handling. A handling failure
// stops the consumer at the uncommitted offset, so the source redelivers the
// message once the consumer restarts; messages the predicate rejects or that
// fail to parse are committed and skipped, since redelivering them would
// never change the outcome.
type Consumer struct {
	reader    messageFetcher
	handler   *Handler
	predicate v1.Predicate
}

// NewConsumer creates the inbound consumer for the given brokers, topic and
// consumer group.
func NewConsumer(brokers []string, topic, groupID string, handler *Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	return newConsumer(reader, handler)
}

func newConsumer(reader messageFetcher, handler *Handler) *Consumer {
	return &Consumer{
		reader:    reader,
		handler:   handler,
		predicate: v1.ChangeEventPredicate(),
	}
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	slog.Info("[Consumer] Starting inbound change consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				slog.Info("[Consumer] Stopping (context cancelled)")
				return nil
			}
			return err
		}

		if !c.accept(msg.Value) {
			c.commit(ctx, msg)
			continue
		}

		evt, err := v1.ParseChangeEvent(msg.Value)
		if err != nil {
			slog.Warn("[Consumer] Dropping unparseable change message",
				"error", err,
				"offset", msg.Offset)
			c.commit(ctx, msg)
			continue
		}

		if err := c.handler.HandleChange(ctx, evt); err != nil {
			// Offset commits are cumulative per partition, so committing any
			// later message would mark this one consumed too. Stop here with
			// the offset uncommitted; on restart the source redelivers it.
			slog.Error("[Consumer] Failed to ingest change, stopping at uncommitted offset",
				"error", err,
				"source_event_id", evt.SourceEventID,
				"offset", msg.Offset)
			return fmt.Errorf("ingestion: handle change at offset %d: %w", msg.Offset, err)
		}

		c.commit(ctx, msg)
	}
}

func (c *Consumer) accept(raw []byte) bool {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	return c.predicate.Matches(doc)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		slog.Error("[Consumer] Failed to commit offset", "error", err, "offset", msg.Offset)
	}
}
