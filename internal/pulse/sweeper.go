package pulse

import (
	"context"
	"log/slog"
	"time"

	"github.com/changepulse/changepulse/internal/core/store"
	"github.com/changepulse/changepulse/internal/metrics"
	"github.com/changepulse/changepulse/internal/outbound"
)

const (
	defaultSweepInterval = 5 * time.Minute
	defaultSweepGrace    = 5 * time.Minute
	defaultSweepLimit    = 1000
)

// Sweeper closes the publish-after-commit gap: a crash between the settle
// commit and the transport hand-off leaves a durable outgoing payload with
// no recorded acknowledgment. The sweeper periodically re-publishes those.
// Downstream consumers must tolerate duplicates; the sweep trades the lost
// notification for an at-least-once re-delivery.
type Sweeper struct {
	store     store.ChangeStore
	publisher outbound.Publisher
	interval  time.Duration
	grace     time.Duration
	limit     int
	metrics   *metrics.Metrics
}

// NewSweeper creates the reconciliation sweeper. grace keeps the sweep away
// from records a live pulse is still about to hand off.
func NewSweeper(changeStore store.ChangeStore, publisher outbound.Publisher, interval, grace time.Duration, limit int, m *metrics.Metrics) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if grace <= 0 {
		grace = defaultSweepGrace
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Sweeper{
		store:     changeStore,
		publisher: publisher,
		interval:  interval,
		grace:     grace,
		limit:     limit,
		metrics:   m,
	}
}

// Run sweeps periodically until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Sweep] Starting outbox reconciliation sweeper",
		"interval", s.interval,
		"grace", s.grace)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			slog.Info("[Sweep] Stopping (context cancelled)")
			return nil
		}
	}
}

// Sweep runs one reconciliation pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	olderThan := time.Now().UTC().Add(-s.grace)

	pending, err := s.store.UnackedOutgoing(ctx, olderThan, s.limit)
	if err != nil {
		slog.Error("[Sweep] Failed to query unacknowledged notifications", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	slog.Info("[Sweep] Re-publishing unacknowledged notifications", "count", len(pending))

	for _, item := range pending {
		if err := s.publisher.Publish(ctx, item.PrimaryID, item.Outgoing); err != nil {
			slog.Error("[Sweep] Re-publish failed, will retry next sweep",
				"error", err,
				"record_id", item.RecordID)
			continue
		}
		s.metrics.RedeliveredNotifications.Inc()

		if err := s.store.MarkDelivered(ctx, item.RecordID); err != nil {
			slog.Warn("[Sweep] Re-published but failed to record acknowledgment",
				"error", err,
				"record_id", item.RecordID)
		}
	}
}
