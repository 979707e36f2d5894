package pulse

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/changepulse/changepulse/internal/core/store"
	"github.com/changepulse/changepulse/internal/metrics"
	"github.com/changepulse/changepulse/internal/outbound"
)

const (
	defaultInterval   = time.Minute
	defaultClaimLimit = 30000
)

// Scheduler drives the claim-and-publish cycle. It idles between pulses; a
// pulse fires on the periodic tick or on an external trigger (HTTP, pulse
// topic). Redundant triggers are safe: correctness lives in the store's
// locking and settle guard, not here, which is also what lets multiple
// scheduler instances run against one database.
type Scheduler struct {
	store     store.ChangeStore
	publisher outbound.Publisher
	interval  time.Duration
	limit     int
	trigger   chan string
	pulsing   atomic.Bool
	metrics   *metrics.Metrics
}

// NewScheduler creates a pulse scheduler. interval is the periodic tick,
// limit bounds how many subjects one pulse claims.
func NewScheduler(changeStore store.ChangeStore, publisher outbound.Publisher, interval time.Duration, limit int, m *metrics.Metrics) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if limit <= 0 {
		limit = defaultClaimLimit
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Scheduler{
		store:     changeStore,
		publisher: publisher,
		interval:  interval,
		limit:     limit,
		trigger:   make(chan string, 1),
		metrics:   m,
	}
}

// Trigger requests a pulse outside the periodic tick. Never blocks; when a
// trigger is already queued the extra one is dropped, since one pulse
// serves any number of pending triggers.
func (s *Scheduler) Trigger(source string) {
	select {
	case s.trigger <- source:
	default:
	}
}

// Start runs the scheduler until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Pulse] Starting scheduler",
		"interval", s.interval,
		"claim_limit", s.limit)

	for {
		select {
		case <-ticker.C:
			s.Pulse(ctx, "tick")
		case source := <-s.trigger:
			s.Pulse(ctx, source)
		case <-ctx.Done():
			slog.Info("[Pulse] Stopping (context cancelled)")
			return nil
		}
	}
}

// Pulse runs one claim-and-publish cycle. Safe to call concurrently: two
// overlapping pulses cannot double-claim a subject because the store skips
// rows locked by the other and treats zero-affected settles as already
// handled.
func (s *Scheduler) Pulse(ctx context.Context, source string) {
	wasIdle := s.pulsing.CompareAndSwap(false, true)
	if wasIdle {
		defer s.pulsing.Store(false)
	}
	s.metrics.Pulses.WithLabelValues(source).Inc()

	slog.Info("[Pulse] Pulsing, checking for settled bursts",
		"trigger", source,
		"overlapping", !wasIdle)

	settled, err := s.store.ClaimAndSettle(ctx, time.Now().UTC(), s.limit, s.buildNotification)
	if err != nil {
		slog.Error("[Pulse] Claim failed, subjects stay due for the next pulse", "error", err)
		return
	}
	if len(settled) == 0 {
		return
	}

	published := 0
	for _, item := range settled {
		// The payload is already durable; a failure here is repaired by the
		// reconciliation sweep, never by rolling back the settle.
		if err := s.publisher.Publish(ctx, item.PrimaryID, item.Outgoing); err != nil {
			slog.Error("[Pulse] Failed to hand notification to transport",
				"error", err,
				"record_id", item.RecordID)
			continue
		}
		s.metrics.PublishedNotifications.Inc()
		published++

		if err := s.store.MarkDelivered(ctx, item.RecordID); err != nil {
			// The sweep will re-publish this one; consumers tolerate
			// duplicates (at-least-once).
			slog.Warn("[Pulse] Published but failed to record acknowledgment",
				"error", err,
				"record_id", item.RecordID)
		}
	}

	slog.Info("[Pulse] Pulse complete",
		"settled", len(settled),
		"published", published)
}

func (s *Scheduler) buildNotification(due store.DueSubject) ([]byte, error) {
	return outbound.NewNotification(due.PrimaryID, due.SecondaryID, due.LatestRecordID).Marshal()
}
