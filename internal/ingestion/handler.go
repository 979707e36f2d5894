package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/changepulse/changepulse/internal/api/v1"
	"github.com/changepulse/changepulse/internal/core/store"
	"github.com/changepulse/changepulse/internal/identity"
	"github.com/changepulse/changepulse/internal/metrics"
)

// Handler ingests one validated change event: resolve the subject's current
// identity, upsert the subject, record the change, extend the debounce
// window. No notification is published here: publication always goes
// through the pulse scheduler, so every burst gets the same debounce
// treatment regardless of arrival pattern.
type Handler struct {
	store    store.ChangeStore
	resolver identity.Resolver
	retry    identity.RetryPolicy
	window   time.Duration
	metrics  *metrics.Metrics
}

// NewHandler wires the ingestion path. window is the debounce window applied
// to every incoming change.
func NewHandler(changeStore store.ChangeStore, resolver identity.Resolver, retry identity.RetryPolicy, window time.Duration, m *metrics.Metrics) *Handler {
	if changeStore == nil {
		panic("ingestion: store must not be nil")
	}
	if resolver == nil {
		panic("ingestion: resolver must not be nil")
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Handler{
		store:    changeStore,
		resolver: resolver,
		retry:    retry,
		window:   window,
		metrics:  m,
	}
}

// HandleChange processes one inbound change. A returned error means the
// event was NOT durably ingested and the source message must stay
// uncommitted so the transport redelivers it.
func (h *Handler) HandleChange(ctx context.Context, evt *v1.ChangeEvent) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("ingestion: invalid change event: %w", err)
	}

	ident, err := h.resolveIdentity(ctx, evt.PrimaryID)
	if err != nil {
		h.metrics.ResolveFailures.Inc()
		return fmt.Errorf("ingestion: resolve identity for source event %d: %w", evt.SourceEventID, err)
	}

	var secondaryID *string
	if ident.SecondaryID != "" {
		secondaryID = &ident.SecondaryID
	}

	subjectID, err := h.store.UpsertSubject(ctx, ident.PrimaryID, secondaryID)
	if err != nil {
		return fmt.Errorf("ingestion: upsert subject: %w", err)
	}

	recordID, err := h.store.RecordChange(ctx, subjectID, evt.SourceEventID, evt.Payload, h.window)
	switch {
	case errors.Is(err, store.ErrDuplicateChange):
		// Redelivery from the CDC source. The record already exists, but a
		// redelivered change is still activity, so the extension below runs.
		h.metrics.DuplicateChanges.Inc()
		slog.Info("Duplicate change redelivered",
			"subject_id", subjectID,
			"source_event_id", evt.SourceEventID)
	case err != nil:
		return fmt.Errorf("ingestion: record change: %w", err)
	default:
		h.metrics.IngestedChanges.WithLabelValues(evt.SourceTable).Inc()
		slog.Info("Recorded change",
			"subject_id", subjectID,
			"source_event_id", evt.SourceEventID,
			"record_id", recordID,
			"source_table", evt.SourceTable)
	}

	if err := h.store.ExtendDueTime(ctx, subjectID, h.window); err != nil {
		return fmt.Errorf("ingestion: extend due time: %w", err)
	}

	return nil
}

func (h *Handler) resolveIdentity(ctx context.Context, primaryID string) (identity.Identity, error) {
	var ident identity.Identity
	err := h.retry.Do(ctx, func() error {
		var resolveErr error
		ident, resolveErr = h.resolver.Resolve(ctx, primaryID)
		return resolveErr
	})
	return ident, err
}
