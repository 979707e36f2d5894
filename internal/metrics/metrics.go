// Package metrics holds the relay's instrumentation as an injected sink.
// Components receive a *Metrics instead of registering against a process-wide
// registry, so tests and multi-instance wiring stay isolated.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// IngestedChanges counts accepted inbound changes, labeled by the
	// legacy table they originated from.
	IngestedChanges *prometheus.CounterVec

	// DuplicateChanges counts redelivered source events that were already
	// recorded.
	DuplicateChanges prometheus.Counter

	// ResolveFailures counts identity resolutions that exhausted their
	// retry budget.
	ResolveFailures prometheus.Counter

	// Pulses counts pulse runs, labeled by what triggered them.
	Pulses *prometheus.CounterVec

	// PublishedNotifications counts notifications handed to the transport.
	PublishedNotifications prometheus.Counter

	// RedeliveredNotifications counts notifications re-published by the
	// reconciliation sweep.
	RedeliveredNotifications prometheus.Counter
}

// New creates the metric set against the given registerer.
// A nil registerer yields unregistered metrics, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IngestedChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "changepulse_ingested_changes_total",
			Help: "Inbound change events accepted and recorded.",
		}, []string{"source_table"}),
		DuplicateChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "changepulse_duplicate_changes_total",
			Help: "Redelivered source events already present in the change store.",
		}),
		ResolveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "changepulse_resolve_failures_total",
			Help: "Identity resolutions that failed after all retries.",
		}),
		Pulses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "changepulse_pulses_total",
			Help: "Pulse runs, by trigger source.",
		}, []string{"trigger"}),
		PublishedNotifications: factory.NewCounter(prometheus.CounterOpts{
			Name: "changepulse_published_notifications_total",
			Help: "Consolidated notifications handed to the outbound transport.",
		}),
		RedeliveredNotifications: factory.NewCounter(prometheus.CounterOpts{
			Name: "changepulse_redelivered_notifications_total",
			Help: "Notifications re-published by the outbox reconciliation sweep.",
		}),
	}
}
