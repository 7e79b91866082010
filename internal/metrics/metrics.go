// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts inbound webhook deliveries by event type and outcome.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "webhook_events_total",
		Help:      "Inbound meeting webhook events by type and outcome.",
	}, []string{"event", "outcome"})

	// LiveSubscribers tracks open dashboard streams.
	LiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "liveclass",
		Name:      "live_subscribers",
		Help:      "Active live-session stream subscribers.",
	})

	// FramesDropped counts state frames discarded because a subscriber queue was full.
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "live_frames_dropped_total",
		Help:      "State frames dropped in favour of a newer snapshot.",
	})

	// Deliveries counts individual message sends by outcome.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "notification_deliveries_total",
		Help:      "Per-recipient message deliveries by outcome.",
	}, []string{"outcome"})

	// JobsCompleted counts jobs that left the pending state through the executor.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "notification_jobs_completed_total",
		Help:      "Jobs completed by the executor by final status.",
	}, []string{"status"})

	// Rebuilds counts reminder rebuilds by outcome.
	Rebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "reminder_rebuilds_total",
		Help:      "Reminder rebuild runs by outcome.",
	}, []string{"outcome"})

	// RebuildDuration observes how long a full rebuild takes.
	RebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "liveclass",
		Name:      "reminder_rebuild_duration_seconds",
		Help:      "Duration of reminder rebuild runs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)
