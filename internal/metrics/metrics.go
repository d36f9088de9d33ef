// Package metrics holds the Prometheus collectors of the reconciliation service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts gateway notifications by intent and outcome
	// (applied, duplicate, ignored, failed).
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikefleet",
		Subsystem: "reconciler",
		Name:      "webhook_events_total",
		Help:      "Gateway notifications processed, by intent and outcome.",
	}, []string{"intent", "outcome"})

	// Inconsistencies counts escalations to the review queue by kind.
	Inconsistencies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikefleet",
		Subsystem: "reconciler",
		Name:      "inconsistencies_total",
		Help:      "Fatal inconsistencies escalated for manual review.",
	}, []string{"kind"})

	// GatewayRequestDuration observes outbound gateway calls.
	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bikefleet",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Latency of payment gateway calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	// NotificationsDropped counts client notifications lost because the dispatch queue was full
	// or every channel failed.
	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikefleet",
		Subsystem: "notify",
		Name:      "dropped_total",
		Help:      "Client notifications that were not delivered.",
	}, []string{"reason"})

	// JobRuns counts background job executions by job and outcome.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikefleet",
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Background job executions.",
	}, []string{"job", "outcome"})
)
