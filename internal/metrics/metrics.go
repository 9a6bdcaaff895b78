package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Live signal pipeline
	SignalsIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oou_signals_ingested_total",
			Help: "Total number of live signals accepted into the feed",
		},
	)

	SignalsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oou_signals_dropped_total",
			Help: "Total number of push payloads dropped by reason",
		},
		[]string{"reason"}, // duplicate, malformed
	)

	SignalsRecoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oou_signals_recovered_total",
			Help: "Total number of pending signals replayed after a cold start",
		},
	)

	// Entitlement store
	ResyncsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oou_entitlement_resyncs_total",
			Help: "Total number of entitlement resyncs against the billing boundary",
		},
	)

	PurchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oou_purchases_total",
			Help: "Total number of purchase attempts by outcome",
		},
		[]string{"outcome"}, // confirmed, cancelled, pending, failed
	)

	ExpirationEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oou_expiration_events_total",
			Help: "Total number of premium-to-free transitions observed",
		},
	)

	// Content source
	ContentFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oou_content_fetches_total",
			Help: "Total number of content fetches by result",
		},
		[]string{"result"}, // ok, not_found, error
	)
)
