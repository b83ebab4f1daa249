package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PriceCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "demper_price_cycles_total",
		Help: "Total number of pricing cycles run, by outcome",
	}, []string{"outcome"})

	PriceChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "demper_price_changes_total",
		Help: "Total number of applied price changes, by reason",
	}, []string{"reason"})

	ObservationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "demper_observation_failures_total",
		Help: "Total number of failed competitor price observations, by kind",
	}, []string{"kind"})

	ApplyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demper_apply_failures_total",
		Help: "Total number of rejected marketplace price updates",
	})

	ReconciliationWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demper_reconciliation_warnings_total",
		Help: "Applied price changes that could not be recorded to the ledger",
	})

	CyclesSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "demper_cycles_skipped_total",
		Help: "Scheduled cycles dropped because a previous cycle was still running",
	}, []string{"reason"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "demper_cycle_duration_seconds",
		Help:    "Duration of one full pricing cycle",
		Buckets: prometheus.DefBuckets,
	})

	CumulativeLossTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demper_cumulative_loss_total",
		Help: "Running sum of all recorded price decreases, in minor currency units",
	})

	TrackedProductsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "demper_tracked_products_active",
		Help: "Number of products currently scheduled for repricing",
	})

	NotificationsForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "demper_notifications_forwarded_total",
		Help: "Price-change notifications forwarded downstream, by status",
	}, []string{"status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
