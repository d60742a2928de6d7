// Package observability holds the Prometheus metrics emitted across the
// scheduler packages. Every metric is registered at package init via
// promauto.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of items currently queued per scheduler.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mula_queue_depth",
		Help: "Current number of items in a scheduler's queue",
	}, []string{"scheduler_id"})

	// QueuePushTotal tracks every push attempt, by outcome.
	QueuePushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mula_queue_push_total",
		Help: "Total number of queue push attempts",
	}, []string{"scheduler_id", "outcome"}) // outcome: accepted, queue_full, not_allowed, invalid_item

	// QueuePopTotal tracks every pop, by outcome.
	QueuePopTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mula_queue_pop_total",
		Help: "Total number of queue pop attempts",
	}, []string{"scheduler_id", "outcome"}) // outcome: ok, queue_empty

	// TaskStatusTotal tracks task status transitions.
	TaskStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mula_task_status_total",
		Help: "Total number of tasks reaching a given status",
	}, []string{"scheduler_id", "status"})

	// PopulateDuration tracks how long one populate tick takes.
	PopulateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mula_populate_duration_seconds",
		Help:    "Duration of one scheduler populate tick",
		Buckets: prometheus.DefBuckets,
	}, []string{"scheduler_id"})

	// CandidatesDropped tracks admissibility-chain rejections, by reason.
	CandidatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mula_candidates_dropped_total",
		Help: "Total number of candidate tasks dropped before being queued",
	}, []string{"scheduler_id", "reason"}) // reason: disabled, scan_level, duplicate, not_terminal, within_grace_period, error_mime

	// RankerScore observes the priority score assigned to queued tasks.
	RankerScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mula_ranker_score",
		Help:    "Distribution of priority scores assigned to queued tasks",
		Buckets: prometheus.LinearBuckets(0, 100, 11),
	}, []string{"scheduler_id"})

	// HTTPClientRequestDuration tracks outbound HTTP request latency.
	HTTPClientRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mula_http_client_request_duration_seconds",
		Help:    "Duration of outbound HTTP requests made by the shared client",
		Buckets: prometheus.DefBuckets,
	}, []string{"host", "outcome"}) // outcome: ok, retry_exhausted

	// HTTPClientRetries tracks outbound retry attempts.
	HTTPClientRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mula_http_client_retries_total",
		Help: "Total number of outbound HTTP retry attempts",
	}, []string{"host"})

	// BrokerPullTotal tracks broker pulls, by outcome.
	BrokerPullTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mula_broker_pull_total",
		Help: "Total number of broker pull attempts",
	}, []string{"subject", "outcome"}) // outcome: message, empty, error

	// CataloguePluginCacheTotal tracks plugin cache hits versus misses.
	CataloguePluginCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mula_catalogue_plugin_cache_total",
		Help: "Total number of plugin lookups, by cache outcome",
	}, []string{"org", "outcome"}) // outcome: hit, miss

	// SchedulerEnabled reports whether a scheduler's populate loop is active.
	SchedulerEnabled = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mula_scheduler_populate_enabled",
		Help: "Whether a scheduler's populate loop is currently enabled (1) or disabled (0)",
	}, []string{"scheduler_id"})

	// OrganisationsActive reports the number of organisations with a live
	// scheduler pair.
	OrganisationsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mula_organisations_active",
		Help: "Current number of organisations with an active scheduler pair",
	})

	// ReconcileTotal tracks supervisor reconcile outcomes.
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mula_reconcile_total",
		Help: "Total number of organisation reconcile actions taken",
	}, []string{"action"}) // action: create, remove
)

// ObserveBoolGauge sets a gauge to 1 or 0, a small helper for the several
// boolean-state gauges above (SchedulerEnabled).
func ObserveBoolGauge(g *prometheus.GaugeVec, label string, v bool) {
	if v {
		g.WithLabelValues(label).Set(1)
	} else {
		g.WithLabelValues(label).Set(0)
	}
}
