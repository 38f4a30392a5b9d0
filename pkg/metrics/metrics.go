// Package metrics provides Prometheus metrics for the query service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueryExecutionsTotal tracks query executions by status and cache outcome
	QueryExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inspector",
			Subsystem: "query",
			Name:      "executions_total",
			Help:      "Total number of query executions by status",
		},
		[]string{"status", "cached", "actor"},
	)

	// QueryExecutionDuration tracks query execution duration in seconds
	QueryExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inspector",
			Subsystem: "query",
			Name:      "execution_duration_seconds",
			Help:      "Duration of query executions in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"cached"},
	)

	// QueryErrorsTotal tracks failures by taxonomy kind
	QueryErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inspector",
			Subsystem: "query",
			Name:      "errors_total",
			Help:      "Total number of query failures by kind",
		},
		[]string{"kind"},
	)

	// RateLimitRejectionsTotal tracks admission rejections
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inspector",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total number of rate limit rejections",
		},
		[]string{"surface"},
	)

	// FallbackCountsTotal tracks fallback aggregation outcomes by source
	FallbackCountsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inspector",
			Subsystem: "fallback",
			Name:      "counts_total",
			Help:      "Total number of fallback count computations by source",
		},
		[]string{"source"},
	)

	// CacheSweepPurgedTotal tracks rows removed by the expiry sweep
	CacheSweepPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inspector",
			Subsystem: "cache",
			Name:      "sweep_purged_total",
			Help:      "Total number of expired cache entries purged",
		},
	)

	// UsageEventsPublished tracks billing usage events published to Kafka
	UsageEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inspector",
			Subsystem: "billing",
			Name:      "usage_events_published_total",
			Help:      "Total number of usage events published",
		},
		[]string{"status"},
	)
)
