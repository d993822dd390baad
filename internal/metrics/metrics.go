// Package metrics defines Prometheus metrics for the connection pool.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IdleConnections reports the current idle-cache size per bucket.
	IdleConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_idle_connections",
		Help: "Number of idle steady connections currently cached.",
	}, []string{"bucket"})

	// SharedConnections reports the current number of shared records per bucket.
	SharedConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_shared_connections",
		Help: "Number of distinct connections currently serving shared leases.",
	}, []string{"bucket"})

	// OpenConnections reports connections currently leased out (shared + dedicated) per bucket;
	// idle connections are reported by IdleConnections.
	OpenConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_open_connections",
		Help: "Connections currently leased out (shared or dedicated), counted against max_connections.",
	}, []string{"bucket"})

	// AcquireTotal counts lease acquisitions by discipline and outcome.
	AcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_acquire_total",
		Help: "Connection lease acquisitions.",
	}, []string{"bucket", "discipline", "outcome"})

	// ReleaseTotal counts lease returns.
	ReleaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_release_total",
		Help: "Connection lease returns.",
	}, []string{"bucket", "discipline"})

	// FailoverTotal counts transparent reopen events observed by the steady layer.
	FailoverTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_failover_total",
		Help: "Times a steady connection transparently reopened (failover retry, dead-ping reconnect, or usage-cap).",
	}, []string{"bucket"})

	// AcquireWaitSeconds measures how long a blocking acquire waited for a free slot.
	AcquireWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_acquire_wait_seconds",
		Help:    "Time spent waiting for a free connection slot under the blocking policy.",
		Buckets: prometheus.DefBuckets,
	}, []string{"bucket"})

	// QueryDurationSeconds measures tough-method call latency.
	QueryDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_query_duration_seconds",
		Help:    "Latency of Execute/Call tough-method invocations, including any failover retry.",
		Buckets: prometheus.DefBuckets,
	}, []string{"bucket"})
)
