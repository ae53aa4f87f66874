// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

// Package metrics holds the Prometheus instruments for the pipeline.
//
// Instruments are registered against an explicit registry handle created in
// main and passed by reference into each component; nothing registers on the
// default global registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every instrument the service records.
type Metrics struct {
	// Broker / consumer pipeline
	MessagesProcessed prometheus.Counter
	MessagesErrored   prometheus.Counter
	UpdatesPersisted  prometheus.Counter
	PersistRetries    prometheus.Counter
	DeadLettered      *prometheus.CounterVec
	DLQDrained        prometheus.Counter
	QueueDepth        prometheus.Gauge
	ActiveConsumers   prometheus.Gauge

	// Stage latencies
	ValidationDuration prometheus.Histogram
	PersistDuration    prometheus.Histogram

	// Cache-aside
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// HTTP surface
	APIRequests *prometheus.CounterVec
}

// New creates and registers all instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MessagesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "priceflow_messages_processed_total",
			Help: "Batch messages fully processed and acknowledged",
		}),
		MessagesErrored: factory.NewCounter(prometheus.CounterOpts{
			Name: "priceflow_messages_errors_total",
			Help: "Batch messages rejected as malformed",
		}),
		UpdatesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "priceflow_updates_persisted_total",
			Help: "Price updates merged into product aggregates",
		}),
		PersistRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "priceflow_persist_retries_total",
			Help: "Retry attempts scheduled after transient persistence failures",
		}),
		DeadLettered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "priceflow_dead_lettered_total",
			Help: "Items routed to the dead-letter queue",
		}, []string{"stage"}),
		DLQDrained: factory.NewCounter(prometheus.CounterOpts{
			Name: "priceflow_dlq_drained_total",
			Help: "Messages consumed from the dead-letter queue",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "priceflow_queue_depth",
			Help: "Pending messages on the raw price update queue",
		}),
		ActiveConsumers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "priceflow_active_consumers",
			Help: "Currently running batch consumers",
		}),
		ValidationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "priceflow_validation_duration_seconds",
			Help:    "Batch decode and validation duration",
			Buckets: prometheus.DefBuckets,
		}),
		PersistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "priceflow_persist_duration_seconds",
			Help:    "Single update persistence duration including retries",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "priceflow_cache_hits_total",
			Help: "Average price served from the cache",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "priceflow_cache_misses_total",
			Help: "Average price lookups that fell through to the store",
		}),
		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "priceflow_api_requests_total",
			Help: "HTTP API requests",
		}, []string{"method", "endpoint", "status"}),
	}
}
