// Package metrics registers the Prometheus collectors for the analytics
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestedTransactions counts rows actually inserted after dedup.
	IngestedTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerlens_ingested_transactions_total",
		Help: "Transactions inserted after deduplication.",
	})

	// DedupDropped counts rows dropped as duplicates at ingestion.
	DedupDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerlens_dedup_dropped_total",
		Help: "Incoming transactions dropped as duplicates.",
	})

	// EmbeddingFailures counts failed embedding gateway calls.
	EmbeddingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerlens_embedding_failures_total",
		Help: "Embedding gateway calls that returned an error.",
	})

	// ClusterPassOutcomes counts background clustering passes by outcome
	// (completed, skipped, failed).
	ClusterPassOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerlens_cluster_pass_total",
		Help: "Background clustering passes by outcome.",
	}, []string{"outcome"})

	// HTTPRequests counts API requests by path and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerlens_http_requests_total",
		Help: "API requests by path and status.",
	}, []string{"path", "status"})

	// HTTPDuration observes API request latency per path.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerlens_http_request_duration_seconds",
		Help:    "API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)
