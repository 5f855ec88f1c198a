package corpus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "corpus",
			Name:      "documents_ingested_total",
			Help:      "Total number of documents ingested, by source type",
		},
		[]string{"source_type"},
	)

	documentsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "corpus",
			Name:      "documents_deleted_total",
			Help:      "Total number of documents deleted",
		},
	)

	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Total number of retrieval queries, by outcome",
		},
		[]string{"status"},
	)

	queryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "retrieval",
			Name:      "query_duration_seconds",
			Help:      "Backend retrieval latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of corpus cache hits",
		},
	)

	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of corpus cache misses, including malformed entries",
		},
	)
)
