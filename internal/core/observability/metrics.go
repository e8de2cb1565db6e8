// Package observability exposes the Prometheus metrics emitted by the
// caches, the spatial index, the listener, the scheduler and the query path.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Duration of Redis cache operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "status"},
	)

	indexOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spatial_index_op_duration_seconds",
			Help:    "Duration of spatial index operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "status"},
	)

	listenerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_listener_events_total",
			Help: "Vehicle cache events processed by the synchronization listener.",
		},
		[]string{"kind", "outcome"},
	)

	feedFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_fetches_total",
			Help: "Feed fetches by provider, feed type and outcome.",
		},
		[]string{"provider", "feed", "outcome"},
	)

	nearbyQueryDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nearby_query_duration_seconds",
			Help:    "End-to-end duration of nearby vehicle queries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	nearbyQueryResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nearby_query_results",
			Help:    "Number of vehicles returned per nearby query.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	leaderGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leader_election_is_leader",
			Help: "1 when this instance holds cluster leadership.",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpDurationSeconds.WithLabelValues(op, status(err)).Observe(durationSeconds)
}

func ObserveIndexOp(op string, err error, durationSeconds float64) {
	indexOpDurationSeconds.WithLabelValues(op, status(err)).Observe(durationSeconds)
}

func IncListenerEvent(kind, outcome string) {
	listenerEventsTotal.WithLabelValues(kind, outcome).Inc()
}

func IncFeedFetch(provider, feed string, err error) {
	feedFetchesTotal.WithLabelValues(provider, feed, status(err)).Inc()
}

func ObserveNearbyQuery(durationSeconds float64, results int) {
	nearbyQueryDurationSeconds.Observe(durationSeconds)
	nearbyQueryResults.Observe(float64(results))
}

func SetLeader(isLeader bool) {
	if isLeader {
		leaderGauge.Set(1)
	} else {
		leaderGauge.Set(0)
	}
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
