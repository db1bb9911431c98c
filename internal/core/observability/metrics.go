// Package observability defines the Prometheus instruments for the engine.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	storeOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_store_op_total",
			Help: "Parking store operations by backend and outcome.",
		},
		[]string{"backend", "op", "status"},
	)

	storeOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parking_store_op_duration_seconds",
			Help:    "Latency of parking store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"backend", "op"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Raw Redis cache operations by outcome.",
		},
		[]string{"op", "status"},
	)

	cacheOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)

	tileCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_cache_results_total",
			Help: "Tile cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	resolveDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "viewport_resolve_duration_seconds",
			Help:    "Duration of viewport tile resolution in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	resolveTilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewport_resolve_tiles_total",
			Help: "Tiles handled during viewport resolution by outcome.",
		},
		[]string{"outcome"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_invalidations_total",
			Help: "Processed tile invalidation events by op and outcome.",
		},
		[]string{"op", "status"},
	)

	invalidationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tile_invalidation_duration_seconds",
			Help:    "Processing time of tile invalidation events in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka invalidation consumer errors by kind.",
		},
		[]string{"kind"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

var initOnce sync.Once

// Init registers the instruments with the given registerer. Collectors keep
// working unregistered, so packages may record before Init runs.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	initOnce.Do(func() {
		reg.MustRegister(
			httpRequestsTotal,
			httpRequestDurationSeconds,
			storeOpTotal,
			storeOpDurationSeconds,
			cacheOpTotal,
			cacheOpDurationSeconds,
			tileCacheResults,
			resolveDurationSeconds,
			resolveTilesTotal,
			invalidationsTotal,
			invalidationDurationSeconds,
			kafkaConsumerErrors,
			upstreamLatencySeconds,
			buildInfo,
		)
	})
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveHTTP(method, route string, status int, seconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(seconds)
}

func ObserveStoreOp(backend, op string, err error, seconds float64) {
	storeOpTotal.WithLabelValues(backend, op, statusLabel(err)).Inc()
	storeOpDurationSeconds.WithLabelValues(backend, op).Observe(seconds)
}

func ObserveCacheOp(op string, err error, seconds float64) {
	cacheOpTotal.WithLabelValues(op, statusLabel(err)).Inc()
	cacheOpDurationSeconds.WithLabelValues(op).Observe(seconds)
}

func AddTileCacheHits(n int) {
	if n > 0 {
		tileCacheResults.WithLabelValues("hit").Add(float64(n))
	}
}

func AddTileCacheMisses(n int) {
	if n > 0 {
		tileCacheResults.WithLabelValues("miss").Add(float64(n))
	}
}

func ObserveResolve(seconds float64) {
	resolveDurationSeconds.Observe(seconds)
}

func IncResolveTiles(outcome string, n int) {
	if n > 0 {
		resolveTilesTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

func ObserveInvalidation(op string, tiles int, d time.Duration, err error) {
	invalidationsTotal.WithLabelValues(op, statusLabel(err)).Inc()
	invalidationDurationSeconds.Observe(d.Seconds())
	if tiles > 0 && err == nil {
		resolveTilesTotal.WithLabelValues("invalidated").Add(float64(tiles))
	}
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ObserveUpstreamLatency(upstream string, seconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(seconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
