package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipship_upstream_requests_total",
			Help: "Image service requests by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipship_upstream_latency_seconds",
			Help:    "Latency of image service calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"op"},
	)

	downloadedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipship_downloaded_bytes_total",
			Help: "Raster bytes written to the output directory.",
		},
	)

	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipship_items_total",
			Help: "Image items by pipeline stage outcome.",
		},
		[]string{"stage", "outcome"},
	)

	catalogRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipship_catalog_rows_total",
			Help: "Rows appended to the output catalog.",
		},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipship_cache_results_total",
			Help: "Response cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	cacheOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipship_cache_op_seconds",
			Help:    "Latency of Redis cache operations in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipship_events_total",
			Help: "Ingest events handed to the publisher by outcome.",
		},
		[]string{"outcome"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clipship_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

// Collectors returns every collector owned by this package so a private
// registry can expose them too.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		upstreamRequestsTotal,
		upstreamLatencySeconds,
		downloadedBytesTotal,
		itemsTotal,
		catalogRowsTotal,
		cacheResults,
		cacheOpSeconds,
		eventsTotal,
		buildInfo,
	}
}

func ObserveUpstream(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	upstreamRequestsTotal.WithLabelValues(op, outcome).Inc()
	upstreamLatencySeconds.WithLabelValues(op).Observe(durationSeconds)
}

func AddDownloadedBytes(n int64) {
	if n > 0 {
		downloadedBytesTotal.Add(float64(n))
	}
}

func IncItem(stage, outcome string) {
	itemsTotal.WithLabelValues(stage, outcome).Inc()
}

func IncCatalogRows() {
	catalogRowsTotal.Inc()
}

func IncCacheHit(tier string) {
	cacheResults.WithLabelValues(tier, "hit").Inc()
}

func IncCacheMiss(tier string) {
	cacheResults.WithLabelValues(tier, "miss").Inc()
}

// CacheResultCounter exposes one cache result series, mainly for tests.
func CacheResultCounter(tier, outcome string) prometheus.Counter {
	return cacheResults.WithLabelValues(tier, outcome)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cacheOpSeconds.WithLabelValues(op, outcome).Observe(durationSeconds)
}

// IncEvent counts publisher outcomes ("queued", "dropped" or "failed").
func IncEvent(outcome string) {
	eventsTotal.WithLabelValues(outcome).Inc()
}

func EventCounter(outcome string) prometheus.Counter {
	return eventsTotal.WithLabelValues(outcome)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
