package observability

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	upstreamLatencySeconds     *prometheus.HistogramVec
	upstreamRetriesTotal       *prometheus.CounterVec
	datasetResults             *prometheus.CounterVec
	datasetRecords             prometheus.Gauge
	datasetFillSeconds         *prometheus.HistogramVec
	cacheOpSeconds             *prometheus.HistogramVec
	queryResults               *prometheus.CounterVec
	buildInfo                  *prometheus.GaugeVec
}

var current atomic.Pointer[metricSet]

func init() {
	Init(prometheus.DefaultRegisterer, true)
}

func newMetricSet() *metricSet {
	return &metricSet{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"method", "route", "status"},
		),
		upstreamLatencySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_latency_seconds",
				Help:    "Latency of upstream calls in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"upstream", "outcome"},
		),
		upstreamRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_retries_total",
				Help: "Upstream attempts retried, by reason.",
			},
			[]string{"reason"},
		),
		datasetResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataset_cache_results_total",
				Help: "Dataset cache lookups by outcome.",
			},
			[]string{"outcome"},
		),
		datasetRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dataset_cache_records",
				Help: "Number of brewery records in the cached dataset.",
			},
		),
		datasetFillSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dataset_cache_fill_seconds",
				Help:    "Time to fill the dataset cache on a miss.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"source", "result"},
		),
		cacheOpSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shared_cache_op_seconds",
				Help:    "Latency of shared cache (redis) operations.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"op", "result"},
		),
		queryResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brewery_queries_total",
				Help: "Service operations by kind and result.",
			},
			[]string{"op", "result"},
		),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "app_build_info",
				Help: "Build information for the binary.",
			},
			[]string{"version"},
		),
	}
}

// Init swaps in a fresh metric set registered on reg. With enabled=false (or a
// nil reg) the set still records but is never exported.
func Init(reg prometheus.Registerer, enabled bool) {
	m := newMetricSet()
	if enabled && reg != nil {
		reg.MustRegister(
			m.httpRequestsTotal,
			m.httpRequestDurationSeconds,
			m.upstreamLatencySeconds,
			m.upstreamRetriesTotal,
			m.datasetResults,
			m.datasetRecords,
			m.datasetFillSeconds,
			m.cacheOpSeconds,
			m.queryResults,
			m.buildInfo,
		)
	}
	current.Store(m)
}

func get() *metricSet { return current.Load() }

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	m := get()
	st := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	m.httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, err error, durationSeconds float64) {
	get().upstreamLatencySeconds.WithLabelValues(upstream, resultLabel(err)).Observe(durationSeconds)
}

func IncUpstreamRetry(reason string) {
	get().upstreamRetriesTotal.WithLabelValues(reason).Inc()
}

// outcome is one of hit, miss, shared_hit, error, invalidated
func IncDatasetResult(outcome string) {
	get().datasetResults.WithLabelValues(outcome).Inc()
}

func SetDatasetRecords(n int) {
	get().datasetRecords.Set(float64(n))
}

func ObserveDatasetFill(source string, err error, durationSeconds float64) {
	get().datasetFillSeconds.WithLabelValues(source, resultLabel(err)).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	get().cacheOpSeconds.WithLabelValues(op, resultLabel(err)).Observe(durationSeconds)
}

func IncQuery(op, result string) {
	get().queryResults.WithLabelValues(op, result).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	get().buildInfo.WithLabelValues(version).Set(1)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
