package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the index service
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec

	// Insert metrics
	VectorsInserted     *prometheus.CounterVec
	InsertFailures      *prometheus.CounterVec
	BatchInsertTotal    prometheus.Counter
	BatchInsertDuration prometheus.Histogram

	// Query metrics
	QueriesTotal     prometheus.Counter
	QueryLatency     prometheus.Histogram
	QueryResultSize  prometheus.Histogram
	QueryBatchVector prometheus.Histogram

	// Index metrics
	IndexSize    *prometheus.GaugeVec
	IndexesTotal prometheus.Gauge

	// Persistence metrics
	PersistTotal    *prometheus.CounterVec
	PersistDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheSize   prometheus.Gauge

	// Quota metrics
	QuotaUsage *prometheus.GaugeVec

	// System metrics
	GoroutinesCount prometheus.Gauge
	MemoryUsage     prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// creates unregistered collectors, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	latencyBuckets := []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ann_requests_total",
				Help: "Total number of API requests by method and status",
			},
			[]string{"method", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ann_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"method"},
		),
		RequestErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ann_request_errors_total",
				Help: "Total number of API request errors by method and error type",
			},
			[]string{"method", "error_type"},
		),

		VectorsInserted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ann_vectors_inserted_total",
				Help: "Total number of vectors inserted by index",
			},
			[]string{"index"},
		),
		InsertFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ann_insert_failures_total",
				Help: "Total number of failed insert batches by index",
			},
			[]string{"index"},
		),
		BatchInsertTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ann_batch_insert_total",
			Help: "Total number of insert batches",
		}),
		BatchInsertDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ann_batch_insert_duration_seconds",
			Help:    "Insert batch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}),

		QueriesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ann_queries_total",
			Help: "Total number of query vectors searched",
		}),
		QueryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ann_query_latency_seconds",
			Help:    "Query batch latency in seconds",
			Buckets: latencyBuckets,
		}),
		QueryResultSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ann_query_result_size",
			Help:    "Number of neighbors returned per query vector",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100, 200, 500, 1000},
		}),
		QueryBatchVector: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ann_query_batch_vectors",
			Help:    "Number of query vectors per query batch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),

		IndexSize: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ann_index_size",
				Help: "Number of vectors in the index",
			},
			[]string{"index"},
		),
		IndexesTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "ann_indexes_total",
			Help: "Number of registered indexes",
		}),

		PersistTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ann_persist_operations_total",
				Help: "Total number of save and load operations by status",
			},
			[]string{"operation", "status"},
		),
		PersistDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ann_persist_duration_seconds",
				Help:    "Save and load duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"operation"},
		),

		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "ann_cache_hits_total",
			Help: "Total number of query cache hits",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "ann_cache_misses_total",
			Help: "Total number of query cache misses",
		}),
		CacheSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "ann_cache_size",
			Help: "Current number of entries in the query cache",
		}),

		QuotaUsage: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ann_quota_usage_ratio",
				Help: "Fraction of the vector quota used by index",
			},
			[]string{"index"},
		),

		GoroutinesCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "ann_goroutines",
			Help: "Number of goroutines",
		}),
		MemoryUsage: f.NewGauge(prometheus.GaugeOpts{
			Name: "ann_memory_usage_bytes",
			Help: "Heap memory in use in bytes",
		}),
	}
}

// RecordRequest records an API request
func (m *Metrics) RecordRequest(method, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordError records an API request error
func (m *Metrics) RecordError(method, errorType string) {
	m.RequestErrors.WithLabelValues(method, errorType).Inc()
}

// RecordBatchInsert records a completed insert batch
func (m *Metrics) RecordBatchInsert(index string, duration time.Duration, count int) {
	m.BatchInsertTotal.Inc()
	m.BatchInsertDuration.Observe(duration.Seconds())
	m.VectorsInserted.WithLabelValues(index).Add(float64(count))
}

// RecordInsertFailure records an insert batch that stopped on a worker error
func (m *Metrics) RecordInsertFailure(index string) {
	m.InsertFailures.WithLabelValues(index).Inc()
}

// RecordQuery records a query batch
func (m *Metrics) RecordQuery(duration time.Duration, queries, k int) {
	m.QueriesTotal.Add(float64(queries))
	m.QueryLatency.Observe(duration.Seconds())
	m.QueryBatchVector.Observe(float64(queries))
	m.QueryResultSize.Observe(float64(k))
}

// RecordPersist records a save or load operation
func (m *Metrics) RecordPersist(operation string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.PersistTotal.WithLabelValues(operation, status).Inc()
	m.PersistDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateIndexSize sets the size gauge of an index
func (m *Metrics) UpdateIndexSize(index string, size int) {
	m.IndexSize.WithLabelValues(index).Set(float64(size))
}

// DeleteIndex drops the per-index series of a removed index
func (m *Metrics) DeleteIndex(index string) {
	m.IndexSize.DeleteLabelValues(index)
	m.QuotaUsage.DeleteLabelValues(index)
	m.VectorsInserted.DeleteLabelValues(index)
	m.InsertFailures.DeleteLabelValues(index)
}

// UpdateIndexCount sets the number of registered indexes
func (m *Metrics) UpdateIndexCount(count int) {
	m.IndexesTotal.Set(float64(count))
}

// UpdateQuotaUsage sets the quota usage ratio of an index
func (m *Metrics) UpdateQuotaUsage(index string, usage float64) {
	m.QuotaUsage.WithLabelValues(index).Set(usage)
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Inc()
}

// UpdateCacheSize updates the cache size
func (m *Metrics) UpdateCacheSize(size int) {
	m.CacheSize.Set(float64(size))
}

// UpdateGoroutineCount updates the goroutine count
func (m *Metrics) UpdateGoroutineCount(count int) {
	m.GoroutinesCount.Set(float64(count))
}

// UpdateMemoryUsage updates the heap memory gauge
func (m *Metrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}
