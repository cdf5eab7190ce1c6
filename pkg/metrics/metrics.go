package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry holds every collector exposed on /api/metrics
	Registry = prometheus.NewRegistry()

	factory = promauto.With(Registry)

	// Custom histogram buckets for API response times ranging from milliseconds to 30+ seconds.
	// Airtable calls that back off on 429 land in the upper buckets.
	CustomAPIBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 34, 55}

	// HTTP Metrics
	HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: CustomAPIBuckets,
		},
		[]string{"http_request_method", "http_route", "http_response_status_code"},
	)

	HTTPRequestTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_server_request_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"http_request_method", "http_route", "http_response_status_code"},
	)

	ActiveRequests = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_server_active_requests",
			Help: "Number of active HTTP requests",
		},
		[]string{"http_request_method"},
	)

	// Airtable Client Metrics
	AirtableRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airtable_client_request_duration_seconds",
			Help:    "Airtable request duration in seconds, including backoff",
			Buckets: CustomAPIBuckets,
		},
		[]string{"operation", "status"},
	)

	AirtableRequestTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airtable_client_request_total",
			Help: "Total number of Airtable requests by outcome class",
		},
		[]string{"operation", "status"},
	)

	AirtableAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airtable_client_attempts_total",
			Help: "Total number of HTTP attempts sent to Airtable",
		},
		[]string{"operation"},
	)

	AirtableRetriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airtable_client_retries_total",
			Help: "Total number of retries after a 429 response",
		},
		[]string{"operation"},
	)

	// Meta cache Metrics
	CacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_name"},
	)

	CacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_name"},
	)

	CacheSize = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Number of entries in cache",
		},
		[]string{"cache_name"},
	)

	// Operation Metrics
	OperationTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airtable_connector_operation_total",
			Help: "Total number of host operation invocations",
		},
		[]string{"resource", "operation", "status"},
	)

	OperationItems = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airtable_connector_operation_items",
			Help:    "Number of items returned by an operation invocation",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100, 200, 500},
		},
		[]string{"resource", "operation"},
	)

	// Polling Metrics
	PollCyclesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airtable_connector_poll_cycles_total",
			Help: "Total number of poll cycles by outcome",
		},
		[]string{"status"},
	)

	PollRecordsEmitted = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "airtable_connector_poll_records_emitted_total",
			Help: "Total number of new records emitted by poll triggers",
		},
	)

	PollTicksSkipped = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "airtable_connector_poll_ticks_skipped_total",
			Help: "Ticks skipped because the previous cycle was still running",
		},
	)

	ActiveTriggers = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "airtable_connector_active_triggers",
			Help: "Number of active poll triggers",
		},
	)

	TriggerDeliveries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airtable_connector_trigger_deliveries_total",
			Help: "Total number of batch deliveries to trigger callbacks",
		},
		[]string{"status"},
	)

	// Infrastructure Metrics
	GoRoutines = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "process_runtime_go_goroutines",
			Help: "Number of goroutines",
		},
	)

	HeapAlloc = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "process_runtime_go_mem_heap_alloc_bytes",
			Help: "Heap allocated bytes",
		},
	)
)

// Init registers the process collector labelled with the service name
func Init(serviceName string) {
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "service_info",
			Help:        "Static service information",
			ConstLabels: prometheus.Labels{"service_name": serviceName},
		},
		func() float64 { return 1 },
	))
}

// RecordInfrastructureMetrics collects infrastructure metrics periodically
func RecordInfrastructureMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		for range ticker.C {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			GoRoutines.Set(float64(runtime.NumGoroutine()))
			HeapAlloc.Set(float64(m.HeapAlloc))
		}
	}()
}

// MeasureDuration measures the duration of an operation
func MeasureDuration(start time.Time) float64 {
	return time.Since(start).Seconds()
}
