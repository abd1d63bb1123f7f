package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunnystream_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bunnystream_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Upstream (Bunny management API) Metrics
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunnystream_upstream_requests_total",
			Help: "Total number of Bunny management API requests",
		},
		[]string{"operation", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bunnystream_upstream_request_duration_seconds",
			Help:    "Bunny management API latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	// Playback Metrics
	PlaybackURLSetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunnystream_playback_url_sets_total",
			Help: "Total number of playback URL sets built",
		},
		[]string{"signed"},
	)

	// Session Metrics
	SessionsInitializedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bunnystream_sessions_initialized_total",
			Help: "Total number of sessions created by initialize",
		},
	)

	// Export Metrics
	ExportsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bunnystream_exports_created_total",
			Help: "Total number of catalog export jobs created",
		},
	)

	ExportsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunnystream_exports_completed_total",
			Help: "Total number of finished catalog export jobs",
		},
		[]string{"status"},
	)

	ExportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bunnystream_export_duration_seconds",
			Help:    "Catalog export duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	ExportedVideosTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bunnystream_exported_videos_total",
			Help: "Total number of videos written to export snapshots",
		},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunnystream_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunnystream_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunnystream_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bunnystream_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunnystream_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunnystream_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Webhook Metrics
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunnystream_webhook_deliveries_total",
			Help: "Total number of webhook deliveries by outcome",
		},
		[]string{"event", "status"},
	)

	// Error Metrics
	// Export pipeline gauges, refreshed by the worker's monitor
	ExportQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bunnystream_export_queue_depth",
			Help: "Number of export messages waiting in the queue",
		},
	)

	ExportDLQDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bunnystream_export_dlq_depth",
			Help: "Number of export messages in the dead letter queue",
		},
	)

	ExportJobsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bunnystream_export_jobs",
			Help: "Number of export jobs by status",
		},
		[]string{"status"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunnystream_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordUpstreamRequest records a Bunny management API call. A zero status
// means the request never produced a response.
func RecordUpstreamRequest(operation string, statusCode int, duration float64) {
	status := "network_error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	UpstreamRequestsTotal.WithLabelValues(operation, status).Inc()
	UpstreamRequestDuration.WithLabelValues(operation).Observe(duration)
}

// RecordPlaybackURLSet records a built playback URL set
func RecordPlaybackURLSet(signed bool) {
	PlaybackURLSetsTotal.WithLabelValues(strconv.FormatBool(signed)).Inc()
}

// RecordSessionInitialized records a new session
func RecordSessionInitialized() {
	SessionsInitializedTotal.Inc()
}

// RecordExportCreated records an export job creation
func RecordExportCreated() {
	ExportsCreatedTotal.Inc()
}

// RecordExportCompleted records a finished export job
func RecordExportCompleted(status string, duration float64, videoCount int) {
	ExportsCompletedTotal.WithLabelValues(status).Inc()
	ExportDuration.Observe(duration)
	ExportedVideosTotal.Add(float64(videoCount))
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordWebhookDelivery records the outcome of a webhook delivery
func RecordWebhookDelivery(event, status string) {
	WebhookDeliveriesTotal.WithLabelValues(event, status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// SetExportPipelineState records the latest queue depths and job counts
func SetExportPipelineState(queueDepth, dlqDepth int, jobsByStatus map[string]int64) {
	ExportQueueDepth.Set(float64(queueDepth))
	ExportDLQDepth.Set(float64(dlqDepth))
	for status, count := range jobsByStatus {
		ExportJobsByStatus.WithLabelValues(status).Set(float64(count))
	}
}
