// Package metrics provides Prometheus metrics for the gallery server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gallery_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Reconciliation metrics
	reconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gallery_reconcile_duration_seconds",
			Help:    "Duration of a filesystem reconciliation pass",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	reconcileChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_reconcile_changes_total",
			Help: "Records changed by reconciliation",
		},
		[]string{"kind"},
	)

	reconcileFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_reconcile_failures_total",
			Help: "Failed reconciliation passes",
		},
		[]string{"reason"},
	)

	scanErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_scan_subtree_errors_total",
			Help: "Subtrees skipped during a scan because of I/O errors",
		},
	)

	indexedFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_indexed_files",
			Help: "Number of file records in the store",
		},
	)

	// Favorites
	favoritesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_favorites",
			Help: "Number of files marked favorite",
		},
	)

	favoriteOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_favorite_operations_total",
			Help: "Favorite toggle/set operations",
		},
		[]string{"op", "result"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gallery_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbBusyTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_db_busy_total",
			Help: "Store operations that failed on lock contention",
		},
	)

	// Tree cache
	treeRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_tree_rebuilds_total",
			Help: "Directory tree cache rebuilds",
		},
	)

	treeCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_tree_cache_hits_total",
			Help: "Directory tree requests served from cache",
		},
	)

	treeSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_tree_folders",
			Help: "Number of folders in the cached directory tree",
		},
	)

	treeBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gallery_tree_build_duration_seconds",
			Help:    "Time to walk the root and build the directory tree",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Thumbnails
	thumbnailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_thumbnails_total",
			Help: "Thumbnail requests by outcome",
		},
		[]string{"result"},
	)

	processorDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_processor_queue_drops_total",
			Help: "Thumbnail jobs dropped because the queue was full",
		},
	)

	// Downloads
	downloadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_download_bytes_total",
			Help: "Bytes served by download endpoints",
		},
		[]string{"kind"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordReconcile records a completed reconciliation pass.
func RecordReconcile(added, updated, deleted, scanErrors int, duration time.Duration) {
	reconcileDuration.Observe(duration.Seconds())
	reconcileChangesTotal.WithLabelValues("added").Add(float64(added))
	reconcileChangesTotal.WithLabelValues("updated").Add(float64(updated))
	reconcileChangesTotal.WithLabelValues("deleted").Add(float64(deleted))
	scanErrorsTotal.Add(float64(scanErrors))
}

// RecordReconcileFailure records a failed reconciliation pass.
func RecordReconcileFailure(reason string) {
	reconcileFailuresTotal.WithLabelValues(reason).Inc()
}

// SetIndexedFiles sets the number of file records.
func SetIndexedFiles(count int) {
	indexedFiles.Set(float64(count))
}

// SetFavorites sets the current favorites count.
func SetFavorites(count int) {
	favoritesTotal.Set(float64(count))
}

// RecordFavoriteOp records a favorite mutation.
func RecordFavoriteOp(op string, found bool) {
	result := "applied"
	if !found {
		result = "missing"
	}
	favoriteOpsTotal.WithLabelValues(op, result).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordDBBusy records a store operation rejected by lock contention.
func RecordDBBusy() {
	dbBusyTotal.Inc()
}

// RecordTreeRebuild records a directory tree rebuild.
func RecordTreeRebuild(folders int, duration time.Duration) {
	treeRebuildsTotal.Inc()
	treeSize.Set(float64(folders))
	treeBuildDuration.Observe(duration.Seconds())
}

// RecordTreeCacheHit records a tree request served from cache.
func RecordTreeCacheHit() {
	treeCacheHitsTotal.Inc()
}

// RecordThumbnail records a thumbnail outcome: generated, cached or failed.
func RecordThumbnail(result string) {
	thumbnailsTotal.WithLabelValues(result).Inc()
}

// RecordProcessorDrop records a dropped pre-generation job.
func RecordProcessorDrop() {
	processorDropsTotal.Inc()
}

// RecordDownload records bytes served by a download endpoint.
func RecordDownload(kind string, bytes int64) {
	downloadBytesTotal.WithLabelValues(kind).Add(float64(bytes))
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by the matched mux pattern so path parameters do not create
// new series.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
