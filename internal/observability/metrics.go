package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitabwire/fieldform/model"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	runDurationBuckets  = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
	bodySizeBuckets     = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the form bootstrap
// service. It satisfies the observer interfaces of the parser, the form
// cache, the archive router and the bootstrap orchestrator.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Bootstrap metrics
	BootstrapRunsTotal      *prometheus.CounterVec
	BootstrapRunDuration    prometheus.Histogram
	ArchivesProcessedTotal  *prometheus.CounterVec
	EntriesProcessedTotal   *prometheus.CounterVec
	BootstrapLastRunSuccess prometheus.Gauge

	// Definition metrics
	DefinitionsParsedTotal *prometheus.CounterVec

	// Cache metrics
	FormCacheHitsTotal   prometheus.Counter
	FormCacheMissesTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldform_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldform_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldform_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Bootstrap
		BootstrapRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldform_bootstrap_runs_total",
			Help: "Total number of bootstrap runs by result.",
		}, []string{"result"}),
		BootstrapRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldform_bootstrap_run_duration_seconds",
			Help:    "Bootstrap run duration in seconds.",
			Buckets: runDurationBuckets,
		}),
		ArchivesProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldform_archives_processed_total",
			Help: "Total number of processed archives by result.",
		}, []string{"result"}),
		EntriesProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldform_archive_entries_total",
			Help: "Total number of routed archive entries by kind and result.",
		}, []string{"kind", "result"}),
		BootstrapLastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldform_bootstrap_last_run_success",
			Help: "1 if the last bootstrap run succeeded, 0 otherwise.",
		}),

		// Definitions
		DefinitionsParsedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldform_definitions_parsed_total",
			Help: "Total number of parsed form definitions by status.",
		}, []string{"status"}),

		// Cache
		FormCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldform_form_cache_hits_total",
			Help: "Total form cache hits.",
		}),
		FormCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldform_form_cache_misses_total",
			Help: "Total form cache misses.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSizeBytes,
		// Bootstrap
		m.BootstrapRunsTotal,
		m.BootstrapRunDuration,
		m.ArchivesProcessedTotal,
		m.EntriesProcessedTotal,
		m.BootstrapLastRunSuccess,
		// Definitions
		m.DefinitionsParsedTotal,
		// Cache
		m.FormCacheHitsTotal,
		m.FormCacheMissesTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, respSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RunCompleted records the outcome of a bootstrap run.
func (m *Metrics) RunCompleted(result model.ProcessingResult, elapsed time.Duration) {
	m.BootstrapRunsTotal.WithLabelValues(result.String()).Inc()
	m.BootstrapRunDuration.Observe(elapsed.Seconds())
	if result == model.ResultSuccess {
		m.BootstrapLastRunSuccess.Set(1)
	} else {
		m.BootstrapLastRunSuccess.Set(0)
	}
}

// ArchiveProcessed records the outcome of one archive.
func (m *Metrics) ArchiveProcessed(result model.ProcessingResult) {
	m.ArchivesProcessedTotal.WithLabelValues(result.String()).Inc()
}

// EntryProcessed records one routed archive entry.
func (m *Metrics) EntryProcessed(kind string, result model.ProcessingResult) {
	m.EntriesProcessedTotal.WithLabelValues(kind, result.String()).Inc()
}

// DefinitionParsed records a definition parse; degraded parses are counted
// separately from clean ones.
func (m *Metrics) DefinitionParsed(degraded bool) {
	status := "ok"
	if degraded {
		status = "degraded"
	}
	m.DefinitionsParsedTotal.WithLabelValues(status).Inc()
}

// FormCacheLookup records a form cache hit or miss.
func (m *Metrics) FormCacheLookup(hit bool) {
	if hit {
		m.FormCacheHitsTotal.Inc()
		return
	}
	m.FormCacheMissesTotal.Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// statusRecorder captures the status and size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
