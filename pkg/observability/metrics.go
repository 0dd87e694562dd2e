package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Import lifecycle metrics
	ImportsStartedTotal   *prometheus.CounterVec
	ImportsCompletedTotal *prometheus.CounterVec
	ImportsDeletedTotal   *prometheus.CounterVec
	ImportsDeniedTotal    *prometheus.CounterVec
	OpenImports           prometheus.Gauge

	// Batch metrics
	BatchesTotal        *prometheus.CounterVec
	BatchDuration       *prometheus.HistogramVec
	EventsImportedTotal *prometheus.CounterVec
	EventsSkippedTotal  *prometheus.CounterVec
	EventsInvalidTotal  *prometheus.CounterVec

	// Storage metrics
	StoreInsertsTotal      *prometheus.CounterVec
	StoreInsertDuration    prometheus.Histogram
	StoreErrorsTotal       *prometheus.CounterVec
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evertide_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "evertide_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ImportsStartedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evertide_imports_started_total",
				Help: "Total number of imports admitted",
			},
			[]string{"platform"},
		),
		ImportsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evertide_imports_completed_total",
				Help: "Total number of imports completed",
			},
			[]string{"platform"},
		),
		ImportsDeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evertide_imports_deleted_total",
				Help: "Total number of completed imports deleted",
			},
			[]string{"platform"},
		),
		ImportsDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evertide_imports_denied_total",
				Help: "Total number of import creations denied by the concurrency gate",
			},
			[]string{"reason"},
		),
		OpenImports: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "evertide_open_imports",
				Help: "Number of currently open (non-terminal) imports",
			},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evertide_batches_total",
				Help: "Total number of batches processed",
			},
			[]string{"platform", "result"},
		),
		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "evertide_batch_duration_seconds",
				Help:    "Batch processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"platform"},
		),
		EventsImportedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evertide_events_imported_total",
				Help: "Total number of events admitted and stored",
			},
			[]string{"platform"},
		),
		EventsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evertide_events_skipped_total",
				Help: "Total number of events rejected by quota or date range",
			},
			[]string{"platform"},
		),
		EventsInvalidTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evertide_events_invalid_total",
				Help: "Total number of events dropped by structural validation",
			},
			[]string{"platform"},
		),
		StoreInsertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evertide_store_inserts_total",
				Help: "Total number of event store bulk inserts",
			},
			[]string{"result"},
		),
		StoreInsertDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "evertide_store_insert_duration_seconds",
				Help:    "Event store bulk insert duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evertide_store_errors_total",
				Help: "Total number of event store errors",
			},
			[]string{"operation"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "evertide_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "evertide_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "evertide_db_connections_wait_count",
				Help: "Cumulative count of connection waits",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ImportsStartedTotal,
		m.ImportsCompletedTotal,
		m.ImportsDeletedTotal,
		m.ImportsDeniedTotal,
		m.OpenImports,
		m.BatchesTotal,
		m.BatchDuration,
		m.EventsImportedTotal,
		m.EventsSkippedTotal,
		m.EventsInvalidTotal,
		m.StoreInsertsTotal,
		m.StoreInsertDuration,
		m.StoreErrorsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request count and duration for every request
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := routePattern(r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// routePattern prefers the mux route template over the raw path so that
// per-import URLs do not explode label cardinality
func routePattern(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// statusRecorder captures the response status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
