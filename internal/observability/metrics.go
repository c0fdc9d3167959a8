package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	movements       *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	importRows      *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and stock collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "khovattu_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "khovattu_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "khovattu_stock_movements_total",
		Help: "Committed stock movements by kind and operation.",
	}, []string{"kind", "op"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "khovattu_stock_rejections_total",
		Help: "Movements rejected for insufficient stock.",
	}, []string{"kind"})
	importRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "khovattu_import_rows_total",
		Help: "Spreadsheet rows processed by import kind and result.",
	}, []string{"kind", "result"})
	registry.MustRegister(requests, duration, movements, rejections, importRows)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		movements:       movements,
		rejections:      rejections,
		importRows:      importRows,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records every HTTP request against its chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveMovement counts a committed movement, e.g. ("inbound", "create").
func (m *Metrics) ObserveMovement(kind, op string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(kind, op).Inc()
}

// ObserveRejection counts a movement refused for insufficient stock.
func (m *Metrics) ObserveRejection(kind string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(kind).Inc()
}

// ObserveImportRows adds n rows with result to the import counter.
func (m *Metrics) ObserveImportRows(kind, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.importRows.WithLabelValues(kind, result).Add(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
