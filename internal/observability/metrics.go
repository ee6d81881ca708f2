package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the portal process.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tierAttempts    *prometheus.CounterVec
	tierDuration    *prometheus.HistogramVec
	mutations       *prometheus.CounterVec
	cachedRoles     prometheus.Gauge
}

// NewMetrics initialises the registry and collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_role_tier_attempts_total",
		Help: "Remote policy ladder tier attempts by operation, tier and outcome.",
	}, []string{"op", "tier", "outcome"})
	tierDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_role_tier_duration_seconds",
		Help:    "Duration of remote policy ladder tier attempts.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"op", "tier"})
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_role_mutations_total",
		Help: "Role mutations by action and outcome (persisted, local_only, failed).",
	}, []string{"action", "outcome"})
	cached := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "portal_role_cache_roles",
		Help: "Number of roles held in the process role cache.",
	})
	registry.MustRegister(requests, duration, attempts, tierDuration, mutations, cached)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		tierAttempts:    attempts,
		tierDuration:    tierDuration,
		mutations:       mutations,
		cachedRoles:     cached,
	}
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics.
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

// ObserveTier records one ladder tier attempt.
func (m *Metrics) ObserveTier(op, tier string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.tierAttempts.WithLabelValues(op, tier, outcome).Inc()
	m.tierDuration.WithLabelValues(op, tier).Observe(elapsed.Seconds())
}

// ObserveMutation records the final outcome of a role mutation.
func (m *Metrics) ObserveMutation(action, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(action, outcome).Inc()
}

// SetCachedRoles reports the current role cache size.
func (m *Metrics) SetCachedRoles(n int) {
	if m == nil {
		return
	}
	m.cachedRoles.Set(float64(n))
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
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
