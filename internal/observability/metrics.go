package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the service: HTTP traffic plus
// the authorization-cache and session-lifecycle counters.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheRecomputes *prometheus.CounterVec

	sessionsIssued    prometheus.Counter
	sessionsValidated *prometheus.CounterVec
	sessionsRefreshed prometheus.Counter
	sessionsRevoked   prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warden_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_authz_cache_hits_total",
		Help: "Authorization cache lookups served from a fresh entry.",
	})
	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_authz_cache_misses_total",
		Help: "Authorization cache lookups that found no fresh entry.",
	})
	cacheRecomputes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_authz_cache_recomputes_total",
		Help: "Permission set recomputations, split by single-flight sharing.",
	}, []string{"shared"})

	sessionsIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_sessions_issued_total",
		Help: "Sessions issued.",
	})
	sessionsValidated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_sessions_validated_total",
		Help: "Session validations by outcome.",
	}, []string{"outcome"})
	sessionsRefreshed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_sessions_refreshed_total",
		Help: "Successful token rotations.",
	})
	sessionsRevoked := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_sessions_revoked_total",
		Help: "Session revocations.",
	})

	registry.MustRegister(requests, duration,
		cacheHits, cacheMisses, cacheRecomputes,
		sessionsIssued, sessionsValidated, sessionsRefreshed, sessionsRevoked)

	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		cacheRecomputes:   cacheRecomputes,
		sessionsIssued:    sessionsIssued,
		sessionsValidated: sessionsValidated,
		sessionsRefreshed: sessionsRefreshed,
		sessionsRevoked:   sessionsRevoked,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
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

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// CacheHit implements rbac.CacheMetrics.
func (m *Metrics) CacheHit() { m.cacheHits.Inc() }

// CacheMiss implements rbac.CacheMetrics.
func (m *Metrics) CacheMiss() { m.cacheMisses.Inc() }

// CacheRecompute implements rbac.CacheMetrics.
func (m *Metrics) CacheRecompute(shared bool) {
	m.cacheRecomputes.WithLabelValues(strconv.FormatBool(shared)).Inc()
}

// SessionIssued implements session.Metrics.
func (m *Metrics) SessionIssued() { m.sessionsIssued.Inc() }

// SessionValidated implements session.Metrics.
func (m *Metrics) SessionValidated(outcome string) {
	m.sessionsValidated.WithLabelValues(outcome).Inc()
}

// SessionRefreshed implements session.Metrics.
func (m *Metrics) SessionRefreshed() { m.sessionsRefreshed.Inc() }

// SessionRevoked implements session.Metrics.
func (m *Metrics) SessionRevoked() { m.sessionsRevoked.Inc() }

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
