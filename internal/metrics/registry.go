package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric this module exports, built over the
// SanitizeCode/SanitizeMethod label helpers above for bounded
// cardinality, per the "detailed per-route/per-upstream metrics"
// supplemented feature.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	UpstreamErrors  *prometheus.CounterVec
	CircuitState    *prometheus.GaugeVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
}

// NewRegistry builds a Registry against its own prometheus.Registry
// (not the global default), so multiple instances (e.g. in tests)
// don't collide on metric names.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avalon",
			Name:      "requests_total",
			Help:      "Total requests processed, labeled by route, method, and status.",
		}, []string{"route", "method", "code"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "avalon",
			Name:      "request_duration_seconds",
			Help:      "Request handling latency in seconds, labeled by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		UpstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avalon",
			Name:      "upstream_errors_total",
			Help:      "Upstream connection/round-trip failures, labeled by upstream server.",
		}, []string{"upstream"}),
		CircuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "avalon",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per upstream: 0=closed, 1=open, 2=half_open.",
		}, []string{"upstream"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "avalon",
			Name:      "cache_hits_total",
			Help:      "Response cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "avalon",
			Name:      "cache_misses_total",
			Help:      "Response cache misses.",
		}),
	}
}

// Handler returns the Prometheus text-exposition HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed request's outcome, with labels
// sanitized for bounded cardinality.
func (r *Registry) ObserveRequest(route, method string, status int, seconds float64) {
	r.RequestsTotal.WithLabelValues(route, SanitizeMethod(method), SanitizeCode(status)).Inc()
	r.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// ObserveUpstreamError increments the failure counter for an upstream.
func (r *Registry) ObserveUpstreamError(upstreamName string) {
	r.UpstreamErrors.WithLabelValues(upstreamName).Inc()
}

// SetCircuitState records an upstream's current breaker state as a gauge.
func (r *Registry) SetCircuitState(upstreamName string, state int) {
	r.CircuitState.WithLabelValues(upstreamName).Set(float64(state))
}
