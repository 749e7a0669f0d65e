// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder groups the collectors for authentication and discovery.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry        *prometheus.Registry
	authentications *prometheus.CounterVec
	discoveries     *prometheus.CounterVec
	requests        *prometheus.HistogramVec
}

// New creates a Recorder backed by its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oidc_gate",
			Name:      "authentications_total",
			Help:      "Bearer token authentications by mode and outcome.",
		}, []string{"mode", "outcome"}),
		discoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oidc_gate",
			Name:      "discovery_fetches_total",
			Help:      "OpenID Connect discovery document fetches by result.",
		}, []string{"result"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "oidc_gate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "code"}),
	}
	r.registry.MustRegister(
		r.authentications,
		r.discoveries,
		r.requests,
		collectors.NewGoCollector(),
	)
	return r
}

// Authentication counts one bearer authentication outcome.
func (r *Recorder) Authentication(mode, outcome string) {
	if r == nil {
		return
	}
	r.authentications.WithLabelValues(mode, outcome).Inc()
}

// Discovery counts one discovery fetch.
func (r *Recorder) Discovery(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.discoveries.WithLabelValues(result).Inc()
}

// Request observes one served HTTP request.
func (r *Recorder) Request(method, code string, seconds float64) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(method, code).Observe(seconds)
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
