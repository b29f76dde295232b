// Package monitoring exposes operational request metrics.
package monitoring

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics captures per-request gateway metrics.
type Metrics interface {
	ObserveRequest(route, method, status string, durationSeconds float64)
	IncScopeRejected(route string)
	IncUpstreamFailure(route, cause string)
}

// Noop implements Metrics without emitting anything. Used in tests and when
// metrics are disabled.
type Noop struct{}

func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) IncScopeRejected(string)                        {}
func (Noop) IncUpstreamFailure(string, string)              {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	scopeRejected    *prometheus.CounterVec
	upstreamFailures *prometheus.CounterVec
	once             sync.Once
}

// NewProm creates and registers the gateway's collectors under namespace.
func NewProm(namespace string) *Prom {
	p := &Prom{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Proxied requests by route, method and status",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end proxied request duration by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		scopeRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scope_rejected_total",
			Help:      "Requests rejected before any upstream call for missing scope",
		}, []string{"route"}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Upstream transport failures by route and cause",
		}, []string{"route", "cause"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.requests, p.requestDuration, p.scopeRejected, p.upstreamFailures)
	})
}

func (p *Prom) ObserveRequest(route, method, status string, durationSeconds float64) {
	p.requests.WithLabelValues(route, method, status).Inc()
	p.requestDuration.WithLabelValues(route).Observe(durationSeconds)
}

func (p *Prom) IncScopeRejected(route string) {
	p.scopeRejected.WithLabelValues(route).Inc()
}

func (p *Prom) IncUpstreamFailure(route, cause string) {
	p.upstreamFailures.WithLabelValues(route, cause).Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
