// Package metrics holds the Prometheus collectors of the rarity service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics on a private registry.
// A nil *Registry is valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  prometheus.Histogram
	CacheLookups     *prometheus.CounterVec
	Refreshes        *prometheus.CounterVec
	RefreshDuration  *prometheus.HistogramVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New creates a new Registry with every collector registered.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rarity_upstream_requests_total",
				Help: "Marketplace page requests by outcome",
			},
			[]string{"status"},
		),
		UpstreamLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rarity_upstream_request_duration_seconds",
				Help:    "Latency of marketplace page requests",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rarity_cache_lookups_total",
				Help: "Snapshot cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rarity_cache_refreshes_total",
				Help: "Snapshot refreshes by cache and result",
			},
			[]string{"cache", "result"},
		),
		RefreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rarity_cache_refresh_duration_seconds",
				Help:    "Duration of full snapshot refreshes",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"cache"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rarity_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rarity_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	r.registry.MustRegister(
		r.UpstreamRequests,
		r.UpstreamLatency,
		r.CacheLookups,
		r.Refreshes,
		r.RefreshDuration,
		r.HTTPRequests,
		r.HTTPDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// ObserveUpstream records one marketplace call. status is the HTTP code or 0 for transport errors.
func (r *Registry) ObserveUpstream(status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	r.UpstreamRequests.WithLabelValues(label).Inc()
	r.UpstreamLatency.Observe(elapsed.Seconds())
}

// ObserveLookup records a cache lookup result ("hit", "miss", "stale", "remote_hit").
func (r *Registry) ObserveLookup(cache, result string) {
	if r == nil {
		return
	}
	r.CacheLookups.WithLabelValues(cache, result).Inc()
}

// ObserveRefresh records a finished refresh.
func (r *Registry) ObserveRefresh(cache string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.Refreshes.WithLabelValues(cache, result).Inc()
	r.RefreshDuration.WithLabelValues(cache).Observe(elapsed.Seconds())
}

// ObserveHTTP records one served request.
func (r *Registry) ObserveHTTP(route string, code int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	r.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
