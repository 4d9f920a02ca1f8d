// Package metrics exposes Prometheus collectors for the loader and the risk
// engine. Every method is safe on a nil *Registry so components can run
// without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all varengine collectors on a private prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	// Loader
	FetchTotal    *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	CacheHits     *prometheus.CounterVec

	// Engine
	RunTotal      *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	Divergences   prometheus.Counter
	LimitBreaches prometheus.Counter
}

// New creates a Registry with Go runtime and process collectors attached.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "varengine_fetch_total",
				Help: "Upstream bar downloads by source and outcome",
			},
			[]string{"source", "outcome"},
		),

		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "varengine_fetch_duration_seconds",
				Help:    "Duration of upstream bar downloads in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
			[]string{"source"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "varengine_cache_hits_total",
				Help: "Return series served from the bar cache",
			},
			[]string{"source"},
		),

		RunTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "varengine_runs_total",
				Help: "Engine runs by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),

		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "varengine_run_duration_seconds",
				Help:    "Engine run duration in seconds, including data loading",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),

		Divergences: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "varengine_divergences_total",
				Help: "Comparisons whose method spread exceeded the divergence threshold",
			},
		),

		LimitBreaches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "varengine_loss_limit_breaches_total",
				Help: "Reports whose primary VaR exceeded the configured loss limit",
			},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.FetchTotal,
		r.FetchDuration,
		r.CacheHits,
		r.RunTotal,
		r.RunDuration,
		r.Divergences,
		r.LimitBreaches,
	)
	return r
}

// Gatherer returns the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveFetch records one upstream download attempt.
func (r *Registry) ObserveFetch(source, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.FetchTotal.WithLabelValues(source, outcome).Inc()
	r.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

// CacheHit records a series served without a download.
func (r *Registry) CacheHit(source string) {
	if r == nil {
		return
	}
	r.CacheHits.WithLabelValues(source).Inc()
}

// ObserveRun records one engine operation.
func (r *Registry) ObserveRun(operation, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.RunTotal.WithLabelValues(operation, outcome).Inc()
	r.RunDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Diverged counts a comparison that recommended the historical method.
func (r *Registry) Diverged() {
	if r == nil {
		return
	}
	r.Divergences.Inc()
}

// LimitBreached counts a report flagged by the loss limit.
func (r *Registry) LimitBreached() {
	if r == nil {
		return
	}
	r.LimitBreaches.Inc()
}
