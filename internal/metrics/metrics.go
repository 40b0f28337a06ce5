// Package metrics exposes scrape, cache and session measurements to
// prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nimora"

// Collectors implements aggregator.Metrics.
type Collectors struct {
	registry *prometheus.Registry

	scrapeDuration *prometheus.HistogramVec
	cacheRequests  *prometheus.CounterVec
	logins         *prometheus.CounterVec
	activeSessions prometheus.Gauge
	httpRequests   *prometheus.CounterVec
}

// New registers every collector, plus the go and process collectors, on a
// fresh registry.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		scrapeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scrape_duration_seconds",
			Help:      "Time spent on a portal session, login included.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"kind", "outcome"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by kind and result.",
		}, []string{"kind", "result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "portal_logins_total",
			Help:      "Portal login attempts by variant and outcome.",
		}, []string{"variant", "outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Portal sessions currently open.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.scrapeDuration,
		c.cacheRequests,
		c.logins,
		c.activeSessions,
		c.httpRequests,
	)
	return c
}

func (c *Collectors) ScrapeObserved(kind, outcome string, d time.Duration) {
	c.scrapeDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

func (c *Collectors) CacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheRequests.WithLabelValues(kind, result).Inc()
}

func (c *Collectors) LoginObserved(variant, outcome string) {
	c.logins.WithLabelValues(variant, outcome).Inc()
}

func (c *Collectors) SessionsInFlight(delta float64) {
	c.activeSessions.Add(delta)
}

// RequestServed counts one API response. route is the matched pattern, not
// the raw path.
func (c *Collectors) RequestServed(route string, code int) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Registry is exposed for tests and for embedding extra collectors.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
