// Package metrics holds the Prometheus instruments for scraping, caching, enrichment and the
// read API. Everything registers on the default registry and is served at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scrape metrics
	ScrapeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rzn_scrape_duration_seconds",
			Help:    "Duration of one source scrape in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"source"},
	)

	ScrapeEvents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rzn_scrape_events",
			Help: "Number of events returned by the last scrape of a source",
		},
		[]string{"source"},
	)

	ScrapeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rzn_scrape_errors_total",
			Help: "Total number of failed source scrapes",
		},
		[]string{"source", "reason"}, // "error", "panic", "breaker_open"
	)

	FallbackServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rzn_fallback_served_total",
			Help: "Total number of refresh cycles that produced the fallback dataset",
		},
	)

	// Cache metrics
	CacheRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rzn_cache_refreshes_total",
			Help: "Total number of completed cache refresh cycles",
		},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rzn_cache_lookups_total",
			Help: "Total number of cache lookups by result",
		},
		[]string{"cache", "result"}, // cache: "shows", "detail", "enrichment"; result: "hit", "miss"
	)

	CacheAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rzn_cache_fetched_at_seconds",
			Help: "Unix time of the current dataset",
		},
	)

	// Enrichment metrics
	EnrichmentAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rzn_enrichment_attempts_total",
			Help: "Total number of enrichment provider attempts by outcome",
		},
		[]string{"provider", "outcome"}, // outcome: "enriched", "empty", "error"
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rzn_circuit_breaker_state",
			Help: "Circuit breaker state per source (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rzn_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rzn_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordScrape records one source scrape.
func RecordScrape(source string, duration time.Duration, events int, err error) {
	ScrapeDuration.WithLabelValues(source).Observe(duration.Seconds())
	if err != nil {
		ScrapeErrors.WithLabelValues(source, "error").Inc()
		ScrapeEvents.WithLabelValues(source).Set(0)
		return
	}
	ScrapeEvents.WithLabelValues(source).Set(float64(events))
}

// RecordScrapePanic records an adapter that panicked.
func RecordScrapePanic(source string) {
	ScrapeErrors.WithLabelValues(source, "panic").Inc()
	ScrapeEvents.WithLabelValues(source).Set(0)
}

// RecordCacheLookup records a hit or miss on a named cache.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheHits.WithLabelValues(cache, result).Inc()
}

// RecordRefresh records a completed refresh cycle.
func RecordRefresh(fetchedAt time.Time, fallback bool) {
	CacheRefreshes.Inc()
	CacheAge.Set(float64(fetchedAt.Unix()))
	if fallback {
		FallbackServed.Inc()
	}
}

// RecordEnrichment records the outcome of one enrichment provider.
func RecordEnrichment(provider, outcome string) {
	EnrichmentAttempts.WithLabelValues(provider, outcome).Inc()
}

// RecordAPIRequest records an API request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
