// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_jobs_submitted_total",
			Help: "Total number of accepted scrape jobs, labeled by priority.",
		},
		[]string{"priority"},
	)
	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal status.",
		},
		[]string{"status"},
	)
	activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_active_jobs",
			Help: "Number of jobs currently processing.",
		},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scraper_queue_depth",
			Help: "Queued jobs per priority tier.",
		},
		[]string{"tier"},
	)
	pagesDiscoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_pages_discovered_total",
			Help: "Total number of pages gathered by discovery.",
		},
	)
	extractorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_extractor_failures_total",
			Help: "Extractor errors and panics, labeled by extractor kind.",
		},
		[]string{"extractor"},
	)
	rateLimitDelaySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the per-domain rate limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)
	headlessRendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_headless_renders_total",
			Help: "Headless Chrome renders, labeled by outcome.",
		},
		[]string{"outcome"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			jobsSubmittedTotal,
			jobsFinishedTotal,
			activeJobs,
			queueDepth,
			pagesDiscoveredTotal,
			extractorFailuresTotal,
			rateLimitDelaySeconds,
			headlessRendersTotal,
			httpRequestsTotal,
			httpRequestDurationSeconds,
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmitted counts an accepted job.
func ObserveSubmitted(priority string) {
	jobsSubmittedTotal.WithLabelValues(priority).Inc()
}

// ObserveFinished counts a job reaching a terminal status.
func ObserveFinished(status string) {
	jobsFinishedTotal.WithLabelValues(status).Inc()
}

// SetActiveJobs updates the active job gauge.
func SetActiveJobs(n int) {
	activeJobs.Set(float64(n))
}

// SetQueueDepth updates the queue gauge for a tier.
func SetQueueDepth(tier string, n int) {
	queueDepth.WithLabelValues(tier).Set(float64(n))
}

// AddPagesDiscovered counts pages gathered by discovery.
func AddPagesDiscovered(n int) {
	if n > 0 {
		pagesDiscoveredTotal.Add(float64(n))
	}
}

// ObserveExtractorFailure counts a failed extractor run.
func ObserveExtractorFailure(kind string) {
	extractorFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHeadlessRender counts a headless render by outcome ("ok" or "error").
func ObserveHeadlessRender(outcome string) {
	headlessRendersTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
