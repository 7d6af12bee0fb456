// Package metrics exposes Prometheus collectors for the shelfscan service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal                 *prometheus.CounterVec
	productsEmittedTotal       *prometheus.CounterVec
	duplicatesTotal            *prometheus.CounterVec
	detailFetchesTotal         *prometheus.CounterVec
	terminationsTotal          *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	robotsFallbackTotal        prometheus.Counter
	jobsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfscan_pages_total",
				Help: "Listing pages processed, labeled by retailer and outcome.",
			},
			[]string{"retailer", "outcome"},
		)

		productsEmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfscan_products_emitted_total",
				Help: "Product records emitted, labeled by retailer.",
			},
			[]string{"retailer"},
		)

		duplicatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfscan_duplicates_total",
				Help: "Product nodes whose identity was already reserved or seen.",
			},
			[]string{"retailer"},
		)

		detailFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfscan_detail_fetches_total",
				Help: "Deferred detail page fetches, labeled by retailer and outcome.",
			},
			[]string{"retailer", "outcome"},
		)

		terminationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfscan_listing_terminations_total",
				Help: "Listings finished, labeled by termination reason.",
			},
			[]string{"reason"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfscan_fetch_retries_total",
				Help: "Fetch retries, labeled by error type.",
			},
			[]string{"error_type"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shelfscan_fetch_duration_seconds",
				Help:    "Document source latency, labeled by engine.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"engine"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "shelfscan_robots_fallback_total",
				Help: "robots.txt probes that fell back to allow-all after transient failures.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfscan_jobs_total",
				Help: "Crawl jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "shelfscan_active_workers",
				Help: "Number of workers currently running a job.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shelfscan_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage counts one listing page outcome (fetched, skipped, empty,
// rehydrated).
func ObservePage(retailer, outcome string) {
	Init()
	pagesTotal.WithLabelValues(retailer, outcome).Inc()
}

// ObserveEmitted counts emitted records.
func ObserveEmitted(retailer string, n int) {
	Init()
	if n > 0 {
		productsEmittedTotal.WithLabelValues(retailer).Add(float64(n))
	}
}

// ObserveDuplicates counts nodes skipped as already known.
func ObserveDuplicates(retailer string, n int) {
	Init()
	if n > 0 {
		duplicatesTotal.WithLabelValues(retailer).Add(float64(n))
	}
}

// ObserveDetailFetch counts one detail fetch outcome.
func ObserveDetailFetch(retailer, outcome string) {
	Init()
	detailFetchesTotal.WithLabelValues(retailer, outcome).Inc()
}

// ObserveTermination counts a finished listing.
func ObserveTermination(reason string) {
	Init()
	if reason == "" {
		reason = "unknown"
	}
	terminationsTotal.WithLabelValues(reason).Inc()
}

// ObserveRetry counts a fetch retry.
func ObserveRetry(errorType string) {
	Init()
	fetchRetriesTotal.WithLabelValues(errorType).Inc()
}

// ObserveFetch records a document source latency.
func ObserveFetch(engine string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(engine).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt allow-all fallback.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
