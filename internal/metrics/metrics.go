// Package metrics exposes Prometheus collectors for the catalog service.
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
	refreshOutcomesTotal         *prometheus.CounterVec
	refreshDurationSeconds       *prometheus.HistogramVec
	catalogBackends              *prometheus.GaugeVec
	strategyFetchTotal           *prometheus.CounterVec
	strategyFetchDurationSeconds *prometheus.HistogramVec
	normalizeErrorsTotal         *prometheus.CounterVec
	pricingScrapesTotal          *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	jobsTotal                    *prometheus.CounterVec
	activeWorkers                prometheus.Gauge
	rateLimitDelaysSeconds       *prometheus.HistogramVec
	alertsTotal                  *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		refreshOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qcatalog_refresh_outcomes_total",
				Help: "Provider refreshes, labeled by pid and outcome.",
			},
			[]string{"pid", "outcome"},
		)

		refreshDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qcatalog_refresh_duration_seconds",
				Help:    "Histogram of provider refresh latencies.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"pid"},
		)

		catalogBackends = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qcatalog_backends",
				Help: "Backends currently linked to a provider.",
			},
			[]string{"pid"},
		)

		strategyFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qcatalog_strategy_fetch_total",
				Help: "Strategy fetches, labeled by fetch method and result.",
			},
			[]string{"method", "result"},
		)

		strategyFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qcatalog_strategy_fetch_duration_seconds",
				Help:    "Histogram of strategy fetch latencies, labeled by fetch method.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"method"},
		)

		normalizeErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qcatalog_normalize_errors_total",
				Help: "Raw records that failed normalization, labeled by provider name.",
			},
			[]string{"provider"},
		)

		pricingScrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qcatalog_pricing_scrapes_total",
				Help: "Pricing page scrapes, labeled by result.",
			},
			[]string{"result"},
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

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qcatalog_jobs_total",
				Help: "Total number of refresh jobs processed, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "qcatalog_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qcatalog_rate_limit_delays_seconds",
				Help:    "Histogram of outbound rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qcatalog_alerts_total",
				Help: "Alerts sent, labeled by notifier and result.",
			},
			[]string{"notifier", "result"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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
	return promhttp.Handler()
}

// ObserveRefresh records one provider refresh.
func ObserveRefresh(pid, outcome string, duration time.Duration) {
	refreshOutcomesTotal.WithLabelValues(pid, outcome).Inc()
	refreshDurationSeconds.WithLabelValues(pid).Observe(duration.Seconds())
}

// SetBackends records how many backends a provider links after a refresh.
func SetBackends(pid string, n int) {
	catalogBackends.WithLabelValues(pid).Set(float64(n))
}

// ObserveFetch records a strategy fetch. result is "ok", "degraded" or "skipped".
func ObserveFetch(method, result string, duration time.Duration) {
	strategyFetchTotal.WithLabelValues(method, result).Inc()
	strategyFetchDurationSeconds.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveNormalizeError counts a record the normalizer rejected.
func ObserveNormalizeError(provider string) {
	normalizeErrorsTotal.WithLabelValues(provider).Inc()
}

// ObservePricingScrape counts a pricing page scrape.
func ObservePricingScrape(result string) {
	pricingScrapesTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given kind and status.
func ObserveJob(kind, status string) {
	jobsTotal.WithLabelValues(kind, status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveAlert counts a notification attempt.
func ObserveAlert(notifier, result string) {
	alertsTotal.WithLabelValues(notifier, result).Inc()
}
