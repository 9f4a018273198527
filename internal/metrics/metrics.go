// Package metrics exposes Prometheus collectors for the fetch service.
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
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	outboundRequestsTotal          *prometheus.CounterVec
	outboundRequestDurationSeconds *prometheus.HistogramVec
	fetchJobsTotal                 *prometheus.CounterVec
	fetchReposTotal                *prometheus.CounterVec
	fetchActiveWorkers             prometheus.Gauge
	fetchRateLimitDelaySeconds     *prometheus.HistogramVec
	fetchCredentialBansTotal       *prometheus.CounterVec
	fetchJobLogLinesTotal          *prometheus.CounterVec
	fetchJobLogDroppedTotal        prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metacrawler_http_requests_total",
				Help: "Total number of API requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metacrawler_http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		outboundRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metacrawler_outbound_requests_total",
				Help: "Total number of platform API calls, labeled by host and status.",
			},
			[]string{"host", "status"},
		)

		outboundRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metacrawler_outbound_request_duration_seconds",
				Help:    "Histogram of platform API call latencies, labeled by host.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		fetchJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metacrawler_jobs_total",
				Help: "Total number of jobs reaching a terminal state, labeled by state.",
			},
			[]string{"state"},
		)

		fetchReposTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metacrawler_repos_fetched_total",
				Help: "Total number of repository records fetched, labeled by platform.",
			},
			[]string{"platform"},
		)

		fetchActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "metacrawler_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		fetchRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metacrawler_rate_limit_delay_seconds",
				Help:    "Histogram of pacing and rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"host"},
		)

		fetchCredentialBansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metacrawler_credential_bans_total",
				Help: "Total number of credentials banned, labeled by platform.",
			},
			[]string{"platform"},
		)

		fetchJobLogLinesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metacrawler_job_log_lines_total",
				Help: "Total number of job log lines recorded, labeled by level.",
			},
			[]string{"level"},
		)

		fetchJobLogDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "metacrawler_job_log_dropped_total",
				Help: "Total number of job log events dropped under backpressure.",
			},
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

// ObserveHTTPRequest increments the inbound API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveOutboundRequest records a platform API call.
func ObserveOutboundRequest(rawURL string, code int, duration time.Duration) {
	if outboundRequestsTotal == nil {
		return
	}
	host := SanitizeHost(rawURL)
	outboundRequestsTotal.WithLabelValues(host, strconv.Itoa(code)).Inc()
	outboundRequestDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveJob increments the terminal-state job counter.
func ObserveJob(state string) {
	if fetchJobsTotal == nil {
		return
	}
	fetchJobsTotal.WithLabelValues(state).Inc()
}

// ObserveReposFetched adds to the fetched repository counter.
func ObserveReposFetched(platform string, count int) {
	if fetchReposTotal == nil || count <= 0 {
		return
	}
	fetchReposTotal.WithLabelValues(platform).Add(float64(count))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if fetchActiveWorkers == nil {
		return
	}
	fetchActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if fetchActiveWorkers == nil {
		return
	}
	fetchActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(rawURL string, duration time.Duration) {
	if fetchRateLimitDelaySeconds == nil {
		return
	}
	fetchRateLimitDelaySeconds.WithLabelValues(SanitizeHost(rawURL)).Observe(duration.Seconds())
}

// ObserveCredentialBan counts a banned credential.
func ObserveCredentialBan(platform string) {
	if fetchCredentialBansTotal == nil {
		return
	}
	fetchCredentialBansTotal.WithLabelValues(platform).Inc()
}

// ObserveJobLogLine counts a recorded job log line.
func ObserveJobLogLine(level string) {
	if fetchJobLogLinesTotal == nil {
		return
	}
	fetchJobLogLinesTotal.WithLabelValues(level).Inc()
}

// ObserveJobLogDropped counts a job log event lost to backpressure.
func ObserveJobLogDropped() {
	if fetchJobLogDroppedTotal == nil {
		return
	}
	fetchJobLogDroppedTotal.Inc()
}
