// Package metrics exposes Prometheus collectors for the automation service.
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
	pageLoadDurationSeconds    *prometheus.HistogramVec
	tasksTotal                 *prometheus.CounterVec
	challengesTotal            *prometheus.CounterVec
	alertsTotal                *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autorunner_pages_total",
				Help: "Total number of page visits, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		pageLoadDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autorunner_page_load_duration_seconds",
				Help:    "Histogram of page load durations, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autorunner_tasks_total",
				Help: "Total number of task runs ended, labeled by resulting status.",
			},
			[]string{"status"},
		)

		challengesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autorunner_challenges_total",
				Help: "Total number of verification challenges detected, labeled by type.",
			},
			[]string{"type"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autorunner_alerts_total",
				Help: "Total number of alerts fired, labeled by rule.",
			},
			[]string{"rule"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "autorunner_active_workers",
				Help: "Number of workers currently executing a task.",
			},
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
	return promhttp.Handler()
}

// ObservePageVisit records one page visit attempt and its load time.
func ObservePageVisit(site string, outcome string, loadTime time.Duration) {
	sanitized := SanitizeSite(site)
	pagesTotal.WithLabelValues(sanitized, outcome).Inc()
	if loadTime > 0 {
		pageLoadDurationSeconds.WithLabelValues(sanitized).Observe(loadTime.Seconds())
	}
}

// ObserveTask increments the task counter for the given final status.
func ObserveTask(status string) {
	tasksTotal.WithLabelValues(status).Inc()
}

// ObserveChallenge increments the challenge counter for the given type.
func ObserveChallenge(challengeType string) {
	challengesTotal.WithLabelValues(challengeType).Inc()
}

// ObserveAlert increments the alert counter for the given rule.
func ObserveAlert(rule string) {
	alertsTotal.WithLabelValues(rule).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
