// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records session, content API and aggregation metrics.
type Collector struct {
	sessionStatus    *prometheus.CounterVec
	logins           *prometheus.CounterVec
	contentRequests  *prometheus.CounterVec
	contentLatency   *prometheus.HistogramVec
	aggregationFails *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnhub_session_transitions_total",
			Help: "Session status transitions by target status.",
		}, []string{"status"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnhub_login_attempts_total",
			Help: "Sign-in attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		contentRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnhub_content_requests_total",
			Help: "Remote content API requests by method, list and status code.",
		}, []string{"method", "list", "status_code"}),
		contentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "learnhub_content_request_duration_seconds",
			Help:    "Remote content API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		aggregationFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnhub_aggregation_failures_total",
			Help: "Aggregation operations that degraded to empty results.",
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.sessionStatus,
		c.logins,
		c.contentRequests,
		c.contentLatency,
		c.aggregationFails,
	)

	return c
}

// RecordSessionStatus counts a session transition into status.
func (c *Collector) RecordSessionStatus(status string) {
	c.sessionStatus.WithLabelValues(status).Inc()
}

// RecordLogin counts a sign-in attempt.
func (c *Collector) RecordLogin(provider, outcome string) {
	c.logins.WithLabelValues(provider, outcome).Inc()
}

// RecordContentRequest records one content API round trip. status is 0 for transport failures.
func (c *Collector) RecordContentRequest(method, list string, status int, duration time.Duration) {
	c.contentRequests.WithLabelValues(method, list, strconv.Itoa(status)).Inc()
	c.contentLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordAggregationFailure counts a degraded aggregation result.
func (c *Collector) RecordAggregationFailure(operation string) {
	c.aggregationFails.WithLabelValues(operation).Inc()
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
