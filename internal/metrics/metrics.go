// Package metrics exposes Prometheus instrumentation for the proxy,
// grounded on the teacher's internal/api/middleware/metrics.go. Trimmed to
// the dimensions this proxy actually has: HTTP requests, upstream dispatch
// outcomes, token usage, and credential pool health.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiroproxy_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiroproxy_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	upstreamAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiroproxy_upstream_attempts_total",
			Help: "Total upstream dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	tokenUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiroproxy_token_usage_total",
			Help: "Total tokens used in translated requests.",
		},
		[]string{"model", "direction"},
	)

	credentialsAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiroproxy_credentials_available",
			Help: "Number of currently enabled credentials in the pool.",
		},
	)

	credentialsDisabledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiroproxy_credentials_disabled_total",
			Help: "Total credentials transitioned to disabled, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamAttemptsTotal,
		tokenUsageTotal,
		credentialsAvailable,
		credentialsDisabledTotal,
	)
}

// Middleware returns a gin.HandlerFunc recording per-request counters and
// latency histograms, keyed on a normalized route template rather than the
// raw path to avoid unbounded cardinality from path parameters.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) }
}

// RecordUpstreamAttempt increments the dispatch-outcome counter (e.g.
// "ok", "auth_invalid", "quota_exceeded", "rate_limited", "transient_5xx",
// "fatal_4xx", "exhausted").
func RecordUpstreamAttempt(outcome string) {
	upstreamAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordTokenUsage adds input/output token counts observed for a model.
func RecordTokenUsage(model string, inputTokens, outputTokens int) {
	if inputTokens > 0 {
		tokenUsageTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		tokenUsageTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// SetCredentialsAvailable sets the current count of enabled credentials.
func SetCredentialsAvailable(n int) {
	credentialsAvailable.Set(float64(n))
}

// RecordCredentialDisabled increments the disabled-credentials counter for
// the given reason.
func RecordCredentialDisabled(reason string) {
	credentialsDisabledTotal.WithLabelValues(reason).Inc()
}
