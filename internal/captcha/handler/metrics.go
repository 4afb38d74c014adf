package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	captchaRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captcha_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	captchaRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "captcha_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	captchaCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "captcha_created_total",
		Help: "Total captcha challenges issued.",
	})

	captchaVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captcha_verifications_total",
		Help: "Total verification attempts by outcome.",
	}, []string{"outcome"})

	captchaSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "captcha_swept_total",
		Help: "Total expired challenges purged by sweeps.",
	})

	captchaOrphansRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "captcha_orphans_removed_total",
		Help: "Total orphaned captcha images removed by reconciliation.",
	})

	dependencyChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captcha_dependency_checks_total",
		Help: "Total dependency health checks by dependency and result.",
	}, []string{"dependency", "result"})
)

// RecordDependencyCheck counts one health check. It matches
// health.MetricsRecordFunc.
func RecordDependencyCheck(dependency string, success bool) {
	result := "ok"
	if !success {
		result = "fail"
	}
	dependencyChecksTotal.WithLabelValues(dependency, result).Inc()
}

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		captchaRequestsTotal.WithLabelValues(method, path, status).Inc()
		captchaRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// PrometheusRecorder forwards service lifecycle events to Prometheus.
// It satisfies service.Recorder.
type PrometheusRecorder struct{}

// ChallengeCreated implements service.Recorder.
func (PrometheusRecorder) ChallengeCreated() { captchaCreatedTotal.Inc() }

// ChallengeVerified implements service.Recorder.
func (PrometheusRecorder) ChallengeVerified(outcome string) {
	captchaVerificationsTotal.WithLabelValues(outcome).Inc()
}

// ChallengesSwept implements service.Recorder.
func (PrometheusRecorder) ChallengesSwept(n int64) { captchaSweptTotal.Add(float64(n)) }

// OrphansRemoved implements service.Recorder.
func (PrometheusRecorder) OrphansRemoved(n int) { captchaOrphansRemovedTotal.Add(float64(n)) }
