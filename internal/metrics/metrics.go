// Package metrics provides Prometheus metrics for the deployment engine.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pushbot"

const (
	labelService  = "service"
	labelStatus   = "status"
	labelEndpoint = "endpoint"
	labelMethod   = "method"
)

var (
	// DeploymentsTotal counts every deployment that reached a terminal status.
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deployments",
			Name:      "total",
			Help:      "Total number of deployments that reached a terminal status",
		},
		[]string{labelService, labelStatus},
	)

	// DeploymentDuration tracks deployment wall-clock runtime in seconds.
	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "deployments",
			Name:      "duration_seconds",
			Help:      "Duration of deployments in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{labelService},
	)

	// QueueDepth tracks the number of queued deployments per service.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of queued deployments for a service",
		},
		[]string{labelService},
	)

	// ActiveRunners tracks the number of live Runner processes.
	ActiveRunners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "active",
			Help:      "Number of currently running deployment processes",
		},
	)

	// HTTPRequestsTotal counts HTTP requests by endpoint, method, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{labelEndpoint, labelMethod, labelStatus},
	)

	// HTTPRequestDuration tracks HTTP request latency in seconds.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{labelEndpoint, labelMethod},
	)

	allMetrics = []prometheus.Collector{
		DeploymentsTotal,
		DeploymentDuration,
		QueueDepth,
		ActiveRunners,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	}

	registerOnce sync.Once
)

// Register registers every metric with the default registry. Safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		for _, m := range allMetrics {
			prometheus.MustRegister(m)
		}
	})
}

// Handler returns the gin handler serving /metrics.
func Handler() gin.HandlerFunc {
	Register()
	return gin.WrapH(promhttp.Handler())
}

// HTTPMiddleware records request count and latency for every route.
func HTTPMiddleware() gin.HandlerFunc {
	Register()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
		HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(time.Since(start).Seconds())
	}
}
