package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "botrelay"

// Label values.
const (
	unmatchedPath = "unmatched" // raw URLs would let scanners mint one series per probe

	callerOwner     = "owner"
	callerAnonymous = "anonymous"
)

var (
	httpReqs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route, status and caller kind.",
	}, []string{"method", "route", "status", "caller"})

	httpLat = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency. Chat routes wait on upstream models, hence the long tail.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40, 60, 120},
	}, []string{"method", "route"})

	httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "requests_inflight",
		Help:      "Requests currently being served.",
	})

	httpRespSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "Response body size.",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 8), // 256B..4MiB
	}, []string{"method", "route"})

	rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the token-bucket limiter, by bucket kind.",
	}, []string{"bucket"})

	idemReplays = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "idempotent_replays_total",
		Help:      "Chat requests answered from a stored reply.",
	})
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, rateLimited, idemReplays)
}

// Metrics records Prometheus series for every request. The route label is
// the registered Gin pattern so /bots/:id stays one series regardless of the
// id, and the caller label separates owner traffic from anonymous share
// traffic. Mount it after Authenticate-independent middleware; the caller
// kind is read once the chain has run.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedPath
		}
		caller := callerAnonymous
		if UserID(c) != "" {
			caller = callerOwner
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status()), caller).Inc()
		httpLat.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, route).Observe(float64(size))
		}
	}
}
