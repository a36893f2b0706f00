package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const unmatchedRoute = "unmatched"

// Route labels come from c.FullPath so conversation and job ids never become
// label values.
var (
	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status class.",
		},
		[]string{"method", "route", "code"},
	)

	apiLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			// Synchronous sends wait on the generation endpoint.
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"method", "route"},
	)

	apiInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chat",
			Subsystem: "http",
			Name:      "requests_inflight",
			Help:      "HTTP requests currently being served.",
		},
	)

	apiReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "http",
			Name:      "idempotent_replays_total",
			Help:      "Requests answered from a stored Idempotency-Key result.",
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(apiRequests, apiLatency, apiInflight, apiReplays)
}

// Metrics records per-route request counts, latency and in-flight requests,
// plus how many requests were idempotent replays.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		apiInflight.Inc()
		defer apiInflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		apiRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		apiLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if IsReplay(c) {
			apiReplays.WithLabelValues(route).Inc()
		}
	}
}
