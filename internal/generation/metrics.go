package generation

import "github.com/prometheus/client_golang/prometheus"

// outcome label values for genRequests.
const (
	outcomeSuccess     = "success"
	outcomeFallback    = "fallback"
	outcomeRateLimited = "rate_limited"
	outcomeError       = "error"
)

var (
	// genRequests counts generation attempts by outcome.
	genRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_requests_total",
			Help: "Generation requests by outcome.",
		},
		[]string{"outcome"},
	)

	// genDuration records endpoint latency, successful or not.
	genDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "generation_duration_seconds",
			Help:    "Latency of generation endpoint calls in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
	)

	// genTokens sums tokens reported by the endpoint.
	genTokens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_tokens_total",
			Help: "Tokens consumed by successful generations.",
		},
	)
)

func init() {
	prometheus.MustRegister(genRequests, genDuration, genTokens)
}
