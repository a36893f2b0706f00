package ratelimit

import "github.com/prometheus/client_golang/prometheus"

var (
	// quotaCalls is the last observed count of generation calls today.
	quotaCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "generation_quota_calls_today",
			Help: "Generation calls consumed from today's quota.",
		},
	)

	// quotaLimit exposes the configured daily limit for ratio dashboards.
	quotaLimit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "generation_quota_daily_limit",
			Help: "Configured daily generation call limit.",
		},
	)
)

func init() {
	prometheus.MustRegister(quotaCalls, quotaLimit)
}
