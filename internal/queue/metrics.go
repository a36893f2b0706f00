package queue

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for queue_jobs_total.
const (
	outcomeCompleted = "completed"
	outcomeRetried   = "retried"
	outcomeDeferred  = "deferred"
	outcomeFailed    = "failed"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_total",
			Help: "Processed job attempts by queue and outcome.",
		},
		[]string{"queue", "outcome"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_job_duration_seconds",
			Help:    "Handler duration per job attempt.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	jobsPruned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_pruned_total",
			Help: "Finished jobs removed by retention.",
		},
		[]string{"queue"},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal, jobDuration, jobsPruned)
}
