package threading

import "github.com/prometheus/client_golang/prometheus"

var (
	threadWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "thread_integrity_warnings_total",
			Help: "Supplied parent ids that did not exist and were replaced.",
		},
	)

	threadRepairs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "thread_repairs_total",
			Help: "Parent links written by thread repair.",
		},
	)
)

func init() {
	prometheus.MustRegister(threadWarnings, threadRepairs)
}
