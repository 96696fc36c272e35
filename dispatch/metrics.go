package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// outcomesTotal - recipients by final status
	outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_outcomes_total",
			Help: "Dispatched recipients by final status",
		},
		[]string{"status"},
	)

	// taskDuration - generate + deliver time per recipient, pacing included
	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_task_duration_seconds",
			Help:    "Duration of one recipient task",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// inFlight - tasks currently running
	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_tasks_in_flight",
			Help: "Recipient tasks currently running",
		},
	)
)

func init() {
	prometheus.MustRegister(outcomesTotal)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(inFlight)
}

func recordOutcome(o Outcome) {
	outcomesTotal.WithLabelValues(o.Status.String()).Inc()
	taskDuration.WithLabelValues(o.Status.String()).Observe(o.Duration.Seconds())
}
