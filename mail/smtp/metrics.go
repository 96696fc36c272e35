package smtp

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// sendDuration - SMTP session duration per email
	sendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mail_smtp_send_duration_seconds",
			Help:    "Duration of SMTP sessions, one per email",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	// sendTotal - emails by result ("ok" or the failed stage)
	sendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_smtp_sent_total",
			Help: "Emails handed to the SMTP relay by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(sendDuration)
	prometheus.MustRegister(sendTotal)
}

func recordSend(result string, seconds float64) {
	sendDuration.WithLabelValues(result).Observe(seconds)
	sendTotal.WithLabelValues(result).Inc()
}
