package certificate

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// renderDuration - time to draw and encode one certificate
	renderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certificate_render_duration_seconds",
			Help:    "Duration of certificate rendering and PNG encoding",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"result"},
	)

	// generatedTotal - certificates by result ("ok" or failure kind)
	generatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certificate_generated_total",
			Help: "Certificates generated by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(renderDuration)
	prometheus.MustRegister(generatedTotal)
}

func recordGenerate(result string, seconds float64) {
	renderDuration.WithLabelValues(result).Observe(seconds)
	generatedTotal.WithLabelValues(result).Inc()
}
