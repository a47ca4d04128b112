package translate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusOK          = "ok"
	statusError       = "error"
	statusTimeout     = "timeout"
	statusUnavailable = "unavailable"
)

var (
	translationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyglot_translation_requests_total",
			Help: "Total number of translation requests by language pair and outcome",
		},
		[]string{"source", "target", "status"},
	)

	translationRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polyglot_translation_request_duration_seconds",
			Help:    "Duration of backend translation calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"source", "target"},
	)
)

func observe(p Pair, status string) {
	translationRequestsTotal.WithLabelValues(string(p.Source), string(p.Target), status).Inc()
}
