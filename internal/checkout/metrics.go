package checkout

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Steps    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics registers the checkout collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	steps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_steps_total",
		Help: "Checkout saga steps by outcome.",
	}, []string{"step", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_duration_seconds",
		Help:    "End to end checkout latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	reg.MustRegister(steps, duration)
	return &Metrics{Steps: steps, Duration: duration}
}
