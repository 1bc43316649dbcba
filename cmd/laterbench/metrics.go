package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	added    prometheus.Counter
	invoked  prometheus.Counter
	panicked prometheus.Counter
	lateness prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		added: f.NewCounter(prometheus.CounterOpts{
			Name: "later_callbacks_added_total",
			Help: "Number of callbacks added to the registry",
		}),
		invoked: f.NewCounter(prometheus.CounterOpts{
			Name: "later_callbacks_invoked_total",
			Help: "Number of callbacks invoked by the consumer",
		}),
		panicked: f.NewCounter(prometheus.CounterOpts{
			Name: "later_callbacks_panicked_total",
			Help: "Number of callbacks that panicked",
		}),
		lateness: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "later_callback_lateness_seconds",
			Help:    "Time between a callback's deadline and its invocation",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}
}
