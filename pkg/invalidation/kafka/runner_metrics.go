package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	msgs  *prometheus.CounterVec
	apply *prometheus.CounterVec
	proc  *prometheus.HistogramVec
	lag   *prometheus.HistogramVec
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		msgs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataset_invalidation_messages_total",
				Help: "Invalidation messages by result (ok, error, invalid).",
			},
			[]string{"result"},
		),
		apply: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataset_invalidation_actions_total",
				Help: "Actions taken per message (purge, refresh, skip_version, skip_key).",
			},
			[]string{"action"},
		),
		proc: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dataset_invalidation_processing_seconds",
				Help:    "End-to-end processing time for one message.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"op"},
		),
		lag: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dataset_invalidation_lag_seconds",
				Help:    "Time from the event ts to the moment it was applied.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"op"},
		),
	}
	if r != nil {
		r.MustRegister(m.msgs, m.apply, m.proc, m.lag)
	}
	return m
}
