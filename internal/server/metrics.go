package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gaeval_evaluations_total",
		Help: "Candidates evaluated, by problem.",
	}, []string{"problem"})

	batchSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gaeval_evaluation_batch_seconds",
		Help:    "Wall time of one evaluation batch, by problem.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"problem"})

	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gaeval_sessions",
		Help: "Problems currently loaded.",
	})
)
