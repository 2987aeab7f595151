package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_store_mutations_total",
			Help: "Total number of committed cart mutations",
		},
		[]string{"operation"},
	)

	persistFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_store_persist_failures_total",
			Help: "Total number of cart mutations rolled back because the snapshot could not be written",
		},
		[]string{"operation"},
	)

	persistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cart_store_persist_duration_seconds",
			Help:    "Duration of cart snapshot writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
