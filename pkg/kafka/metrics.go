package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Publish outcomes recorded on eventsPublished.
const (
	resultOK    = "ok"
	resultError = "error"
)

var (
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_producer_events_total",
			Help: "Events handed to Kafka, by topic and result",
		},
		[]string{"topic", "result"},
	)

	publishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_producer_publish_duration_seconds",
			Help:    "Time spent writing one event to Kafka",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"topic"},
	)
)

func observePublish(topic string, seconds float64, err error) {
	publishDuration.WithLabelValues(topic).Observe(seconds)
	result := resultOK
	if err != nil {
		result = resultError
	}
	eventsPublished.WithLabelValues(topic, result).Inc()
}
