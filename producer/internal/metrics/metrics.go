package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submission metrics
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landregistry_producer_submissions_total",
			Help: "Total number of registration submissions by result",
		},
		[]string{"status"},
	)

	AttachmentBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "landregistry_producer_attachment_bytes_total",
			Help: "Total bytes of accepted attachments",
		},
	)

	// Broker metrics
	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "landregistry_producer_publish_duration_seconds",
			Help:    "Duration of queue publishes including the broker ack",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Submission result labels.
const (
	StatusAccepted    = "accepted"
	StatusInvalid     = "invalid"
	StatusUnavailable = "unavailable"
	StatusTooLarge    = "too_large"
	StatusError       = "error"
)
