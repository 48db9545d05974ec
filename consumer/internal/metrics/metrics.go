package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Delivery metrics
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landregistry_consumer_deliveries_total",
			Help: "Total number of deliveries handled, by outcome",
		},
		[]string{"outcome"},
	)

	DuplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landregistry_consumer_duplicates_total",
			Help: "Total number of redelivered submissions that were already stored",
		},
		[]string{"source"},
	)

	// Storage metrics
	StorageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "landregistry_consumer_storage_duration_seconds",
			Help:    "Duration of registration writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landregistry_consumer_storage_errors_total",
			Help: "Total number of failed registration writes",
		},
		[]string{"kind"},
	)

	// Dead letter metrics
	DLQTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landregistry_consumer_dlq_total",
			Help: "Total number of submissions written to the dead letter stream",
		},
		[]string{"reason"},
	)
)
