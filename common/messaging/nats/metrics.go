package nats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/helm-app/landregistry/common/messaging"
)

var (
	connectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "landregistry_broker_connection_state",
		Help: "Broker connection state (0=connecting, 1=connected, 2=disconnected, 3=reconnecting, 4=fatal, 5=closed)",
	})

	reconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "landregistry_broker_reconnects_total",
		Help: "Reconnect sequences by result",
	}, []string{"result"})

	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "landregistry_broker_published_total",
		Help: "Publishes to the durable queue by result",
	}, []string{"queue", "result"})

	settledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "landregistry_broker_settled_total",
		Help: "Deliveries settled with the broker by outcome",
	}, []string{"queue", "outcome"})
)

func recordState(s messaging.ConnState) {
	connectionState.Set(float64(s))
}
