package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections tracks the number of live WebSocket connections on this instance
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_connections",
			Help: "Number of live WebSocket connections",
		},
	)

	// OnlineUsers tracks the size of the bus-synchronized presence registry
	OnlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_online_users",
			Help: "Number of users in the presence registry",
		},
	)

	// EventsDispatched counts inbound client events by event name and outcome
	EventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_events_dispatched_total",
			Help: "Inbound client events dispatched by the gateway",
		},
		[]string{"event", "status"},
	)

	// BusPublishes counts cross-instance bus publishes
	BusPublishes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_bus_publishes_total",
			Help: "Events published on the cross-instance bus",
		},
	)

	// BusPublishFailures counts bus publishes that exhausted their retries
	BusPublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_bus_publish_failures_total",
			Help: "Bus publishes dropped after retries were exhausted",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ActiveConnections,
		OnlineUsers,
		EventsDispatched,
		BusPublishes,
		BusPublishFailures,
	)
}

// Handler exposes the prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
