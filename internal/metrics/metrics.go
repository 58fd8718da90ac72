// Package metrics provides Prometheus instrumentation for the Courier
// direct-messaging services. It exposes gauges for connection and room
// counts, counters for message throughput, and histograms for latency
// tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "courier_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// RoomsActive tracks the current number of delivery rooms with at least
	// one joined connection.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "courier_rooms_active",
		Help: "Current number of delivery rooms with joined connections",
	})

	// MessagesTotal counts message operations, labeled by outcome:
	// "sent", "rejected", or "failed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_messages_total",
		Help: "Total number of send operations processed",
	}, []string{"outcome"}) // outcome = "sent", "rejected", "failed"

	// MessagesDelivered counts individual live deliveries to connections.
	MessagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "courier_messages_delivered_total",
		Help: "Total number of messages pushed to live connections",
	})

	// SendLatency records end-to-end send handling latency in seconds.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "courier_send_latency_seconds",
		Help:    "Send request handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RoomsActive,
		MessagesTotal,
		MessagesDelivered,
		SendLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
