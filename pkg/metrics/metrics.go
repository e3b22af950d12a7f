// Package metrics provides Prometheus collectors for the push server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpenConnections tracks the current number of upgraded connections
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logpush_open_connections",
		Help: "Current number of open WebSocket connections",
	})

	// ConnectionsOpened counts successful upgrades
	ConnectionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logpush_connections_opened_total",
		Help: "Total number of WebSocket connections opened",
	})

	// HandshakeFailures counts rejected or failed upgrade attempts by reason
	HandshakeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logpush_handshake_failures_total",
		Help: "Total number of rejected or failed upgrade attempts",
	}, []string{"reason"})

	// MessagesReceived counts complete messages read from peers
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logpush_messages_received_total",
		Help: "Total number of messages received from peers",
	})

	// MessagesSent counts messages written to the wire
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logpush_messages_sent_total",
		Help: "Total number of messages written to peers",
	})

	// MessagesDropped counts payloads that never reached the wire
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logpush_messages_dropped_total",
		Help: "Total number of outbound payloads dropped",
	}, []string{"reason"})

	// SubscriberPanics counts panics recovered from event subscribers
	SubscriberPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logpush_subscriber_panics_total",
		Help: "Total number of panics recovered from event subscribers",
	})
)

// Drop reasons.
const (
	DropUnknownConnection = "unknown_connection"
	DropConnectionClosed  = "connection_closed"
)
