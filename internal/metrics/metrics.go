// Package metrics holds the Prometheus collectors for the ticketflow server.
// All collectors register with the default registry at init via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ticketflow"

// SocketsConnected tracks open realtime connections that completed the
// Socket.IO connect handshake.
var SocketsConnected = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sockets_connected",
		Help:      "Current number of connected realtime sockets.",
	},
)

// SocketsIdentified tracks principal-to-socket bindings.
var SocketsIdentified = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sockets_identified",
		Help:      "Current number of principals bound to a realtime socket.",
	},
)

// EventsEmittedTotal counts realtime events pushed to a socket.
// Label:
//   - event: notification, ticketUpdate, newComment
var EventsEmittedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_emitted_total",
		Help:      "Total number of realtime events written to sockets.",
	},
	[]string{"event"},
)

// DeliveryMissesTotal counts targeted events dropped because the recipient
// had no live binding.
var DeliveryMissesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_misses_total",
		Help:      "Total number of targeted events dropped for lack of a bound socket.",
	},
	[]string{"event"},
)

// EmitFailuresTotal counts socket writes that failed; the socket is closed.
var EmitFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emit_failures_total",
		Help:      "Total number of realtime event writes that failed.",
	},
	[]string{"event"},
)

// AuthAttemptsTotal counts login attempts.
// Label:
//   - result: "success" or "failure"
var AuthAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_attempts_total",
		Help:      "Total number of login attempts, labelled by result.",
	},
	[]string{"result"},
)
