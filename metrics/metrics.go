// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to various parts of the bridge.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or going out of the system: datagrams, WS frames, connections.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsSent counts UDP datagrams successfully handed to the kernel.
	PacketsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jaus_ws_bridge_udp_packets_sent_total",
			Help: "Number of UDP datagrams sent.",
		},
	)

	// PacketsReceived counts UDP datagrams read off the wire, including
	// those that then fail to frame into a Message.
	PacketsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jaus_ws_bridge_udp_packets_received_total",
			Help: "Number of UDP datagrams received.",
		},
	)

	// SendErrorCount tracks transport-level send failures by the
	// classification classifySendErr assigns them.
	//
	// Example usage:
	//   metrics.SendErrorCount.With(prometheus.Labels{"kind": "benign"}).Inc()
	SendErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jaus_ws_bridge_udp_send_errors_total",
			Help: "The total number of UDP send errors, by classification.",
		}, []string{"kind"})

	// QueueFullCount counts Send calls rejected because the relevant
	// priority queue was at capacity.
	QueueFullCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jaus_ws_bridge_send_queue_full_total",
			Help: "Number of Send calls rejected because the send queue was full.",
		},
	)

	// CodecErrorCount tracks codec encode/decode failures by error kind
	// (missing_required_field, payload_encode_failed, unknown_message_id,
	// schema_mismatch, other).
	//
	// Example usage:
	//   metrics.CodecErrorCount.With(prometheus.Labels{"kind": "schema_mismatch"}).Inc()
	CodecErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jaus_ws_bridge_codec_errors_total",
			Help: "The total number of codec encode/decode errors, by kind.",
		}, []string{"kind"})

	// WSClientsConnected tracks the number of currently connected WS
	// clients.
	WSClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jaus_ws_bridge_ws_clients_connected",
			Help: "Number of WS clients currently connected.",
		},
	)

	// WSFramesIn counts WS frames received from clients.
	WSFramesIn = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jaus_ws_bridge_ws_frames_in_total",
			Help: "Number of WS frames received from clients.",
		},
	)

	// WSFramesOut counts WS frames broadcast to clients.
	WSFramesOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jaus_ws_bridge_ws_frames_out_total",
			Help: "Number of WS frames broadcast to clients.",
		},
	)

	// BridgeLatencyHistogram tracks the time from receiving a WS-ingress
	// frame to enqueueing its encoded Message on the transport, the
	// bridge's own contribution to round-trip latency (it excludes the UDP
	// send itself, time on the wire and whatever the remote peer takes to
	// reply).
	BridgeLatencyHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "jaus_ws_bridge_encode_send_latency_seconds",
			Help: "Latency between receiving a WS frame and enqueueing its encoded Message.",
			Buckets: []float64{
				0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
				0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
			},
		},
	)

	// JausAddressesConnected tracks the number of JAUS source addresses
	// currently tracked in the bridge's global address book.
	JausAddressesConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jaus_ws_bridge_jaus_addresses_connected",
			Help: "Number of JAUS addresses currently in the address book.",
		},
	)
)

// init() prints a log message to let the user know that the package has
// been loaded and the metrics registered. The metrics are auto-registered,
// which means they are registered as soon as this package is loaded, and
// the exact time this occurs (and whether this occurs at all in a given
// context) can be opaque.
func init() {
	log.Println("Prometheus metrics in jaus-ws-bridge.metrics are registered.")
}
