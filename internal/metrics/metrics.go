// Package metrics exposes Prometheus instrumentation for the relay
// session and reconciliation engine. Metrics register against the default
// registry and are served by the API under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "paceline"

var (
	// PacketsReceived counts decoded inbound packets by type.
	PacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_received_total",
		Help:      "Inbound packets decoded, by packet type",
	}, []string{"type"})

	// PacketsSent counts outbound packets by type.
	PacketsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_sent_total",
		Help:      "Outbound packets written to the relay, by packet type",
	}, []string{"type"})

	// FramesDecoded counts payloads extracted from the byte stream,
	// including ones that later fail packet decoding.
	FramesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_decoded_total",
		Help:      "Framed payloads extracted from the relay byte stream",
	})

	// DecodeErrors counts payloads dropped because they could not be
	// decoded into a packet.
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_errors_total",
		Help:      "Framed payloads dropped due to decode errors",
	})

	// ResetsIssued counts corrective resets ordered by the engine.
	ResetsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resets_issued_total",
		Help:      "Corrective RESET packets issued by the reconciliation engine",
	})

	// Participants tracks the current registry size.
	Participants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "participants",
		Help:      "Participants currently tracked in the registry",
	})

	// SessionOpen is 1 while the relay session is OPEN, 0 otherwise.
	SessionOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_open",
		Help:      "Whether the relay session is currently open",
	})
)
