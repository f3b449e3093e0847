// Package metrics exposes connection statistics as Prometheus metrics.
// The tracer plugs into the logging.ConnectionTracer fan-out, so it can be
// combined with qlog export.
package metrics

import (
	"errors"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/logging"
)

const metricNamespace = "quicsrv"

var (
	connsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "connections_started_total",
		Help:      "Connections started",
	})
	connsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "connections_closed_total",
		Help:      "Connections closed",
	}, []string{"reason"})
	packetsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "packets_sent_total",
		Help:      "Packets sent, by packet type",
	}, []string{"type"})
	packetsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "packets_received_total",
		Help:      "Packets received, by packet type",
	}, []string{"type"})
	packetsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "packets_dropped_total",
		Help:      "Packets dropped, by drop reason",
	}, []string{"reason"})
	packetsLost = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "packets_lost_total",
		Help:      "Packets declared lost by loss detection",
	})
	smoothedRTT = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricNamespace,
		Name:      "smoothed_rtt_seconds",
		Help:      "Smoothed RTT samples",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

// Register registers all metrics with a Prometheus registerer.
// Call it once at startup, e.g. with prometheus.DefaultRegisterer.
func Register(r prometheus.Registerer) {
	r.MustRegister(
		connsStarted,
		connsClosed,
		packetsSent,
		packetsReceived,
		packetsDropped,
		packetsLost,
		smoothedRTT,
	)
}

// NewTracer creates a tracer feeding the Prometheus metrics.
func NewTracer() logging.ConnectionTracer {
	return &tracer{}
}

type tracer struct {
	logging.NullConnectionTracer
}

var _ logging.ConnectionTracer = &tracer{}

func (t *tracer) StartedConnection(_, _ net.Addr, _, _ logging.ConnectionID) {
	connsStarted.Inc()
}

func (t *tracer) ClosedConnection(err error) {
	connsClosed.WithLabelValues(closeReason(err)).Inc()
}

func (t *tracer) SentPacket(typ logging.PacketType, _ logging.PacketNumber, _ logging.ByteCount, _ *logging.AckFrame, _ []logging.Frame) {
	packetsSent.WithLabelValues(packetType(typ)).Inc()
}

func (t *tracer) ReceivedPacket(typ logging.PacketType, _ logging.PacketNumber, _ logging.ByteCount, _ []logging.Frame) {
	packetsReceived.WithLabelValues(packetType(typ)).Inc()
}

func (t *tracer) DroppedPacket(_ logging.PacketType, _ logging.ByteCount, reason logging.PacketDropReason) {
	packetsDropped.WithLabelValues(dropReason(reason)).Inc()
}

func (t *tracer) LostPacket(logging.EncryptionLevel, logging.PacketNumber, logging.PacketLossReason) {
	packetsLost.Inc()
}

func (t *tracer) UpdatedMetrics(rttStats *logging.RTTStats, _, _ logging.ByteCount, _ int) {
	if rtt := rttStats.SmoothedRTT(); rtt > 0 {
		smoothedRTT.Observe(float64(rtt) / float64(time.Second))
	}
}

func packetType(t logging.PacketType) string {
	switch t {
	case logging.PacketTypeInitial:
		return "initial"
	case logging.PacketTypeHandshake:
		return "handshake"
	case logging.PacketTypeRetry:
		return "retry"
	case logging.PacketType0RTT:
		return "0rtt"
	case logging.PacketType1RTT:
		return "1rtt"
	case logging.PacketTypeVersionNegotiation:
		return "version_negotiation"
	case logging.PacketTypeStatelessReset:
		return "stateless_reset"
	default:
		return "unknown"
	}
}

func dropReason(r logging.PacketDropReason) string {
	switch r {
	case logging.PacketDropKeyUnavailable:
		return "key_unavailable"
	case logging.PacketDropUnknownConnectionID:
		return "unknown_connection_id"
	case logging.PacketDropHeaderParseError:
		return "header_parse_error"
	case logging.PacketDropPayloadDecryptError:
		return "payload_decrypt_error"
	case logging.PacketDropProtocolViolation:
		return "protocol_violation"
	case logging.PacketDropDuplicate:
		return "duplicate"
	case logging.PacketDropUnexpectedPacket:
		return "unexpected_packet"
	default:
		return "other"
	}
}

func closeReason(err error) string {
	var (
		idleTimeout      *qerr.IdleTimeoutError
		handshakeTimeout *qerr.HandshakeTimeoutError
		statelessReset   *qerr.StatelessResetError
		applicationError *qerr.ApplicationError
	)
	switch {
	case errors.As(err, &idleTimeout):
		return "idle_timeout"
	case errors.As(err, &handshakeTimeout):
		return "handshake_timeout"
	case errors.As(err, &statelessReset):
		return "stateless_reset"
	case errors.As(err, &applicationError):
		return "application_error"
	default:
		return "transport_error"
	}
}
