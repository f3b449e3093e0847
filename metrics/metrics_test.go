package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/logging"
)

func TestMetricsRegister(t *testing.T) {
	// registering on a fresh registry must not conflict
	Register(prometheus.NewRegistry())
}

func TestMetricsTracerCounts(t *testing.T) {
	tr := NewTracer()
	tr.StartedConnection(nil, nil, logging.ConnectionID{1}, logging.ConnectionID{2})
	tr.SentPacket(logging.PacketTypeInitial, 0, 1200, nil, nil)
	tr.ReceivedPacket(logging.PacketType1RTT, 1, 100, nil)
	tr.LostPacket(logging.Encryption1RTT, 0, logging.PacketLossTimeThreshold)
	tr.DroppedPacket(logging.PacketType1RTT, 30, logging.PacketDropDuplicate)
	tr.ClosedConnection(&qerr.IdleTimeoutError{})
	// the null tracer base absorbs everything else
	tr.UpdatedPTOCount(1)
	tr.LossTimerCanceled()
}

func TestCloseReasonMapping(t *testing.T) {
	require.Equal(t, "idle_timeout", closeReason(&qerr.IdleTimeoutError{}))
	require.Equal(t, "handshake_timeout", closeReason(&qerr.HandshakeTimeoutError{}))
	require.Equal(t, "stateless_reset", closeReason(&qerr.StatelessResetError{}))
	require.Equal(t, "application_error", closeReason(&qerr.ApplicationError{ErrorCode: 7}))
	require.Equal(t, "transport_error", closeReason(&qerr.TransportError{ErrorCode: qerr.FlowControlError}))
	require.Equal(t, "transport_error", closeReason(errors.New("other")))
}
