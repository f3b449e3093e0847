package qlog

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quicsrv/quic/logging"
)

type nopWriteCloser struct {
	*bytes.Buffer
}

func (nopWriteCloser) Close() error { return nil }

func newTestTracer() (logging.ConnectionTracer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	t := NewConnectionTracer(nopWriteCloser{buf}, logging.ConnectionID{0xde, 0xad, 0xbe, 0xef})
	return t, buf
}

func TestQlogTraceHeader(t *testing.T) {
	_, buf := newTestTracer()
	out := buf.String()
	require.Contains(t, out, `"qlog_version":"0.3"`)
	require.Contains(t, out, `"ODCID":"deadbeef"`)
	require.Contains(t, out, `"type":"server"`)
}

func TestQlogRecordsEvents(t *testing.T) {
	tr, buf := newTestTracer()
	tr.StartedConnection(nil, nil, logging.ConnectionID{1}, logging.ConnectionID{2})
	tr.UpdatedPTOCount(3)
	tr.DroppedPacket(logging.PacketType1RTT, 42, logging.PacketDropPayloadDecryptError)
	tr.ClosedConnection(errors.New("test close"))

	out := buf.String()
	require.Contains(t, out, "transport:connection_started")
	require.Contains(t, out, "recovery:metrics_updated")
	require.Contains(t, out, `"pto_count":3`)
	require.Contains(t, out, "transport:packet_dropped")
	require.Contains(t, out, "payload_decrypt_error")
	require.Contains(t, out, "transport:connection_closed")

	// every event is a separate JSON text sequence record
	records := strings.Count(out, string(rune(recordSeparator)))
	require.Equal(t, 5, records)
}

func TestQlogEventTiming(t *testing.T) {
	tr, buf := newTestTracer()
	buf.Reset()
	tr.LossTimerExpired(logging.TimerTypePTO, logging.EncryptionHandshake)
	out := buf.String()
	require.Contains(t, out, `"timer_type":"pto"`)
	require.Contains(t, out, `"packet_number_space":"handshake"`)
	require.Contains(t, out, `"time":`)
}
