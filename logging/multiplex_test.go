package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingTracer struct {
	NullConnectionTracer
	closedErrs  []error
	sentPackets int
}

func (t *recordingTracer) ClosedConnection(e error) { t.closedErrs = append(t.closedErrs, e) }
func (t *recordingTracer) SentPacket(PacketType, PacketNumber, ByteCount, *AckFrame, []Frame) {
	t.sentPackets++
}

func TestMultiplexedTracerFansOut(t *testing.T) {
	t1 := &recordingTracer{}
	t2 := &recordingTracer{}
	tr := NewMultiplexedConnectionTracer(t1, t2)

	tr.SentPacket(PacketType1RTT, 1, 1200, nil, nil)
	testErr := errors.New("test")
	tr.ClosedConnection(testErr)

	require.Equal(t, 1, t1.sentPackets)
	require.Equal(t, 1, t2.sentPackets)
	require.Equal(t, []error{testErr}, t1.closedErrs)
	require.Equal(t, []error{testErr}, t2.closedErrs)
}

func TestMultiplexedTracerSingle(t *testing.T) {
	t1 := &recordingTracer{}
	tr := NewMultiplexedConnectionTracer(t1)
	// a single tracer is returned unwrapped
	require.Equal(t, ConnectionTracer(t1), tr)
}
