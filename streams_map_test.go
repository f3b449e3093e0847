package quic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quicsrv/quic/internal/flowcontrol"
	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/utils"
	"github.com/quicsrv/quic/internal/wire"
)

func newTestStreamsMap(t *testing.T) (*streamsMap, *mockStreamSender) {
	t.Helper()
	sender := &mockStreamSender{}
	connFC := flowcontrol.NewConnectionFlowController(1<<20, 1<<20, utils.DefaultLogger)
	newFC := func(id protocol.StreamID) flowcontrol.StreamFlowController {
		return flowcontrol.NewStreamFlowController(id, connFC, protocol.DefaultStreamReceiveWindow, 1<<20, utils.DefaultLogger)
	}
	m := newStreamsMap(sender, newFC, protocol.DefaultStreamReceiveWindow, 100, 100, protocol.Version1)
	m.UpdateLimits(&wire.TransportParameters{MaxBidiStreamNum: 3, MaxUniStreamNum: 1})
	return m, sender
}

func TestStreamsMapOpensGaps(t *testing.T) {
	m, _ := newTestStreamsMap(t)
	// receiving stream 8 opens streams 0 and 4 first
	str, err := m.getOrOpenReceiveStream(8)
	require.NoError(t, err)
	require.NotNil(t, str)
	require.Equal(t, protocol.StreamID(8), str.StreamID())

	first := m.AcceptStream()
	require.NotNil(t, first)
	require.Equal(t, protocol.StreamID(0), first.StreamID())
	second := m.AcceptStream()
	require.NotNil(t, second)
	require.Equal(t, protocol.StreamID(4), second.StreamID())
	third := m.AcceptStream()
	require.NotNil(t, third)
	require.Equal(t, protocol.StreamID(8), third.StreamID())
	require.Nil(t, m.AcceptStream())
}

func TestStreamsMapRejectsServerInitiatedIDs(t *testing.T) {
	m, _ := newTestStreamsMap(t)
	// stream 1 is server-initiated; the peer cannot open it
	_, err := m.getOrOpenReceiveStream(1)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.StreamStateError, transportErr.ErrorCode)
}

func TestStreamsMapEnforcesStreamLimit(t *testing.T) {
	sender := &mockStreamSender{}
	connFC := flowcontrol.NewConnectionFlowController(1<<20, 1<<20, utils.DefaultLogger)
	newFC := func(id protocol.StreamID) flowcontrol.StreamFlowController {
		return flowcontrol.NewStreamFlowController(id, connFC, protocol.DefaultStreamReceiveWindow, 1<<20, utils.DefaultLogger)
	}
	m := newStreamsMap(sender, newFC, protocol.DefaultStreamReceiveWindow, 2, 1, protocol.Version1)

	_, err := m.getOrOpenReceiveStream(4) // stream number 2, at the limit
	require.NoError(t, err)
	_, err = m.getOrOpenReceiveStream(8) // stream number 3, beyond it
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.StreamLimitError, transportErr.ErrorCode)
}

func TestStreamsMapReapedStreamsAreGone(t *testing.T) {
	m, _ := newTestStreamsMap(t)
	str, err := m.getOrOpenReceiveStream(0)
	require.NoError(t, err)
	require.NotNil(t, str)
	require.NoError(t, m.DeleteStream(0))
	// frames for the reaped stream are a no-op
	str, err = m.getOrOpenReceiveStream(0)
	require.NoError(t, err)
	require.Nil(t, str)
}

func TestStreamsMapRaisesLimitOnDelete(t *testing.T) {
	m, sender := newTestStreamsMap(t)
	_, err := m.getOrOpenReceiveStream(0)
	require.NoError(t, err)
	require.NoError(t, m.DeleteStream(0))
	var maxStreams *wire.MaxStreamsFrame
	for _, f := range sender.controlFrames {
		if msf, ok := f.(*wire.MaxStreamsFrame); ok {
			maxStreams = msf
		}
	}
	require.NotNil(t, maxStreams)
	require.Equal(t, protocol.StreamTypeBidi, maxStreams.Type)
	require.Equal(t, protocol.StreamNum(101), maxStreams.MaxStreamNum)
}

func TestStreamsMapOpenStream(t *testing.T) {
	m, sender := newTestStreamsMap(t)
	// peer allows 3 bidirectional streams
	for i := 0; i < 3; i++ {
		str, err := m.OpenStream()
		require.NoError(t, err)
		require.Equal(t, protocol.PerspectiveServer, str.StreamID().InitiatedBy())
	}
	_, err := m.OpenStream()
	require.ErrorIs(t, err, ErrTooManyOpenStreams)
	var blocked *wire.StreamsBlockedFrame
	for _, f := range sender.controlFrames {
		if sbf, ok := f.(*wire.StreamsBlockedFrame); ok {
			blocked = sbf
		}
	}
	require.NotNil(t, blocked)
	require.Equal(t, protocol.StreamNum(3), blocked.StreamLimit)

	// a MAX_STREAMS frame lifts the limit
	m.HandleMaxStreamsFrame(&wire.MaxStreamsFrame{Type: protocol.StreamTypeBidi, MaxStreamNum: 4})
	_, err = m.OpenStream()
	require.NoError(t, err)
}

func TestStreamsMapOpenUniStream(t *testing.T) {
	m, _ := newTestStreamsMap(t)
	str, err := m.OpenUniStream()
	require.NoError(t, err)
	require.Equal(t, protocol.StreamTypeUni, str.StreamID().Type())
	_, err = m.OpenUniStream()
	require.ErrorIs(t, err, ErrTooManyOpenStreams)
}
