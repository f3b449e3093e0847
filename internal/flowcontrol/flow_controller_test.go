package flowcontrol

import (
	"testing"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/utils"

	"github.com/stretchr/testify/require"
)

func newTestControllers() (StreamFlowController, ConnectionFlowController) {
	cfc := NewConnectionFlowController(1000, 64000, utils.DefaultLogger)
	sfc := NewStreamFlowController(4, cfc, 600, 0, utils.DefaultLogger)
	return sfc, cfc
}

func TestStreamFlowControlViolation(t *testing.T) {
	sfc, _ := newTestControllers()
	require.NoError(t, sfc.UpdateHighestReceived(600, false))
	err := sfc.UpdateHighestReceived(601, false)
	require.Error(t, err)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.FlowControlError, transportErr.ErrorCode)
}

func TestConnectionFlowControlViolation(t *testing.T) {
	cfc := NewConnectionFlowController(1000, 64000, utils.DefaultLogger)
	sfc1 := NewStreamFlowController(4, cfc, 800, 0, utils.DefaultLogger)
	sfc2 := NewStreamFlowController(8, cfc, 800, 0, utils.DefaultLogger)
	require.NoError(t, sfc1.UpdateHighestReceived(600, false))
	// in total, more than 1000 bytes were received on the connection
	err := sfc2.UpdateHighestReceived(500, false)
	require.Error(t, err)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.FlowControlError, transportErr.ErrorCode)
}

func TestStreamReorderingIsAllowed(t *testing.T) {
	sfc, _ := newTestControllers()
	require.NoError(t, sfc.UpdateHighestReceived(300, false))
	require.NoError(t, sfc.UpdateHighestReceived(200, false))
	require.NoError(t, sfc.UpdateHighestReceived(300, false))
}

func TestStreamFinalSizeConsistency(t *testing.T) {
	sfc, _ := newTestControllers()
	require.NoError(t, sfc.UpdateHighestReceived(300, true))
	// data beyond the final size
	require.Error(t, sfc.UpdateHighestReceived(400, false))
	// a different final size
	require.Error(t, sfc.UpdateHighestReceived(200, true))
	// the same final size is a no-op
	require.NoError(t, sfc.UpdateHighestReceived(300, true))
}

func TestStreamWindowUpdateOnRead(t *testing.T) {
	sfc, _ := newTestControllers()
	require.NoError(t, sfc.UpdateHighestReceived(100, false))
	sfc.AddBytesRead(100)
	// the window is re-advertised as read + window size
	require.Equal(t, protocol.ByteCount(700), sfc.GetWindowUpdate())
	// no further update until more is read
	require.Zero(t, sfc.GetWindowUpdate())
}

func TestConnectionWindowDoubling(t *testing.T) {
	cfc := NewConnectionFlowController(1000, 64000, utils.DefaultLogger)
	// consuming less than half the window doesn't trigger an update
	cfc.AddBytesRead(400)
	require.Zero(t, cfc.GetWindowUpdate())
	// crossing half the window doubles it
	cfc.AddBytesRead(200)
	offset := cfc.GetWindowUpdate()
	require.Equal(t, protocol.ByteCount(600+2000), offset)
	// the window size is capped at the maximum
	for i := 0; i < 20; i++ {
		cfc.AddBytesRead(10000)
		cfc.GetWindowUpdate()
	}
	cfc.AddBytesRead(100000)
	update := cfc.GetWindowUpdate()
	require.NotZero(t, update)
	cfcImpl := cfc.(*connectionFlowController)
	require.Equal(t, protocol.ByteCount(64000), cfcImpl.receiveWindowSize)
}

func TestStreamSendWindowBoundedByConnection(t *testing.T) {
	cfc := NewConnectionFlowController(0, 0, utils.DefaultLogger)
	cfc.UpdateSendWindow(500)
	sfc := NewStreamFlowController(4, cfc, 0, 1000, utils.DefaultLogger)
	require.Equal(t, protocol.ByteCount(500), sfc.SendWindowSize())
	sfc.AddBytesSent(400)
	require.Equal(t, protocol.ByteCount(100), sfc.SendWindowSize())
}

func TestNewlyBlocked(t *testing.T) {
	cfc := NewConnectionFlowController(0, 0, utils.DefaultLogger)
	cfc.UpdateSendWindow(100)
	cfc.AddBytesSent(100)
	blocked, at := cfc.IsNewlyBlocked()
	require.True(t, blocked)
	require.Equal(t, protocol.ByteCount(100), at)
	// only reported once per offset
	blocked, _ = cfc.IsNewlyBlocked()
	require.False(t, blocked)
}
