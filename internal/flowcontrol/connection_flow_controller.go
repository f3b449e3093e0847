package flowcontrol

import (
	"errors"
	"fmt"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/utils"
)

type connectionFlowController struct {
	baseFlowController
}

var _ ConnectionFlowController = &connectionFlowController{}

// NewConnectionFlowController gets a new flow controller for the connection
// receiveWindow is the initial connection-level receive window advertised in the
// transport parameters; it is doubled each time more than half of it is consumed.
func NewConnectionFlowController(
	receiveWindow protocol.ByteCount,
	maxReceiveWindow protocol.ByteCount,
	logger utils.Logger,
) ConnectionFlowController {
	return &connectionFlowController{
		baseFlowController: baseFlowController{
			receiveWindow:        receiveWindow,
			receiveWindowSize:    receiveWindow,
			maxReceiveWindowSize: maxReceiveWindow,
			logger:               logger,
		},
	}
}

// IncrementHighestReceived adds an increment to the highestReceived value
func (c *connectionFlowController) IncrementHighestReceived(increment protocol.ByteCount) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// If this prevents us from sending further MAX_DATA frames,
	// the peer has violated the connection-level flow control window.
	c.highestReceived += increment
	if c.checkFlowControlViolation() {
		return &qerr.TransportError{
			ErrorCode:    qerr.FlowControlError,
			ErrorMessage: fmt.Sprintf("received %d bytes for the connection, allowed %d bytes", c.highestReceived, c.receiveWindow),
		}
	}
	return nil
}

// GetWindowUpdate returns the new connection-level window offset, or 0.
// When more than half of the current window size was consumed, the window size
// is doubled (up to the maximum) and the new offset advertised in a MAX_DATA frame.
func (c *connectionFlowController) GetWindowUpdate() protocol.ByteCount {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.hasWindowUpdate() {
		return 0
	}
	c.receiveWindowSize = min(2*c.receiveWindowSize, c.maxReceiveWindowSize)
	c.receiveWindow = c.bytesRead + c.receiveWindowSize
	if c.logger.Debug() {
		c.logger.Debugf("Increasing receive flow control window for the connection to %d kB", c.receiveWindowSize/(1<<10))
	}
	return c.receiveWindow
}

// EnsureMinimumWindowSize sets a minimum window size.
// It is used when a stream-level window grows, to make sure the connection-level
// window doesn't lag behind.
func (c *connectionFlowController) EnsureMinimumWindowSize(inc protocol.ByteCount) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if inc > c.receiveWindowSize {
		c.receiveWindowSize = min(inc, c.maxReceiveWindowSize)
	}
}

// Reset rests the flow controller. This happens when 0-RTT is rejected.
// All stream data is invalidated, it's as if we had never opened a stream and never sent any data.
// At that point, we only have sent stream data, but we didn't have the keys to open 1-RTT keys yet.
func (c *connectionFlowController) Reset() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.bytesRead > 0 || c.highestReceived > 0 {
		return errors.New("flow controller reset after reading data")
	}
	c.bytesSent = 0
	c.lastBlockedAt = 0
	return nil
}
