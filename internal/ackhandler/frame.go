package ackhandler

import (
	"github.com/quicsrv/quic/internal/wire"
)

// A Frame is a frame, together with the handlers to call when it is acknowledged or lost.
type Frame struct {
	wire.Frame // nil if the frame has already been acknowledged in another packet

	OnLost  func(wire.Frame)
	OnAcked func(wire.Frame)
}

// A StreamFrame is a STREAM frame, scheduled for packetization.
type StreamFrame struct {
	Frame *wire.StreamFrame

	OnLost  func(*wire.StreamFrame)
	OnAcked func(*wire.StreamFrame)
}

// IsFrameAckEliciting returns true if the frame is ack-eliciting.
func IsFrameAckEliciting(f wire.Frame) bool {
	_, isAck := f.(*wire.AckFrame)
	_, isConnectionClose := f.(*wire.ConnectionCloseFrame)
	return !isAck && !isConnectionClose
}
