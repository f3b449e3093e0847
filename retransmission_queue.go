package quic

import (
	"fmt"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/wire"
)

// The retransmissionQueue collects frames whose packet was declared lost.
// Frames are reinjected as frames, not as packets: when the packer builds the
// next packet at the matching encryption level, it drains this queue first.
type retransmissionQueue struct {
	initial   []wire.Frame
	handshake []wire.Frame
	appData   []wire.Frame
}

func newRetransmissionQueue() *retransmissionQueue {
	return &retransmissionQueue{}
}

func (q *retransmissionQueue) AddInitial(f wire.Frame) {
	q.initial = append(q.initial, f)
}

func (q *retransmissionQueue) AddHandshake(f wire.Frame) {
	q.handshake = append(q.handshake, f)
}

func (q *retransmissionQueue) AddAppData(f wire.Frame) {
	if _, ok := f.(*wire.StreamFrame); ok {
		panic("STREAM frames are handled by the send stream")
	}
	q.appData = append(q.appData, f)
}

func (q *retransmissionQueue) HasInitialData() bool   { return len(q.initial) > 0 }
func (q *retransmissionQueue) HasHandshakeData() bool { return len(q.handshake) > 0 }
func (q *retransmissionQueue) HasAppData() bool       { return len(q.appData) > 0 }

func (q *retransmissionQueue) GetInitialFrame(maxLen protocol.ByteCount, v protocol.Version) wire.Frame {
	f, rest := getFrame(q.initial, maxLen, v)
	q.initial = rest
	return f
}

func (q *retransmissionQueue) GetHandshakeFrame(maxLen protocol.ByteCount, v protocol.Version) wire.Frame {
	f, rest := getFrame(q.handshake, maxLen, v)
	q.handshake = rest
	return f
}

func (q *retransmissionQueue) GetAppDataFrame(maxLen protocol.ByteCount, v protocol.Version) wire.Frame {
	f, rest := getFrame(q.appData, maxLen, v)
	q.appData = rest
	return f
}

func getFrame(queue []wire.Frame, maxLen protocol.ByteCount, v protocol.Version) (wire.Frame, []wire.Frame) {
	if len(queue) == 0 {
		return nil, queue
	}
	f := queue[0]
	if f.Length(v) <= maxLen {
		return f, queue[1:]
	}
	cf, ok := f.(*wire.CryptoFrame)
	if !ok {
		return nil, queue
	}
	split, needsSplit := cf.MaybeSplitOffFrame(maxLen, v)
	if !needsSplit || split == nil {
		return nil, queue
	}
	// cf now holds the part that fits; the remainder takes its place in the queue.
	rest := append([]wire.Frame{split}, queue[1:]...)
	return cf, rest
}

// DropPackets discards all frames of an abandoned packet number space.
func (q *retransmissionQueue) DropPackets(encLevel protocol.EncryptionLevel) {
	//nolint:exhaustive // Only Initial and Handshake are dropped.
	switch encLevel {
	case protocol.EncryptionInitial:
		q.initial = nil
	case protocol.EncryptionHandshake:
		q.handshake = nil
	default:
		panic(fmt.Sprintf("cannot drop %s packets", encLevel))
	}
}
