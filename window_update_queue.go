package quic

import (
	"github.com/quicsrv/quic/internal/flowcontrol"
	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/wire"
)

// The windowUpdateQueue collects streams whose receive window should be
// re-advertised. MAX_STREAM_DATA and MAX_DATA frames are generated when the
// next packet is packed, so they always carry the current window, also when
// replacing a lost frame.
type windowUpdateQueue struct {
	queue map[protocol.StreamID]struct{}

	streamGetter       func(protocol.StreamID) *Stream
	connFlowController flowcontrol.ConnectionFlowController
	callback           func(wire.Frame)
}

func newWindowUpdateQueue(
	streamGetter func(protocol.StreamID) *Stream,
	connFC flowcontrol.ConnectionFlowController,
	cb func(wire.Frame),
) *windowUpdateQueue {
	return &windowUpdateQueue{
		queue:              make(map[protocol.StreamID]struct{}),
		streamGetter:       streamGetter,
		connFlowController: connFC,
		callback:           cb,
	}
}

func (q *windowUpdateQueue) AddStream(id protocol.StreamID) {
	q.queue[id] = struct{}{}
}

func (q *windowUpdateQueue) QueueAll() {
	// queue a connection-level window update when more than half of the
	// window was consumed
	if offset := q.connFlowController.GetWindowUpdate(); offset > 0 {
		q.callback(&wire.MaxDataFrame{MaximumData: offset})
	}
	// queue all stream-level window updates
	for id := range q.queue {
		delete(q.queue, id)
		str := q.streamGetter(id)
		if str == nil { // the stream can be deleted before the window update is sent out
			continue
		}
		offset := str.flowController.GetWindowUpdate()
		if offset == 0 { // can happen if the flow controller is newly initialized
			continue
		}
		q.callback(&wire.MaxStreamDataFrame{StreamID: id, MaximumStreamData: offset})
	}
}
