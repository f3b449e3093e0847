package quic

import (
	"github.com/quicsrv/quic/internal/ackhandler"
	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/utils/ringbuffer"
	"github.com/quicsrv/quic/internal/wire"
	"github.com/quicsrv/quic/quicvarint"
)

// The framer supplies the packet packer with application-data frames:
// queued control frames first, then STREAM frames from all streams with
// pending data, round-robin.
type framer struct {
	streamGetter func(protocol.StreamID) *Stream

	activeStreams map[protocol.StreamID]struct{}
	streamQueue   ringbuffer.RingBuffer[protocol.StreamID]

	controlFrames []wire.Frame
}

func newFramer(streamGetter func(protocol.StreamID) *Stream) *framer {
	return &framer{
		streamGetter:  streamGetter,
		activeStreams: make(map[protocol.StreamID]struct{}),
	}
}

func (f *framer) HasData() bool {
	return !f.streamQueue.Empty() || len(f.controlFrames) > 0
}

func (f *framer) QueueControlFrame(frame wire.Frame) {
	f.controlFrames = append(f.controlFrames, frame)
}

func (f *framer) AppendControlFrames(frames []ackhandler.Frame, maxLen protocol.ByteCount, v protocol.Version, onLost func(wire.Frame)) ([]ackhandler.Frame, protocol.ByteCount) {
	var length protocol.ByteCount
	for len(f.controlFrames) > 0 {
		frame := f.controlFrames[len(f.controlFrames)-1]
		frameLen := frame.Length(v)
		if length+frameLen > maxLen {
			break
		}
		frames = append(frames, ackhandler.Frame{Frame: frame, OnLost: onLost})
		length += frameLen
		f.controlFrames = f.controlFrames[:len(f.controlFrames)-1]
	}
	return frames, length
}

// AddActiveStream marks a stream as having data to send.
func (f *framer) AddActiveStream(id protocol.StreamID) {
	if _, ok := f.activeStreams[id]; !ok {
		f.streamQueue.PushBack(id)
		f.activeStreams[id] = struct{}{}
	}
}

func (f *framer) AppendStreamFrames(frames []ackhandler.StreamFrame, maxLen protocol.ByteCount, v protocol.Version) ([]ackhandler.StreamFrame, protocol.ByteCount) {
	startLen := len(frames)
	var length protocol.ByteCount
	// pop each stream at most once per packet
	numActiveStreams := f.streamQueue.Len()
	for i := 0; i < numActiveStreams; i++ {
		if maxLen-length < protocol.MinStreamFrameSize {
			break
		}
		id := f.streamQueue.PopFront()
		str := f.streamGetter(id)
		// the stream might have been closed and removed in the meantime
		if str == nil {
			delete(f.activeStreams, id)
			continue
		}
		remainingLen := maxLen - length
		// the data length field of the last STREAM frame is omitted, saving a
		// few bytes; account for the varint when deciding how much data fits
		remainingLen += protocol.ByteCount(quicvarint.Len(uint64(remainingLen)))
		frame, ok, hasMoreData := str.popStreamFrame(remainingLen)
		if hasMoreData { // put the stream back in the queue (at the end)
			f.streamQueue.PushBack(id)
		} else {
			delete(f.activeStreams, id)
		}
		if !ok {
			continue
		}
		frames = append(frames, frame)
		length += frame.Frame.Length(v)
	}
	if len(frames) > startLen {
		l := frames[len(frames)-1].Frame.Length(v)
		// the last STREAM frame of the packet doesn't need the data length
		frames[len(frames)-1].Frame.DataLenPresent = false
		length += frames[len(frames)-1].Frame.Length(v) - l
	}
	return frames, length
}

func (f *framer) RemoveActiveStream(id protocol.StreamID) {
	delete(f.activeStreams, id)
}
