package quic

import (
	"errors"

	"github.com/quicsrv/quic/internal/protocol"
)

var errTooManyGapsInReceivedData = errors.New("too many gaps in received data")

type frameSorterSegment struct {
	offset protocol.ByteCount
	data   []byte
}

// The frameSorter buffers out-of-order data of one byte stream and hands it
// out in order. Segments are kept in a slice ordered by offset, without
// overlaps; incoming data is trimmed against what was already received.
type frameSorter struct {
	readPos  protocol.ByteCount // everything below this offset was handed out
	queued   protocol.ByteCount // bytes currently buffered
	segments []frameSorterSegment
}

func newFrameSorter() frameSorter {
	return frameSorter{}
}

// Push inserts data at the given offset. The data is copied.
func (s *frameSorter) Push(data []byte, offset protocol.ByteCount) error {
	if len(data) == 0 {
		return nil
	}
	// trim the leading duplicate
	if offset < s.readPos {
		if offset+protocol.ByteCount(len(data)) <= s.readPos {
			return nil
		}
		data = data[s.readPos-offset:]
		offset = s.readPos
	}
	end := offset + protocol.ByteCount(len(data))

	// find the first segment that ends after offset
	i := 0
	for i < len(s.segments) && s.segments[i].offset+protocol.ByteCount(len(s.segments[i].data)) <= offset {
		i++
	}
	for len(data) > 0 && i < len(s.segments) {
		seg := s.segments[i]
		segEnd := seg.offset + protocol.ByteCount(len(seg.data))
		if seg.offset >= end {
			break
		}
		if seg.offset <= offset {
			// the segment covers the front of the new data
			if segEnd >= end {
				return nil // fully covered
			}
			data = data[segEnd-offset:]
			offset = segEnd
			i++
			continue
		}
		// the segment starts inside the new data: insert the part in front of it
		n := seg.offset - offset
		s.insert(i, data[:n], offset)
		i++
		data = data[n:]
		offset = seg.offset
	}
	if len(data) > 0 {
		s.insert(i, data, offset)
	}
	if len(s.segments) > protocol.MaxStreamFrameSorterGaps {
		return errTooManyGapsInReceivedData
	}
	return nil
}

func (s *frameSorter) insert(i int, data []byte, offset protocol.ByteCount) {
	owned := make([]byte, len(data))
	copy(owned, data)
	s.segments = append(s.segments, frameSorterSegment{})
	copy(s.segments[i+1:], s.segments[i:])
	s.segments[i] = frameSorterSegment{offset: offset, data: owned}
	s.queued += protocol.ByteCount(len(data))
}

// Pop returns the next contiguous chunk, if any.
func (s *frameSorter) Pop() ([]byte, bool) {
	if len(s.segments) == 0 || s.segments[0].offset > s.readPos {
		return nil, false
	}
	seg := s.segments[0]
	copy(s.segments, s.segments[1:])
	s.segments = s.segments[:len(s.segments)-1]
	s.queued -= protocol.ByteCount(len(seg.data))
	s.readPos = seg.offset + protocol.ByteCount(len(seg.data))
	return seg.data, true
}

// HasMoreData says if the next contiguous chunk is available.
func (s *frameSorter) HasMoreData() bool {
	return len(s.segments) > 0 && s.segments[0].offset <= s.readPos
}

// ReadPos is the offset up to which data was handed out.
func (s *frameSorter) ReadPos() protocol.ByteCount {
	return s.readPos
}

// QueuedBytes is the number of bytes currently buffered.
// Contiguous data is removed from this count as soon as it is popped.
func (s *frameSorter) QueuedBytes() protocol.ByteCount {
	return s.queued
}
