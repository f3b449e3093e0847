package quic

import "github.com/quicsrv/quic/internal/protocol"

// A receiveBuffer is the fixed-size wrap-around byte buffer backing the
// receive side of a stream. Its capacity equals the stream's flow control
// window, so it can only overflow if the peer violates flow control.
type receiveBuffer struct {
	data   []byte
	start  int // read position
	length int // number of readable bytes
}

func newReceiveBuffer(capacity protocol.ByteCount) *receiveBuffer {
	return &receiveBuffer{data: make([]byte, capacity)}
}

func (b *receiveBuffer) Free() protocol.ByteCount {
	return protocol.ByteCount(len(b.data) - b.length)
}

func (b *receiveBuffer) Len() protocol.ByteCount {
	return protocol.ByteCount(b.length)
}

// Push appends p to the buffer. It reports whether p fit.
func (b *receiveBuffer) Push(p []byte) bool {
	if len(p) > len(b.data)-b.length {
		return false
	}
	pos := (b.start + b.length) % len(b.data)
	n := copy(b.data[pos:], p)
	if n < len(p) {
		copy(b.data, p[n:])
	}
	b.length += len(p)
	return true
}

// Pop reads up to len(p) bytes into p.
func (b *receiveBuffer) Pop(p []byte) int {
	if b.length == 0 {
		return 0
	}
	if len(p) > b.length {
		p = p[:b.length]
	}
	n := copy(p, b.data[b.start:])
	if n < len(p) {
		n += copy(p[n:], b.data)
	}
	b.start = (b.start + n) % len(b.data)
	b.length -= n
	return n
}
