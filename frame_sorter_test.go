package quic

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/quicsrv/quic/internal/protocol"
)

func popAll(s *frameSorter) []byte {
	var data []byte
	for {
		b, ok := s.Pop()
		if !ok {
			return data
		}
		data = append(data, b...)
	}
}

func TestFrameSorterInOrder(t *testing.T) {
	s := newFrameSorter()
	require.NoError(t, s.Push([]byte("foo"), 0))
	require.NoError(t, s.Push([]byte("bar"), 3))
	require.Equal(t, []byte("foobar"), popAll(&s))
	require.Equal(t, protocol.ByteCount(6), s.ReadPos())
	require.Zero(t, s.QueuedBytes())
}

func TestFrameSorterOutOfOrder(t *testing.T) {
	s := newFrameSorter()
	require.NoError(t, s.Push([]byte("bar"), 3))
	require.False(t, s.HasMoreData())
	require.Equal(t, protocol.ByteCount(3), s.QueuedBytes())
	require.NoError(t, s.Push([]byte("foo"), 0))
	require.Equal(t, []byte("foobar"), popAll(&s))
}

func TestFrameSorterDuplicates(t *testing.T) {
	s := newFrameSorter()
	require.NoError(t, s.Push([]byte("foobar"), 0))
	require.NoError(t, s.Push([]byte("foobar"), 0))
	require.NoError(t, s.Push([]byte("oob"), 1))
	require.Equal(t, []byte("foobar"), popAll(&s))
	// retransmission of delivered data is trimmed entirely
	require.NoError(t, s.Push([]byte("foobar"), 0))
	require.False(t, s.HasMoreData())
}

func TestFrameSorterPartialOverlaps(t *testing.T) {
	s := newFrameSorter()
	require.NoError(t, s.Push([]byte("cde"), 2))
	// overlaps the tail of the buffered segment, extends past it
	require.NoError(t, s.Push([]byte("defg"), 3))
	// overlaps the head
	require.NoError(t, s.Push([]byte("abc"), 0))
	require.Equal(t, []byte("abcdefg"), popAll(&s))
}

func TestFrameSorterGapFill(t *testing.T) {
	s := newFrameSorter()
	require.NoError(t, s.Push([]byte("ab"), 0))
	require.NoError(t, s.Push([]byte("ef"), 4))
	require.Equal(t, []byte("ab"), popAll(&s))
	require.NoError(t, s.Push([]byte("cd"), 2))
	require.Equal(t, []byte("cdef"), popAll(&s))
	require.Zero(t, s.QueuedBytes())
}

func TestFrameSorterTrimsAgainstReadPos(t *testing.T) {
	s := newFrameSorter()
	require.NoError(t, s.Push([]byte("foo"), 0))
	require.Equal(t, []byte("foo"), popAll(&s))
	// partially duplicate data: only the new tail survives
	require.NoError(t, s.Push([]byte("oobar"), 1))
	require.Equal(t, []byte("bar"), popAll(&s))
}

func TestFrameSorterRandomized(t *testing.T) {
	const size = 1000
	ref := make([]byte, size)
	r := rand.New(rand.NewSource(42))
	r.Read(ref)

	// split into segments, deliver in random order, with duplicates
	type segment struct {
		offset protocol.ByteCount
		data   []byte
	}
	var segments []segment
	for offset := 0; offset < size; {
		l := 1 + r.Intn(50)
		if offset+l > size {
			l = size - offset
		}
		segments = append(segments, segment{offset: protocol.ByteCount(offset), data: ref[offset : offset+l]})
		offset += l
	}
	segments = append(segments, segments[:len(segments)/2]...)
	r.Shuffle(len(segments), func(i, j int) { segments[i], segments[j] = segments[j], segments[i] })

	s := newFrameSorter()
	var received []byte
	for _, seg := range segments {
		require.NoError(t, s.Push(seg.data, seg.offset))
		received = append(received, popAll(&s)...)
	}
	require.True(t, bytes.Equal(ref, received))
	require.Zero(t, s.QueuedBytes())
}
