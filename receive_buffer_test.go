package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReceiveBufferPushPop(t *testing.T) {
	b := newReceiveBuffer(16)
	require.True(t, b.Push([]byte("foobar")))
	require.Equal(t, int64(6), int64(b.Len()))
	require.Equal(t, int64(10), int64(b.Free()))

	buf := make([]byte, 4)
	require.Equal(t, 4, b.Pop(buf))
	require.Equal(t, []byte("foob"), buf)
	require.Equal(t, 2, b.Pop(buf))
	require.Equal(t, []byte("ar"), buf[:2])
	require.Zero(t, b.Pop(buf))
}

func TestReceiveBufferWrapAround(t *testing.T) {
	b := newReceiveBuffer(8)
	require.True(t, b.Push([]byte("abcdef")))
	buf := make([]byte, 6)
	require.Equal(t, 6, b.Pop(buf))
	// this write wraps around the end of the buffer
	require.True(t, b.Push([]byte("ghijklm")))
	require.Equal(t, int64(1), int64(b.Free()))
	out := make([]byte, 7)
	require.Equal(t, 7, b.Pop(out))
	require.Equal(t, []byte("ghijklm"), out)
}

func TestReceiveBufferOverflow(t *testing.T) {
	b := newReceiveBuffer(8)
	require.True(t, b.Push([]byte("abcdef")))
	require.False(t, b.Push([]byte("ghi")))
	// the failed push didn't corrupt the buffer
	out := make([]byte, 8)
	require.Equal(t, 6, b.Pop(out))
	require.Equal(t, []byte("abcdef"), out[:6])
}
