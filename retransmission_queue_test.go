package quic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/wire"
)

func TestRetransmissionQueueLevels(t *testing.T) {
	q := newRetransmissionQueue()
	q.AddInitial(&wire.PingFrame{})
	q.AddHandshake(&wire.CryptoFrame{Data: []byte("foo")})
	q.AddAppData(&wire.MaxDataFrame{MaximumData: 42})

	require.True(t, q.HasInitialData())
	require.True(t, q.HasHandshakeData())
	require.True(t, q.HasAppData())

	require.IsType(t, &wire.PingFrame{}, q.GetInitialFrame(1000, protocol.Version1))
	require.False(t, q.HasInitialData())
	require.IsType(t, &wire.CryptoFrame{}, q.GetHandshakeFrame(1000, protocol.Version1))
	require.IsType(t, &wire.MaxDataFrame{}, q.GetAppDataFrame(1000, protocol.Version1))
}

func TestRetransmissionQueueSplitsCryptoFrames(t *testing.T) {
	q := newRetransmissionQueue()
	q.AddInitial(&wire.CryptoFrame{Data: make([]byte, 100)})
	f := q.GetInitialFrame(20, protocol.Version1)
	require.NotNil(t, f)
	cf := f.(*wire.CryptoFrame)
	require.Less(t, int(cf.Length(protocol.Version1)), 21)
	// the remainder stays queued
	require.True(t, q.HasInitialData())
	rest := q.GetInitialFrame(1000, protocol.Version1)
	require.NotNil(t, rest)
	require.Equal(t, 100, len(cf.Data)+len(rest.(*wire.CryptoFrame).Data))
}

func TestRetransmissionQueueUnsplittableFrame(t *testing.T) {
	q := newRetransmissionQueue()
	q.AddAppData(&wire.MaxStreamDataFrame{StreamID: 4, MaximumStreamData: 1 << 40})
	// a frame that doesn't fit is left in the queue
	require.Nil(t, q.GetAppDataFrame(1, protocol.Version1))
	require.True(t, q.HasAppData())
}

func TestRetransmissionQueueDrop(t *testing.T) {
	q := newRetransmissionQueue()
	q.AddInitial(&wire.PingFrame{})
	q.AddHandshake(&wire.PingFrame{})
	q.DropPackets(protocol.EncryptionInitial)
	require.False(t, q.HasInitialData())
	require.True(t, q.HasHandshakeData())
	q.DropPackets(protocol.EncryptionHandshake)
	require.False(t, q.HasHandshakeData())
}
