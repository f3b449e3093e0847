package quic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/wire"
)

func TestCryptoStreamOutOfOrderDelivery(t *testing.T) {
	s := newCryptoStream()
	// offset 30 first, then offset 0: handshake data comes out in order
	require.NoError(t, s.HandleCryptoFrame(&wire.CryptoFrame{Offset: 30, Data: make([]byte, 20)}))
	require.Nil(t, s.GetCryptoData())
	first := make([]byte, 30)
	for i := range first {
		first[i] = 0x42
	}
	require.NoError(t, s.HandleCryptoFrame(&wire.CryptoFrame{Offset: 0, Data: first}))
	var received []byte
	for {
		data := s.GetCryptoData()
		if data == nil {
			break
		}
		received = append(received, data...)
	}
	require.Len(t, received, 50)
	require.Equal(t, byte(0x42), received[29])
}

func TestCryptoStreamBufferCap(t *testing.T) {
	s := newCryptoStream()
	// data beyond received + 64 KiB is rejected
	err := s.HandleCryptoFrame(&wire.CryptoFrame{
		Offset: protocol.MaxCryptoStreamOffset,
		Data:   []byte{0x1},
	})
	require.Error(t, err)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.CryptoBufferExceeded, transportErr.ErrorCode)

	// draining data moves the cap forward
	require.NoError(t, s.HandleCryptoFrame(&wire.CryptoFrame{Offset: 0, Data: make([]byte, 100)}))
	require.NotNil(t, s.GetCryptoData())
	require.NoError(t, s.HandleCryptoFrame(&wire.CryptoFrame{
		Offset: 100,
		Data:   make([]byte, protocol.MaxCryptoStreamOffset),
	}))
}

func TestCryptoStreamFinishWithPendingData(t *testing.T) {
	s := newCryptoStream()
	require.NoError(t, s.HandleCryptoFrame(&wire.CryptoFrame{Offset: 10, Data: []byte("data")}))
	err := s.Finish()
	require.Error(t, err)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.ProtocolViolation, transportErr.ErrorCode)
}

func TestCryptoStreamWritesFrames(t *testing.T) {
	s := newCryptoStream()
	_, err := s.Write([]byte("lorem ipsum"))
	require.NoError(t, err)
	require.True(t, s.HasData())
	f := s.PopCryptoFrame(protocol.ByteCount(1000))
	require.NotNil(t, f)
	require.Zero(t, f.Offset)
	require.Equal(t, []byte("lorem ipsum"), f.Data)
	require.False(t, s.HasData())

	// limited frames continue at the right offset
	_, err = s.Write([]byte("foobar"))
	require.NoError(t, err)
	f = s.PopCryptoFrame(5) // not enough for all of it
	require.NotNil(t, f)
	require.Equal(t, protocol.ByteCount(11), f.Offset)
	require.Equal(t, []byte("fo"), f.Data)
	require.True(t, s.HasData())
}
