package quic

import (
	"bytes"
	"crypto/tls"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quicsrv/quic/internal/handshake"
	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/wire"
)

type datagramRecorder struct {
	remotes   []netip.AddrPort
	datagrams [][]byte
}

func (r *datagramRecorder) Write(remote netip.AddrPort, b []byte) {
	data := make([]byte, len(b))
	copy(data, b)
	r.remotes = append(r.remotes, remote)
	r.datagrams = append(r.datagrams, data)
}

var testTokenKey = TokenProtectorKey{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32}

func newTestEndpoint(t *testing.T, modify func(*Config)) (*Endpoint, *datagramRecorder) {
	t.Helper()
	rec := &datagramRecorder{}
	conf := &Config{
		TLSConfig:     &tls.Config{},
		WriteDatagram: rec.Write,
	}
	if modify != nil {
		modify(conf)
	}
	e, err := NewEndpoint(conf)
	require.NoError(t, err)
	return e, rec
}

// composeInitial builds a client Initial packet, protected with the Initial
// keys for the given destination connection ID.
func composeInitial(t *testing.T, dcid, scid protocol.ConnectionID, pn protocol.PacketNumber, token []byte, frames []wire.Frame) []byte {
	t.Helper()
	sealer, _ := handshake.NewInitialAEAD(dcid, protocol.PerspectiveClient, protocol.Version1)

	var payload []byte
	var err error
	for _, f := range frames {
		payload, err = f.Append(payload, protocol.Version1)
		require.NoError(t, err)
	}

	hdr := &wire.ExtendedHeader{
		PacketNumber:    pn,
		PacketNumberLen: protocol.PacketNumberLen4,
	}
	hdr.Type = protocol.PacketTypeInitial
	hdr.Version = protocol.Version1
	hdr.DestConnectionID = dcid
	hdr.SrcConnectionID = scid
	hdr.Token = token

	// pad the datagram to the required 1200 bytes
	overhead := sealer.Overhead()
	paddingLen := protocol.MinInitialPacketSize - int(hdr.GetLength(protocol.Version1)) - overhead - len(payload)
	require.Positive(t, paddingLen)
	payload = append(payload, make([]byte, paddingLen)...)
	hdr.Length = protocol.ByteCount(len(payload)) + protocol.ByteCount(hdr.PacketNumberLen) + protocol.ByteCount(overhead)

	raw, err := hdr.Append(nil, protocol.Version1)
	require.NoError(t, err)
	payloadOffset := len(raw)
	raw = append(raw, sealer.Seal(nil, payload, pn, raw[:payloadOffset])...)
	pnOffset := payloadOffset - 4
	sealer.EncryptHeader(raw[pnOffset+4:pnOffset+4+16], &raw[0], raw[pnOffset:pnOffset+4])
	require.Equal(t, protocol.MinInitialPacketSize, len(raw))
	return raw
}

var clientAddr = netip.MustParseAddrPort("192.0.2.7:4242")

func TestEndpointDropsSmallInitial(t *testing.T) {
	e, rec := newTestEndpoint(t, nil)
	small := make([]byte, 100)
	small[0] = 0xc0 // long header, Initial
	e.Process(time.Now(), clientAddr, small)
	require.Empty(t, rec.datagrams)
}

func TestEndpointVersionNegotiation(t *testing.T) {
	e, rec := newTestEndpoint(t, nil)
	dcid := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	scid := protocol.ConnectionID{8, 7, 6, 5}
	packet := make([]byte, protocol.MinInitialPacketSize)
	packet[0] = 0xc0
	// an unknown version
	packet[1], packet[2], packet[3], packet[4] = 0x1f, 0x1f, 0x1f, 0x1f
	packet[5] = byte(dcid.Len())
	copy(packet[6:], dcid.Bytes())
	packet[6+dcid.Len()] = byte(scid.Len())
	copy(packet[7+dcid.Len():], scid.Bytes())

	e.Process(time.Now(), clientAddr, packet)
	require.Len(t, rec.datagrams, 1)
	require.True(t, wire.IsVersionNegotiationPacket(rec.datagrams[0]))
	dest, src, versions, err := wire.ParseVersionNegotiationPacket(rec.datagrams[0])
	require.NoError(t, err)
	require.Equal(t, scid, dest)
	require.Equal(t, dcid, src)
	require.Contains(t, versions, protocol.Version1)
}

func TestEndpointSendsRetry(t *testing.T) {
	e, rec := newTestEndpoint(t, func(conf *Config) {
		conf.RequireAddressValidation = true
		conf.TokenKey = &testTokenKey
	})
	dcid := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	scid := protocol.ConnectionID{8, 7, 6, 5}
	now := time.Now()
	e.Process(now, clientAddr, composeInitial(t, dcid, scid, 0, nil, nil))

	require.Len(t, rec.datagrams, 1)
	retry := rec.datagrams[0]
	hdr, _, _, err := wire.ParsePacket(retry)
	require.NoError(t, err)
	require.Equal(t, protocol.PacketTypeRetry, hdr.Type)
	require.Equal(t, scid, hdr.DestConnectionID)
	require.NotEqual(t, dcid, hdr.SrcConnectionID)

	// the integrity tag covers the packet and the client's original DCID
	tag := handshake.GetRetryIntegrityTag(retry[:len(retry)-16], dcid, protocol.Version1)
	require.True(t, bytes.Equal(tag[:], retry[len(retry)-16:]))

	// the token decodes to the client's address and both connection IDs
	gen := handshake.NewTokenGenerator(testTokenKey)
	token, err := gen.DecodeToken(hdr.Token)
	require.NoError(t, err)
	require.True(t, token.IsRetryToken)
	require.True(t, token.ValidateRemoteAddr(clientAddr))
	require.Equal(t, dcid, token.OriginalDestConnectionID)
	require.Equal(t, hdr.SrcConnectionID, token.RetrySrcConnectionID)
	require.WithinDuration(t, now, token.SentTime, time.Second)

	// no connection state was created by the Retry
	require.Empty(t, e.conns)
}

func TestEndpointAcceptsPostRetryInitial(t *testing.T) {
	e, rec := newTestEndpoint(t, func(conf *Config) {
		conf.RequireAddressValidation = true
		conf.TokenKey = &testTokenKey
	})
	dcid := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	scid := protocol.ConnectionID{8, 7, 6, 5}
	now := time.Now()
	e.Process(now, clientAddr, composeInitial(t, dcid, scid, 0, nil, nil))
	require.Len(t, rec.datagrams, 1)
	retryHdr, _, _, err := wire.ParsePacket(rec.datagrams[0])
	require.NoError(t, err)

	// the post-Retry Initial uses the Retry SCID as DCID and echoes the token.
	// The CRYPTO data is garbage, so the TLS stack rejects the connection,
	// which proves the token was accepted and a connection was created.
	crypto := &wire.CryptoFrame{Data: []byte("not a ClientHello")}
	e.Process(now, clientAddr, composeInitial(t, retryHdr.SrcConnectionID, scid, 0, retryHdr.Token, []wire.Frame{crypto}))
	require.Greater(t, len(rec.datagrams), 1)
	// the handshake failure produces a CONNECTION_CLOSE in an Initial packet
	last := rec.datagrams[len(rec.datagrams)-1]
	closeHdr, _, _, err := wire.ParsePacket(last)
	require.NoError(t, err)
	require.Equal(t, protocol.PacketTypeInitial, closeHdr.Type)
}

func TestEndpointRejectsInvalidToken(t *testing.T) {
	e, rec := newTestEndpoint(t, func(conf *Config) {
		conf.RequireAddressValidation = true
		conf.TokenKey = &testTokenKey
	})
	dcid := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	scid := protocol.ConnectionID{8, 7, 6, 5}
	// a token that was issued for a different client address
	gen := handshake.NewTokenGenerator(testTokenKey)
	now := time.Now()
	token, err := gen.NewRetryToken(netip.MustParseAddrPort("198.51.100.1:1234"), dcid, dcid, now)
	require.NoError(t, err)
	e.Process(now, clientAddr, composeInitial(t, dcid, scid, 0, token, nil))
	// the server answers with a CONNECTION_CLOSE(INVALID_TOKEN), not a Retry
	require.NotEmpty(t, rec.datagrams)
	hdr, _, _, err := wire.ParsePacket(rec.datagrams[len(rec.datagrams)-1])
	require.NoError(t, err)
	require.Equal(t, protocol.PacketTypeInitial, hdr.Type)
}

func TestEndpointStatelessReset(t *testing.T) {
	key := &StatelessResetKey{1, 2, 3, 4}
	e, rec := newTestEndpoint(t, func(conf *Config) {
		conf.StatelessResetKey = key
	})
	packet := make([]byte, 200)
	packet[0] = 0x40
	for i := 1; i < len(packet); i++ {
		packet[i] = byte(i)
	}
	e.Process(time.Now(), clientAddr, packet)

	require.Len(t, rec.datagrams, 1)
	reset := rec.datagrams[0]
	require.GreaterOrEqual(t, len(reset), protocol.MinStatelessResetSize)
	require.LessOrEqual(t, len(reset), protocol.MinInitialPacketSize)
	require.False(t, wire.IsLongHeaderPacket(reset[0]))
	// the trailing 16 bytes are the token for the unknown connection ID
	connID := protocol.ConnectionID(packet[1 : 1+protocol.ConnectionIDLen])
	token := newStatelessResetter(key).GetStatelessResetToken(connID)
	require.True(t, bytes.Equal(token[:], reset[len(reset)-16:]))
}

func TestEndpointNoStatelessResetWithoutKey(t *testing.T) {
	e, rec := newTestEndpoint(t, nil)
	packet := make([]byte, 200)
	packet[0] = 0x40
	e.Process(time.Now(), clientAddr, packet)
	require.Empty(t, rec.datagrams)
}

func TestEndpointRequiresTokenKeyForRetry(t *testing.T) {
	_, err := NewEndpoint(&Config{
		TLSConfig:                &tls.Config{},
		WriteDatagram:            func(netip.AddrPort, []byte) {},
		RequireAddressValidation: true,
	})
	require.Error(t, err)
}
