package wire

import (
	"testing"

	"github.com/quicsrv/quic/internal/protocol"

	"github.com/stretchr/testify/require"
)

func TestParseLongHeader(t *testing.T) {
	destConnID := protocol.ConnectionID{0xde, 0xad, 0xbe, 0xef, 0xca, 0xfe, 0x13, 0x37}
	srcConnID := protocol.ConnectionID{1, 2, 3, 4}
	hdr := &ExtendedHeader{
		Header: Header{
			Type:             protocol.PacketTypeInitial,
			DestConnectionID: destConnID,
			SrcConnectionID:  srcConnID,
			Token:            []byte("token"),
			Length:           300,
			Version:          protocol.Version1,
		},
		PacketNumber:    0x1337,
		PacketNumberLen: protocol.PacketNumberLen2,
	}
	b, err := hdr.Append(nil, protocol.Version1)
	require.NoError(t, err)
	require.Equal(t, hdr.GetLength(protocol.Version1), protocol.ByteCount(len(b)))

	// add the payload; the length field includes the packet number bytes
	data := append(b, make([]byte, 298)...)
	parsedHdr, packetData, rest, err := ParsePacket(data)
	require.NoError(t, err)
	require.Equal(t, protocol.PacketTypeInitial, parsedHdr.Type)
	require.Equal(t, destConnID, parsedHdr.DestConnectionID)
	require.Equal(t, srcConnID, parsedHdr.SrcConnectionID)
	require.Equal(t, []byte("token"), parsedHdr.Token)
	require.Equal(t, protocol.ByteCount(300), parsedHdr.Length)
	require.Len(t, packetData, len(b)+298)
	require.Empty(t, rest)

	extHdr, err := parsedHdr.ParseExtended(data)
	require.NoError(t, err)
	require.Equal(t, protocol.PacketNumber(0x1337), extHdr.PacketNumber)
	require.Equal(t, protocol.PacketNumberLen2, extHdr.PacketNumberLen)
}

func TestParseCoalescedPackets(t *testing.T) {
	hdr := &ExtendedHeader{
		Header: Header{
			Type:             protocol.PacketTypeHandshake,
			DestConnectionID: protocol.ConnectionID{1, 2, 3, 4},
			SrcConnectionID:  protocol.ConnectionID{5, 6, 7, 8},
			Length:           42,
			Version:          protocol.Version1,
		},
		PacketNumber:    1,
		PacketNumberLen: protocol.PacketNumberLen2,
	}
	b, err := hdr.Append(nil, protocol.Version1)
	require.NoError(t, err)
	pkt := append(b, make([]byte, 40)...) // length includes the 2-byte packet number
	trailer := []byte("second packet")
	data := append(pkt, trailer...)

	_, packetData, rest, err := ParsePacket(data)
	require.NoError(t, err)
	require.Equal(t, pkt, packetData)
	require.Equal(t, trailer, rest)
}

func TestParsePacketRejectsTruncated(t *testing.T) {
	hdr := &ExtendedHeader{
		Header: Header{
			Type:             protocol.PacketTypeHandshake,
			DestConnectionID: protocol.ConnectionID{1, 2, 3, 4},
			Length:           1000,
			Version:          protocol.Version1,
		},
		PacketNumber:    1,
		PacketNumberLen: protocol.PacketNumberLen2,
	}
	b, err := hdr.Append(nil, protocol.Version1)
	require.NoError(t, err)
	_, _, _, err = ParsePacket(append(b, make([]byte, 500)...))
	require.Error(t, err)
}

func TestParseUnsupportedVersion(t *testing.T) {
	b := []byte{0xc0, 0xde, 0xad, 0xbe, 0xef /* version */, 4, 1, 2, 3, 4 /* dest conn id */, 0 /* src conn id len */}
	hdr, _, _, err := ParsePacket(b)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
	require.NotNil(t, hdr)
	require.Equal(t, protocol.Version(0xdeadbeef), hdr.Version)
}

func TestShortHeaderRoundtrip(t *testing.T) {
	connID := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	b, err := AppendShortHeader(nil, connID, 0x1337, protocol.PacketNumberLen2, protocol.KeyPhaseOne)
	require.NoError(t, err)
	require.Equal(t, ShortHeaderLen(connID, protocol.PacketNumberLen2), protocol.ByteCount(len(b)))

	l, pn, pnLen, kp, err := ParseShortHeader(b, connID.Len())
	require.NoError(t, err)
	require.Equal(t, len(b), l)
	require.Equal(t, protocol.PacketNumber(0x1337), pn)
	require.Equal(t, protocol.PacketNumberLen2, pnLen)
	require.Equal(t, protocol.KeyPhaseOne, kp)
}

func TestVersionNegotiationPacket(t *testing.T) {
	destConnID := protocol.ConnectionID{1, 2, 3, 4}
	srcConnID := protocol.ConnectionID{5, 6, 7, 8}
	versions := []protocol.Version{protocol.Version1, protocol.VersionDraft29}
	b := ComposeVersionNegotiation(destConnID, srcConnID, versions)
	require.True(t, IsVersionNegotiationPacket(b))

	dest, src, parsedVersions, err := ParseVersionNegotiationPacket(b)
	require.NoError(t, err)
	require.Equal(t, destConnID, dest)
	require.Equal(t, srcConnID, src)
	// the first version is the greased one
	require.Contains(t, parsedVersions, protocol.Version1)
	require.Contains(t, parsedVersions, protocol.VersionDraft29)
}

func TestParseConnectionIDFromShortHeader(t *testing.T) {
	b := []byte{0x40, 1, 2, 3, 4, 5, 6, 7, 8, 0xaa, 0xbb}
	connID, err := ParseConnectionID(b, 8)
	require.NoError(t, err)
	require.Equal(t, protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}, connID)
}
