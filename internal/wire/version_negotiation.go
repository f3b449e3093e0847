package wire

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/quicsrv/quic/internal/protocol"
)

// ParseVersionNegotiationPacket parses a Version Negotiation packet.
func ParseVersionNegotiationPacket(b []byte) (dest, src protocol.ConnectionID, _ []protocol.Version, _ error) {
	hdr, err := parseHeader(b)
	if err != nil {
		return nil, nil, nil, err
	}
	b = b[hdr.ParsedLen():]
	if len(b)%4 != 0 {
		return nil, nil, nil, errUnknownFrameType
	}
	versions := make([]protocol.Version, len(b)/4)
	for i := 0; len(b) > 0; i++ {
		versions[i] = protocol.Version(binary.BigEndian.Uint32(b[:4]))
		b = b[4:]
	}
	return hdr.DestConnectionID, hdr.SrcConnectionID, versions, nil
}

// ComposeVersionNegotiation composes a Version Negotiation
func ComposeVersionNegotiation(destConnID, srcConnID protocol.ConnectionID, versions []protocol.Version) []byte {
	greasedVersions := make([]protocol.Version, len(versions)+1)
	greasedVersions[0] = 0x0a1a2a3a // reserved version to make sure clients handle Version Negotiation correctly
	copy(greasedVersions[1:], versions)

	expectedLen := 1 /* type byte */ + 4 /* version field */ + 1 /* dest connection ID length field */ + destConnID.Len() + 1 /* src connection ID length field */ + srcConnID.Len() + len(greasedVersions)*4
	buf := make([]byte, 1, expectedLen)
	_, _ = rand.Read(buf) // ignore the error here. Failure to read random data doesn't break anything
	buf[0] |= 0xc0
	// The next 4 bytes are the version number, which is 0 for a Version Negotiation packet.
	buf = append(buf, 0, 0, 0, 0)
	buf = append(buf, uint8(destConnID.Len()))
	buf = append(buf, destConnID.Bytes()...)
	buf = append(buf, uint8(srcConnID.Len()))
	buf = append(buf, srcConnID.Bytes()...)
	for _, v := range greasedVersions {
		buf = binary.BigEndian.AppendUint32(buf, uint32(v))
	}
	return buf
}
