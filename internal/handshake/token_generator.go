package handshake

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/quicsrv/quic/internal/protocol"
)

// A Token is derived from the client address and can be used to verify the ownership of this address.
type Token struct {
	// IsRetryToken encodes how the client received the token. There are two ways:
	// * In a Retry packet sent when trying to establish a new connection.
	// * In a NEW_TOKEN frame on a previous connection.
	IsRetryToken bool
	SentTime     time.Time
	RemoteAddr   netip.Addr

	// Only set for Retry tokens. The server keeps no state between the Retry
	// and the post-Retry Initial, so both connection IDs travel in the token.
	OriginalDestConnectionID protocol.ConnectionID
	RetrySrcConnectionID     protocol.ConnectionID
}

// ValidateRemoteAddr validates the address the token was issued for.
func (t *Token) ValidateRemoteAddr(addr netip.AddrPort) bool {
	return t.RemoteAddr == addr.Addr().Unmap()
}

const (
	tokenTypeRetry byte = 1
	tokenTypeNew   byte = 2
)

// A TokenGenerator generates address validation tokens.
// The token binds the peer's IP address to a creation timestamp:
// type byte || IP length || IP bytes || 8-byte millisecond timestamp
// (|| both connection IDs, for Retry tokens),
// encrypted by the tokenProtector.
type TokenGenerator struct {
	tokenProtector *tokenProtector
}

// NewTokenGenerator initializes a new TokenGenerator
func NewTokenGenerator(key TokenProtectorKey) *TokenGenerator {
	return &TokenGenerator{tokenProtector: newTokenProtector(key)}
}

// NewRetryToken generates a new token for a given source address, to be sent in a Retry packet.
func (g *TokenGenerator) NewRetryToken(
	raddr netip.AddrPort,
	origDestConnID protocol.ConnectionID,
	retrySrcConnID protocol.ConnectionID,
	now time.Time,
) ([]byte, error) {
	data := encodeToken(tokenTypeRetry, raddr.Addr(), now)
	data = append(data, byte(origDestConnID.Len()))
	data = append(data, origDestConnID.Bytes()...)
	data = append(data, byte(retrySrcConnID.Len()))
	data = append(data, retrySrcConnID.Bytes()...)
	return g.tokenProtector.NewToken(data)
}

// NewToken generates a new token to be sent in a NEW_TOKEN frame.
func (g *TokenGenerator) NewToken(raddr netip.AddrPort, now time.Time) ([]byte, error) {
	return g.tokenProtector.NewToken(encodeToken(tokenTypeNew, raddr.Addr(), now))
}

// DecodeToken decodes a token.
func (g *TokenGenerator) DecodeToken(encrypted []byte) (*Token, error) {
	// if the client didn't send any token, DecodeToken will be called with a nil-slice
	if len(encrypted) == 0 {
		return nil, nil
	}

	data, err := g.tokenProtector.DecodeToken(encrypted)
	if err != nil {
		return nil, err
	}
	if len(data) < 2 {
		return nil, errors.New("token too short")
	}
	typ := data[0]
	if typ != tokenTypeRetry && typ != tokenTypeNew {
		return nil, fmt.Errorf("unknown token type: %d", typ)
	}
	ipLen := int(data[1])
	data = data[2:]
	if len(data) < ipLen+8 {
		return nil, errors.New("inconsistent token length")
	}
	ip, ok := netip.AddrFromSlice(data[:ipLen])
	if !ok {
		return nil, errors.New("invalid IP address in token")
	}
	ts := binary.BigEndian.Uint64(data[ipLen : ipLen+8])
	t := &Token{
		IsRetryToken: typ == tokenTypeRetry,
		RemoteAddr:   ip.Unmap(),
		SentTime:     time.UnixMilli(int64(ts)),
	}
	data = data[ipLen+8:]
	if typ == tokenTypeNew {
		if len(data) != 0 {
			return nil, errors.New("inconsistent token length")
		}
		return t, nil
	}
	t.OriginalDestConnectionID, data, err = readConnID(data)
	if err != nil {
		return nil, err
	}
	t.RetrySrcConnectionID, data, err = readConnID(data)
	if err != nil {
		return nil, err
	}
	if len(data) != 0 {
		return nil, errors.New("inconsistent token length")
	}
	return t, nil
}

func readConnID(data []byte) (protocol.ConnectionID, []byte, error) {
	if len(data) == 0 {
		return nil, nil, errors.New("token too short")
	}
	l := int(data[0])
	if l > protocol.MaxConnIDLen || len(data) < 1+l {
		return nil, nil, errors.New("invalid connection ID in token")
	}
	connID := make(protocol.ConnectionID, l)
	copy(connID, data[1:1+l])
	return connID, data[1+l:], nil
}

func encodeToken(typ byte, addr netip.Addr, now time.Time) []byte {
	ip := addr.Unmap().AsSlice()
	data := make([]byte, 0, 2+len(ip)+8)
	data = append(data, typ, byte(len(ip)))
	data = append(data, ip...)
	data = binary.BigEndian.AppendUint64(data, uint64(now.UnixMilli()))
	return data
}

// AddrPortFromNetAddr converts a net.Addr to a netip.AddrPort, if possible.
func AddrPortFromNetAddr(addr net.Addr) (netip.AddrPort, bool) {
	if udpAddr, ok := addr.(*net.UDPAddr); ok {
		return udpAddr.AddrPort(), true
	}
	return netip.AddrPort{}, false
}
