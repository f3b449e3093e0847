package quic

import (
	"errors"

	"github.com/quicsrv/quic/internal/handshake"
	"github.com/quicsrv/quic/internal/protocol"
)

type (
	// A StreamID is the ID of a QUIC stream.
	StreamID = protocol.StreamID
	// A Version is a QUIC version.
	Version = protocol.Version
	// A ConnectionID is a QUIC connection ID.
	ConnectionID = protocol.ConnectionID
	// A StatelessResetToken is attached to every connection ID we issue to the peer.
	StatelessResetToken = protocol.StatelessResetToken
	// A TokenProtectorKey is the key used to encrypt Retry and NEW_TOKEN
	// address validation tokens.
	TokenProtectorKey = handshake.TokenProtectorKey
	// The ConnectionState contains information about the connection's TLS session.
	ConnectionState = handshake.ConnectionState
)

// The supported QUIC versions.
const (
	Version1       = protocol.Version1
	VersionDraft29 = protocol.VersionDraft29
)

// StreamType says if a stream is unidirectional or bidirectional.
type StreamType = protocol.StreamType

const (
	// StreamTypeUni is a unidirectional stream
	StreamTypeUni = protocol.StreamTypeUni
	// StreamTypeBidi is a bidirectional stream
	StreamTypeBidi = protocol.StreamTypeBidi
)

// ErrWouldBlock is returned by Stream.Read and Stream.Write when the operation
// cannot make progress right now. The core never blocks; the host retries when
// the stream's readable / writable callback fires.
var ErrWouldBlock = errors.New("quic: operation would block")

// ErrTooManyOpenStreams is returned by OpenStream and OpenUniStream when the
// peer's stream limit doesn't allow opening another stream. A STREAMS_BLOCKED
// frame is queued; the host may retry after the peer raises the limit.
var ErrTooManyOpenStreams = errors.New("quic: too many open streams")
