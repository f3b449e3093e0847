package protocol

import "time"

// DesiredReceiveBufferSize is the kernel UDP receive buffer size that we'd like to use.
const DesiredReceiveBufferSize = (1 << 20) * 2 // 2 MB

// InitialPacketSize is the initial (before Path MTU discovery) maximum packet size used.
const InitialPacketSize = 1280

// MaxCongestionWindowPackets is the maximum congestion window in packets.
const MaxCongestionWindowPackets = 10000

// DefaultMaxCongestionWindow is the default for the max congestion window
const DefaultMaxCongestionWindow ByteCount = 2 * 1024 * 1024

// InitialCongestionWindow is the initial congestion window in QUIC packets
const InitialCongestionWindow = 32

// DefaultStreamReceiveWindow is the size of the per-stream receive ring buffer.
// Data the peer sends beyond this window without the consumer draining the ring
// is a flow control violation.
const DefaultStreamReceiveWindow ByteCount = 1 << 16 // 64 kB

// DefaultConnectionReceiveWindow is the initial connection-level flow control window.
const DefaultConnectionReceiveWindow ByteCount = 1 << 18 // 256 kB

// MaxStreamSendBuffer is the maximum amount of stream data buffered but not yet
// acknowledged on the send side, per stream.
const MaxStreamSendBuffer ByteCount = 1 << 16 // 64 kB

// MaxCryptoStreamOffset is the maximum offset allowed on any of the crypto streams.
// Bytes are only counted against this limit while they are buffered out-of-order.
const MaxCryptoStreamOffset ByteCount = 1 << 16

// DefaultMaxIncomingStreams is the default maximum number of peer-initiated
// bidirectional streams.
const DefaultMaxIncomingStreams = 100

// DefaultMaxIncomingUniStreams is the default maximum number of peer-initiated
// unidirectional streams.
const DefaultMaxIncomingUniStreams = 100

// DefaultIdleTimeout is the default idle timeout
const DefaultIdleTimeout = 30 * time.Second

// MinRemoteIdleTimeout is the minimum value that we accept for the remote idle timeout
const MinRemoteIdleTimeout = 5 * time.Second

// DefaultHandshakeIdleTimeout is the default idle timeout used before handshake completion.
const DefaultHandshakeIdleTimeout = 5 * time.Second

// MaxAckRanges is the number of ACK ranges tracked per packet number space.
// When the array is full, the oldest range is evicted and an ACK of the
// remaining ranges is queued right away.
const MaxAckRanges = 32

// MaxAckGap is the number of ack-eliciting packets received before an ACK is sent
// without further delay.
const MaxAckGap = 2

// MaxAckDelay is the default maximum time by which we delay sending ACKs.
const MaxAckDelay = 25 * time.Millisecond

// DefaultAckDelayExponent is the default exponent used for decoding the ACK delay field.
const DefaultAckDelayExponent = 3

// MaxAckDelayExponent is the maximum ack_delay_exponent accepted from the peer.
const MaxAckDelayExponent = 20

// PacketThreshold is the maximum reordering in packets before packet threshold
// loss detection considers a packet lost.
const PacketThreshold = 3

// TimeThresholdNumerator and TimeThresholdDenominator express the 9/8 RTT
// multiplier for time threshold loss detection, as integer math.
const (
	TimeThresholdNumerator   = 9
	TimeThresholdDenominator = 8
)

// AmplificationFactor: before validating the client's address, the server won't
// send more than this multiple of the bytes it received.
const AmplificationFactor = 3

// ConnectionIDLen is the length of connection IDs issued by this endpoint.
const ConnectionIDLen = 16

// MinConnectionIDLenInitial is the minimum length of the destination connection ID
// on an Initial packet.
const MinConnectionIDLenInitial = 8

// MaxConnIDLen is the maximum connection ID length allowed by QUIC v1.
const MaxConnIDLen = 20

// MaxActiveConnectionIDs is the number of connection IDs we're willing to keep
// track of per peer.
const MaxActiveConnectionIDs = 4

// MaxIssuedConnectionIDs is the maximum number of connection IDs we issue to the peer.
const MaxIssuedConnectionIDs = 6

// RetiredConnectionIDDeleteTimeout is how long a retired connection ID is kept
// routable before it is removed.
const RetiredConnectionIDDeleteTimeout = 5 * time.Second

// DefaultRetryTokenLifetime is how long a Retry token is considered valid.
const DefaultRetryTokenLifetime = 30 * time.Second

// DefaultTokenLifetime is how long a NEW_TOKEN token is considered valid.
const DefaultTokenLifetime = 24 * time.Hour

// DefaultCCMinInterval is the minimum interval between two CONNECTION_CLOSE
// packets sent while in the closing state.
const DefaultCCMinInterval = 100 * time.Millisecond

// MinStreamFrameSize is the minimum size that we'll allow a STREAM frame to have.
const MinStreamFrameSize ByteCount = 128

// MinCoalescedPacketSize is the minimum size of a coalesced packet.
const MinCoalescedPacketSize ByteCount = 128

// MaxStreamFrameSorterGaps is the maximum number of gaps between received
// stream segments buffered for reassembly.
const MaxStreamFrameSorterGaps = 1000

// MaxOutstandingSentPackets is the maximum number of in-flight packets before
// the send path stops producing new ack-eliciting packets.
const MaxOutstandingSentPackets = 2048

// MaxNonAckElicitingAcks is the maximum number of packets containing only ACKs
// sent in a row.
const MaxNonAckElicitingAcks = 19

// KeyUpdateInterval is the maximum number of packets sealed with one key phase.
const KeyUpdateInterval = 100 * 1000

// KeyPhaseUndecryptablePacketTolerance is how many undecryptable 1-RTT packets
// we tolerate before suspecting a lost key update.
const KeyPhaseUndecryptablePacketTolerance = 5

// InvalidPacketLimitAES is the maximum number of packets that we can fail to decrypt
// when using AEAD_AES_128_GCM or AEAD_AES_265_GCM.
const InvalidPacketLimitAES = 1 << 52

// InvalidPacketLimitChaCha is the maximum number of packets that we can fail to decrypt
// when using AEAD_CHACHA20_POLY1305.
const InvalidPacketLimitChaCha = 1 << 36
