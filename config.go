package quic

import (
	"crypto/tls"
	"errors"
	"net/netip"
	"time"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/logging"
)

// Config contains all configuration for an Endpoint.
// It is passed to NewEndpoint and must not be modified afterwards.
type Config struct {
	// TLSConfig is the TLS configuration used for the handshake.
	// It is required; NextProtos should list the supported ALPN protocols.
	TLSConfig *tls.Config

	// Versions lists the accepted QUIC versions, in order of preference.
	// If empty, all supported versions are accepted.
	Versions []Version

	// RequireAddressValidation makes the endpoint send a Retry packet in
	// response to the first Initial of every connection attempt.
	RequireAddressValidation bool

	// TokenKey is the key used to encrypt Retry and NEW_TOKEN tokens.
	// Required when RequireAddressValidation is set; when nil, no tokens are
	// issued or accepted. Sharing the key across endpoints allows tokens
	// issued by one endpoint to be validated by another.
	TokenKey *TokenProtectorKey

	// StatelessResetKey enables stateless reset handling: tokens are derived
	// from it and advertised with every connection ID, and short header
	// packets for unknown connection IDs are answered with a stateless reset.
	StatelessResetKey *StatelessResetKey

	// RequireALPN closes connections that complete the handshake without
	// negotiating an application protocol.
	RequireALPN bool

	// MaxIdleTimeout is the idle timeout after the handshake. The effective
	// value is the minimum of this and the peer's max_idle_timeout.
	MaxIdleTimeout time.Duration

	// HandshakeIdleTimeout is how long a connection may take to complete the
	// handshake before it is abandoned.
	HandshakeIdleTimeout time.Duration

	// RetryTokenLifetime is the validity period of Retry tokens.
	RetryTokenLifetime time.Duration

	// TokenLifetime is the validity period of NEW_TOKEN tokens.
	TokenLifetime time.Duration

	// CCMinInterval is the minimum interval between CONNECTION_CLOSE packets
	// sent in response to incoming packets while closing.
	CCMinInterval time.Duration

	// PacketThreshold overrides the packet reordering threshold for loss
	// detection. Zero uses the default of 3.
	PacketThreshold int64

	// TimeThresholdNumerator and TimeThresholdDenominator override the RTT
	// multiplier for time threshold loss detection. Zero uses the default 9/8.
	TimeThresholdNumerator   int64
	TimeThresholdDenominator int64

	// TimerGranularity overrides the granularity floor used for PTO and loss
	// timer computations. Zero uses the default of 1ms.
	TimerGranularity time.Duration

	InitialStreamReceiveWindow     uint64
	InitialConnectionReceiveWindow uint64

	// MaxIncomingStreams is the maximum number of concurrent peer-initiated
	// bidirectional streams. Zero uses the default; a negative value allows
	// no peer-initiated bidirectional streams.
	MaxIncomingStreams int64
	// MaxIncomingUniStreams is the same limit for unidirectional streams.
	MaxIncomingUniStreams int64

	// WriteDatagram is called for every outgoing datagram. It is required.
	// The callback must not retain b past its return.
	WriteDatagram func(remote netip.AddrPort, b []byte)

	// OnConnection is called when a connection completes its handshake.
	OnConnection func(*Connection)

	// Tracer creates a connection tracer for every new connection, keyed by
	// the original destination connection ID. It may return nil.
	Tracer func(odcid ConnectionID) logging.ConnectionTracer
}

func validateConfig(config *Config) error {
	if config == nil {
		return errors.New("quic: config is required")
	}
	if config.TLSConfig == nil {
		return errors.New("quic: config: TLSConfig is required")
	}
	if config.WriteDatagram == nil {
		return errors.New("quic: config: WriteDatagram is required")
	}
	if config.MaxIncomingStreams > 1<<60 || config.MaxIncomingUniStreams > 1<<60 {
		return errors.New("quic: config: invalid stream limit")
	}
	return nil
}

// populateConfig fills in default values. It doesn't modify the passed config.
func populateConfig(config *Config) *Config {
	c := *config
	if len(c.Versions) == 0 {
		c.Versions = protocol.SupportedVersions
	}
	if c.MaxIdleTimeout == 0 {
		c.MaxIdleTimeout = protocol.DefaultIdleTimeout
	}
	if c.HandshakeIdleTimeout == 0 {
		c.HandshakeIdleTimeout = protocol.DefaultHandshakeIdleTimeout
	}
	if c.RetryTokenLifetime == 0 {
		c.RetryTokenLifetime = protocol.DefaultRetryTokenLifetime
	}
	if c.TokenLifetime == 0 {
		c.TokenLifetime = protocol.DefaultTokenLifetime
	}
	if c.CCMinInterval == 0 {
		c.CCMinInterval = protocol.DefaultCCMinInterval
	}
	if c.InitialStreamReceiveWindow == 0 {
		c.InitialStreamReceiveWindow = uint64(protocol.DefaultStreamReceiveWindow)
	}
	if c.InitialConnectionReceiveWindow == 0 {
		c.InitialConnectionReceiveWindow = uint64(protocol.DefaultConnectionReceiveWindow)
	}
	if c.MaxIncomingStreams == 0 {
		c.MaxIncomingStreams = protocol.DefaultMaxIncomingStreams
	} else if c.MaxIncomingStreams < 0 {
		c.MaxIncomingStreams = 0
	}
	if c.MaxIncomingUniStreams == 0 {
		c.MaxIncomingUniStreams = protocol.DefaultMaxIncomingUniStreams
	} else if c.MaxIncomingUniStreams < 0 {
		c.MaxIncomingUniStreams = 0
	}
	return &c
}
