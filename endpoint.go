package quic

import (
	"crypto/rand"
	"errors"
	"net/netip"
	"time"

	"github.com/quicsrv/quic/internal/handshake"
	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/utils"
	"github.com/quicsrv/quic/internal/wire"
)

// An Endpoint terminates QUIC connections on top of a UDP socket owned by the
// host. The host feeds every received datagram into Process and owns all
// timers; the endpoint never blocks and performs no I/O besides the
// WriteDatagram callback.
type Endpoint struct {
	config *Config

	versions []protocol.Version

	conns map[string]*Connection // keyed by connection ID

	tokenGenerator    *handshake.TokenGenerator // nil when no token key is configured
	statelessResetter *statelessResetter

	rand utils.Rand

	logger utils.Logger
}

var _ connRunner = &Endpoint{}

// NewEndpoint creates a new server endpoint.
func NewEndpoint(conf *Config) (*Endpoint, error) {
	if err := validateConfig(conf); err != nil {
		return nil, err
	}
	if conf.RequireAddressValidation && conf.TokenKey == nil {
		return nil, errors.New("quic: config: TokenKey is required when RequireAddressValidation is set")
	}
	config := populateConfig(conf)
	e := &Endpoint{
		config:            config,
		versions:          config.Versions,
		conns:             make(map[string]*Connection),
		statelessResetter: newStatelessResetter(config.StatelessResetKey),
		logger:            utils.DefaultLogger.WithPrefix("endpoint "),
	}
	if config.TokenKey != nil {
		e.tokenGenerator = handshake.NewTokenGenerator(*config.TokenKey)
	}
	return e, nil
}

// AddConnectionID registers a connection ID for packet routing.
func (e *Endpoint) AddConnectionID(connID protocol.ConnectionID, c *Connection) {
	e.conns[string(connID.Bytes())] = c
}

// RemoveConnectionID removes a connection ID from packet routing.
func (e *Endpoint) RemoveConnectionID(connID protocol.ConnectionID) {
	delete(e.conns, string(connID.Bytes()))
}

// Close closes all connections with NO_ERROR.
func (e *Endpoint) Close() {
	for _, c := range e.uniqueConns() {
		c.CloseWithError(0, "")
	}
}

// NextDeadline returns the earliest time OnTimer must be called, over all
// connections. It returns the zero time if no timer is armed.
func (e *Endpoint) NextDeadline() time.Time {
	var deadline time.Time
	for _, c := range e.uniqueConns() {
		if t := c.NextDeadline(); !t.IsZero() && (deadline.IsZero() || t.Before(deadline)) {
			deadline = t
		}
	}
	return deadline
}

// OnTimer runs the timer-driven work of every connection that is due.
func (e *Endpoint) OnTimer(now time.Time) {
	for _, c := range e.uniqueConns() {
		c.OnTimer(now)
	}
}

func (e *Endpoint) uniqueConns() []*Connection {
	seen := make(map[*Connection]struct{}, len(e.conns))
	conns := make([]*Connection, 0, len(e.conns))
	for _, c := range e.conns {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		conns = append(conns, c)
	}
	return conns
}

// Process ingests one incoming UDP datagram. Outgoing datagrams it provokes
// (including version negotiation packets, Retry packets and stateless resets
// for unknown connections) are handed to the WriteDatagram callback before
// Process returns.
func (e *Endpoint) Process(now time.Time, remote netip.AddrPort, data []byte) {
	if len(data) == 0 {
		return
	}
	connID, err := wire.ParseConnectionID(data, protocol.ConnectionIDLen)
	if err != nil {
		e.logger.Debugf("error parsing connection ID on packet from %s: %s", remote, err)
		return
	}
	if c, ok := e.conns[string(connID.Bytes())]; ok {
		c.handleDatagram(now, data)
		return
	}

	if !wire.IsLongHeaderPacket(data[0]) {
		// a short header packet for a connection we don't know:
		// answer with a stateless reset
		e.maybeSendStatelessReset(remote, connID, len(data))
		return
	}

	version, err := wire.ParseVersion(data)
	if err != nil {
		return
	}
	if !protocol.IsSupportedVersion(e.versions, version) {
		e.maybeSendVersionNegotiation(remote, data)
		return
	}

	hdr, _, _, err := wire.ParsePacket(data)
	if err != nil {
		e.logger.Debugf("error parsing packet from %s: %s", remote, err)
		return
	}
	if hdr.Type != protocol.PacketTypeInitial {
		// drop: long header packets other than Initial can't create a connection
		return
	}
	if hdr.DestConnectionID.Len() < protocol.MinConnectionIDLenInitial {
		e.logger.Debugf("dropping Initial packet with short destination connection ID")
		return
	}
	if len(data) < protocol.MinInitialPacketSize {
		e.logger.Debugf("dropping too small Initial packet (%d bytes)", len(data))
		return
	}
	e.handleFirstInitial(now, remote, hdr, version, data)
}

func (e *Endpoint) handleFirstInitial(now time.Time, remote netip.AddrPort, hdr *wire.Header, version protocol.Version, data []byte) {
	origDestConnID := hdr.DestConnectionID
	var retrySrcConnID protocol.ConnectionID
	var validated, tokenInvalid bool

	if e.tokenGenerator != nil && len(hdr.Token) > 0 {
		token, err := e.tokenGenerator.DecodeToken(hdr.Token)
		switch {
		case err != nil:
			// an undecryptable token in an Initial packet
			tokenInvalid = true
		case token.IsRetryToken:
			if !token.ValidateRemoteAddr(remote) ||
				now.Sub(token.SentTime) > e.config.RetryTokenLifetime ||
				!hdr.DestConnectionID.Equal(token.RetrySrcConnectionID) {
				tokenInvalid = true
				break
			}
			origDestConnID = token.OriginalDestConnectionID
			retrySrcConnID = token.RetrySrcConnectionID
			validated = true
		default: // a token from a NEW_TOKEN frame
			// invalid NEW_TOKEN tokens are ignored, the client just doesn't
			// skip address validation
			if token.ValidateRemoteAddr(remote) && now.Sub(token.SentTime) <= e.config.TokenLifetime {
				validated = true
			}
		}
	}

	if e.config.RequireAddressValidation && !validated && !tokenInvalid {
		// at most one Retry per connection attempt: a client presenting an
		// (even expired) Retry token is not asked again
		if err := e.sendRetry(now, remote, hdr, version); err != nil {
			e.logger.Errorf("error sending Retry to %s: %s", remote, err)
		}
		return
	}

	srcConnID, err := protocol.GenerateConnectionID(protocol.ConnectionIDLen)
	if err != nil {
		e.logger.Errorf("error generating connection ID: %s", err)
		return
	}
	c := newConnection(
		e,
		e.config,
		remote,
		origDestConnID,
		hdr.DestConnectionID,
		hdr.SrcConnectionID,
		srcConnID,
		retrySrcConnID,
		e.statelessResetter,
		e.tokenGenerator,
		validated,
		version,
		now,
	)
	e.AddConnectionID(srcConnID, c)
	e.AddConnectionID(hdr.DestConnectionID, c)

	if tokenInvalid {
		// the Retry token did not check out; tell the client so it can retry
		// from scratch
		c.closeLocal(&qerr.TransportError{
			ErrorCode:    qerr.InvalidToken,
			ErrorMessage: "invalid address validation token",
		}, now)
		return
	}

	if err := c.startHandshake(now); err != nil {
		c.closeLocal(err, now)
		return
	}
	c.handleDatagram(now, data)
}

func (e *Endpoint) sendRetry(now time.Time, remote netip.AddrPort, hdr *wire.Header, version protocol.Version) error {
	// The client must present the token together with the connection ID we
	// chose here. Both connection IDs travel inside the token, the Retry
	// itself leaves no state behind.
	retrySrcConnID, err := protocol.GenerateConnectionID(protocol.ConnectionIDLen)
	if err != nil {
		return err
	}
	token, err := e.tokenGenerator.NewRetryToken(remote, hdr.DestConnectionID, retrySrcConnID, now)
	if err != nil {
		return err
	}
	replyHdr := &wire.ExtendedHeader{}
	replyHdr.Type = protocol.PacketTypeRetry
	replyHdr.Version = version
	replyHdr.SrcConnectionID = retrySrcConnID
	replyHdr.DestConnectionID = hdr.SrcConnectionID
	replyHdr.Token = token
	if e.logger.Debug() {
		e.logger.Debugf("Changing connection ID to %s.", retrySrcConnID)
		e.logger.Debugf("-> Sending Retry")
	}
	buf := make([]byte, 0, 1+4+2*(1+protocol.MaxConnIDLen)+len(token)+16)
	buf, err = replyHdr.Append(buf, version)
	if err != nil {
		return err
	}
	// append the Retry integrity tag
	tag := handshake.GetRetryIntegrityTag(buf, hdr.DestConnectionID, version)
	buf = append(buf, tag[:]...)
	e.config.WriteDatagram(remote, buf)
	return nil
}

func (e *Endpoint) maybeSendVersionNegotiation(remote netip.AddrPort, data []byte) {
	// Small packets with an unknown version may be an off-path attacker's
	// probes; a real client's first flight is at least 1200 bytes.
	if len(data) < protocol.MinUnknownVersionPacketSize {
		return
	}
	hdr, _, _, err := wire.ParsePacket(data)
	if err != nil && !errors.Is(err, wire.ErrUnsupportedVersion) {
		return
	}
	if hdr == nil {
		return
	}
	e.logger.Debugf("Client offered version %s, sending Version Negotiation", hdr.Version)
	e.config.WriteDatagram(remote, wire.ComposeVersionNegotiation(hdr.SrcConnectionID, hdr.DestConnectionID, e.versions))
}

// maybeSendStatelessReset answers a short header packet for an unknown
// connection ID with a stateless reset: a random packet whose trailing 16
// bytes are the reset token for that connection ID.
func (e *Endpoint) maybeSendStatelessReset(remote netip.AddrPort, connID protocol.ConnectionID, receivedLen int) {
	if !e.statelessResetter.Enabled() {
		return
	}
	// Don't reply to packets too small to be a valid stateless reset
	// themselves; this also breaks reset loops between two endpoints.
	if receivedLen < protocol.MinReceivedStatelessResetSize {
		return
	}
	token := e.statelessResetter.GetStatelessResetToken(connID)

	// Random length in [21, 1200], biased towards up to three times the size
	// of the packet we received, so the reset doesn't stand out.
	maxLen := min(3*receivedLen, protocol.MinInitialPacketSize)
	if maxLen <= protocol.MinStatelessResetSize {
		maxLen = protocol.MinStatelessResetSize + 1
	}
	l := protocol.MinStatelessResetSize + int(e.rand.Int31n(int32(maxLen-protocol.MinStatelessResetSize+1)))
	data := make([]byte, l)
	rand.Read(data[:l-16])
	data[0] = (data[0] & 0x7f) | 0x40 // short header with the fixed bit set
	copy(data[l-16:], token[:])
	e.logger.Debugf("Sending stateless reset to %s (connection ID: %s)", remote, connID)
	e.config.WriteDatagram(remote, data)
}
