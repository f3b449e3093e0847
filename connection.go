package quic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"golang.org/x/time/rate"

	"github.com/quicsrv/quic/internal/ackhandler"
	"github.com/quicsrv/quic/internal/flowcontrol"
	"github.com/quicsrv/quic/internal/handshake"
	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/utils"
	"github.com/quicsrv/quic/internal/wire"
	"github.com/quicsrv/quic/logging"
)

// A connRunner is the part of the Endpoint a connection talks back to:
// registration of connection IDs for packet routing.
type connRunner interface {
	AddConnectionID(protocol.ConnectionID, *Connection)
	RemoveConnectionID(protocol.ConnectionID)
}

type connState uint8

const (
	connStateHandshaking connState = iota
	connStateOpen
	connStateClosing  // we sent a CONNECTION_CLOSE
	connStateDraining // the peer sent a CONNECTION_CLOSE, or we detected a stateless reset
	connStateDestroyed
)

// A Connection is a QUIC connection between the server and one client.
//
// All connection state is driven by the host's event loop: incoming datagrams
// enter through Endpoint.Process, timers through OnTimer. No internal locking
// is performed; all calls for one connection must be serialized.
type Connection struct {
	runner connRunner
	config *Config

	version    protocol.Version
	remoteAddr netip.AddrPort
	state      connState

	origDestConnID      protocol.ConnectionID // the DCID of the client's very first Initial
	clientDestConnID    protocol.ConnectionID // the DCID the client currently addresses us with during the handshake
	handshakeDestConnID protocol.ConnectionID // the client's SCID
	retrySrcConnID      protocol.ConnectionID // the SCID of our Retry, if one was sent

	srcConnIDs  *connIDGenerator
	destConnIDs *connIDManager

	cryptoSetup         handshake.CryptoSetup
	cryptoStreamManager *cryptoStreamManager
	initialStream       *cryptoStream
	handshakeStream     *cryptoStream
	oneRTTStream        *cryptoStream

	rttStats              *utils.RTTStats
	sentPacketHandler     ackhandler.SentPacketHandler
	receivedPacketHandler ackhandler.ReceivedPacketHandler

	connFlowController  flowcontrol.ConnectionFlowController
	streams             *streamsMap
	framer              *framer
	windowUpdateQueue   *windowUpdateQueue
	retransmissionQueue *retransmissionQueue

	frameParser *wire.FrameParser
	unpacker    *packetUnpacker
	packer      *packetPacker

	tokenGenerator *handshake.TokenGenerator // nil when address validation is disabled

	peerParams *wire.TransportParameters

	mtu protocol.ByteCount // maximum datagram size negotiated with the peer

	receivedFirstPacket bool
	droppedInitialKeys  bool
	handshakeComplete   bool
	// handshakeCompletePending defers the completion work until the packet
	// that finished the handshake was fully processed: completing drops the
	// Handshake packet number space, which must not happen mid-packet.
	handshakeCompletePending bool
	idleTimeout              time.Duration
	creationTime             time.Time
	lastActivity             time.Time

	closeErr      error
	closingPacket []byte
	closeDeadline time.Time
	closeLimiter  *rate.Limiter

	// processing is set while an incoming datagram or timer event is handled;
	// sends requested by stream operations during that window are coalesced
	// into a single flush at the end of the event. eventNow is the
	// host-supplied time of that event, so that work triggered from inside it
	// never needs to consult the wall clock.
	processing bool
	eventNow   time.Time

	logger utils.Logger
	tracer logging.ConnectionTracer
}

var errConnectionClosed = errors.New("connection closed")

func newConnection(
	runner connRunner,
	config *Config,
	remoteAddr netip.AddrPort,
	origDestConnID protocol.ConnectionID,
	clientDestConnID protocol.ConnectionID,
	destConnID protocol.ConnectionID, // the client's SCID
	srcConnID protocol.ConnectionID,
	retrySrcConnID protocol.ConnectionID,
	statelessResetter *statelessResetter,
	tokenGenerator *handshake.TokenGenerator,
	clientAddressValidated bool,
	version protocol.Version,
	now time.Time,
) *Connection {
	logger := utils.DefaultLogger.WithPrefix(fmt.Sprintf("server %s ", origDestConnID))
	var tracer logging.ConnectionTracer
	if config.Tracer != nil {
		tracer = config.Tracer(origDestConnID)
	}
	c := &Connection{
		runner:              runner,
		config:              config,
		version:             version,
		remoteAddr:          remoteAddr,
		origDestConnID:      origDestConnID,
		clientDestConnID:    clientDestConnID,
		handshakeDestConnID: destConnID,
		retrySrcConnID:      retrySrcConnID,
		tokenGenerator:      tokenGenerator,
		rttStats:            &utils.RTTStats{},
		idleTimeout:         config.MaxIdleTimeout,
		creationTime:        now,
		lastActivity:        now,
		mtu:                 protocol.InitialPacketSize,
		closeLimiter:        rate.NewLimiter(rate.Every(config.CCMinInterval), 1),
		logger:              logger,
		tracer:              tracer,
	}
	c.destConnIDs = newConnIDManager(destConnID, c.queueControlFrame)
	c.srcConnIDs = newConnIDGenerator(
		srcConnID,
		func(connID protocol.ConnectionID) { runner.AddConnectionID(connID, c) },
		runner.RemoveConnectionID,
		func(connID protocol.ConnectionID) (protocol.StatelessResetToken, bool) {
			if !statelessResetter.Enabled() {
				return protocol.StatelessResetToken{}, false
			}
			return statelessResetter.GetStatelessResetToken(connID), true
		},
		c.queueControlFrame,
	)
	if config.TimerGranularity > 0 {
		c.rttStats.SetTimerGranularity(config.TimerGranularity)
	}
	c.sentPacketHandler, c.receivedPacketHandler = ackhandler.NewAckHandler(
		0,
		c.rttStats,
		clientAddressValidated,
		protocol.PerspectiveServer,
		tracer,
		logger,
	)
	if sph, ok := c.sentPacketHandler.(interface {
		SetThresholds(protocol.PacketNumber, time.Duration, time.Duration)
	}); ok {
		sph.SetThresholds(
			protocol.PacketNumber(config.PacketThreshold),
			time.Duration(config.TimeThresholdNumerator),
			time.Duration(config.TimeThresholdDenominator),
		)
	}
	c.connFlowController = flowcontrol.NewConnectionFlowController(
		protocol.ByteCount(config.InitialConnectionReceiveWindow),
		protocol.ByteCount(config.InitialConnectionReceiveWindow)*4,
		logger,
	)
	c.streams = newStreamsMap(
		c,
		c.newStreamFlowController,
		protocol.ByteCount(config.InitialStreamReceiveWindow),
		protocol.StreamNum(config.MaxIncomingStreams),
		protocol.StreamNum(config.MaxIncomingUniStreams),
		version,
	)
	c.framer = newFramer(c.streams.GetStream)
	c.windowUpdateQueue = newWindowUpdateQueue(c.streams.GetStream, c.connFlowController, c.framer.QueueControlFrame)
	c.retransmissionQueue = newRetransmissionQueue()
	c.frameParser = wire.NewFrameParser()
	c.initialStream = newCryptoStream()
	c.handshakeStream = newCryptoStream()
	c.oneRTTStream = newCryptoStream()
	c.cryptoStreamManager = newCryptoStreamManager(c.initialStream, c.handshakeStream, c.oneRTTStream)

	params := c.transportParameters(srcConnID, statelessResetter)
	c.cryptoSetup = handshake.NewCryptoSetupServer(
		clientDestConnID,
		params,
		config.TLSConfig,
		c.rttStats,
		tracer,
		logger,
		version,
	)
	c.unpacker = newPacketUnpacker(c.cryptoSetup, srcConnID.Len())
	c.packer = newPacketPacker(
		srcConnID,
		c.destConnIDs.Get,
		c.initialStream,
		c.handshakeStream,
		c.oneRTTStream,
		c.sentPacketHandler,
		c.cryptoSetup,
		c.framer,
		c.receivedPacketHandler,
		c.retransmissionQueue,
		c.onAppDataFrameLost,
		version,
	)

	if tracer != nil {
		tracer.StartedConnection(nil, net.UDPAddrFromAddrPort(remoteAddr), srcConnID, destConnID)
		tracer.SentTransportParameters(params)
	}
	return c
}

func (c *Connection) transportParameters(srcConnID protocol.ConnectionID, statelessResetter *statelessResetter) *wire.TransportParameters {
	params := &wire.TransportParameters{
		InitialMaxStreamDataBidiLocal:   protocol.ByteCount(c.config.InitialStreamReceiveWindow),
		InitialMaxStreamDataBidiRemote:  protocol.ByteCount(c.config.InitialStreamReceiveWindow),
		InitialMaxStreamDataUni:         protocol.ByteCount(c.config.InitialStreamReceiveWindow),
		InitialMaxData:                  protocol.ByteCount(c.config.InitialConnectionReceiveWindow),
		MaxIdleTimeout:                  c.config.MaxIdleTimeout,
		MaxBidiStreamNum:                protocol.StreamNum(c.config.MaxIncomingStreams),
		MaxUniStreamNum:                 protocol.StreamNum(c.config.MaxIncomingUniStreams),
		MaxAckDelay:                     protocol.MaxAckDelay,
		AckDelayExponent:                protocol.DefaultAckDelayExponent,
		MaxUDPPayloadSize:               protocol.MaxPacketBufferSize,
		DisableActiveMigration:          true,
		ActiveConnectionIDLimit:         protocol.MaxActiveConnectionIDs,
		OriginalDestinationConnectionID: c.origDestConnID,
		InitialSourceConnectionID:       srcConnID,
	}
	if c.retrySrcConnID != nil {
		retrySrcConnID := c.retrySrcConnID
		params.RetrySourceConnectionID = &retrySrcConnID
	}
	if statelessResetter.Enabled() {
		token := statelessResetter.GetStatelessResetToken(srcConnID)
		params.StatelessResetToken = &token
	}
	return params
}

// startHandshake kicks off the TLS handshake machinery. It must be called
// once, before the first datagram is processed.
func (c *Connection) startHandshake(now time.Time) error {
	if err := c.cryptoSetup.StartHandshake(context.Background()); err != nil {
		return err
	}
	return c.handleHandshakeEvents(now)
}

func (c *Connection) newStreamFlowController(id protocol.StreamID) flowcontrol.StreamFlowController {
	var initialSendWindow protocol.ByteCount
	if c.peerParams != nil {
		if id.Type() == protocol.StreamTypeUni {
			initialSendWindow = c.peerParams.InitialMaxStreamDataUni
		} else if id.InitiatedBy() == protocol.PerspectiveClient {
			// the peer opened the stream, so its _local_ limit applies to our sending direction
			initialSendWindow = c.peerParams.InitialMaxStreamDataBidiLocal
		} else {
			initialSendWindow = c.peerParams.InitialMaxStreamDataBidiRemote
		}
	}
	return flowcontrol.NewStreamFlowController(
		id,
		c.connFlowController,
		protocol.ByteCount(c.config.InitialStreamReceiveWindow),
		initialSendWindow,
		c.logger,
	)
}

// RemoteAddr returns the address of the client.
func (c *Connection) RemoteAddr() netip.AddrPort { return c.remoteAddr }

// ConnectionState returns information about the TLS session.
func (c *Connection) ConnectionState() ConnectionState { return c.cryptoSetup.ConnectionState() }

// OpenStream opens a new server-initiated bidirectional stream.
func (c *Connection) OpenStream() (*Stream, error) {
	if c.state >= connStateClosing {
		return nil, errConnectionClosed
	}
	return c.streams.OpenStream()
}

// OpenUniStream opens a new server-initiated unidirectional stream.
func (c *Connection) OpenUniStream() (*Stream, error) {
	if c.state >= connStateClosing {
		return nil, errConnectionClosed
	}
	return c.streams.OpenUniStream()
}

// AcceptStream returns the next client-initiated bidirectional stream, or nil
// if none is pending.
func (c *Connection) AcceptStream() *Stream { return c.streams.AcceptStream() }

// AcceptUniStream returns the next client-initiated unidirectional stream, or
// nil if none is pending.
func (c *Connection) AcceptUniStream() *Stream { return c.streams.AcceptUniStream() }

// CloseWithError closes the connection with an application error.
func (c *Connection) CloseWithError(code ApplicationErrorCode, reason string) {
	c.close(&qerr.ApplicationError{ErrorCode: code, ErrorMessage: reason}, c.currentTime())
}

// handleDatagram processes one incoming UDP datagram.
func (c *Connection) handleDatagram(now time.Time, data []byte) {
	if c.state == connStateDestroyed {
		return
	}
	if c.state == connStateClosing {
		// answer all incoming packets with the CONNECTION_CLOSE, rate-limited
		if c.closingPacket != nil && c.closeLimiter.AllowN(now, 1) {
			c.config.WriteDatagram(c.remoteAddr, c.closingPacket)
		}
		return
	}
	if c.state == connStateDraining {
		return
	}

	c.processing = true
	c.eventNow = now
	defer func() {
		c.processing = false
		if c.state == connStateHandshaking || c.state == connStateOpen {
			c.triggerSending(now)
		}
	}()

	c.sentPacketHandler.ReceivedBytes(protocol.ByteCount(len(data)), now)

	var processed bool
	for len(data) > 0 {
		if !wire.IsLongHeaderPacket(data[0]) {
			if c.handleShortHeaderPacket(now, data) {
				processed = true
			}
			break
		}
		hdr, packetData, rest, err := wire.ParsePacket(data)
		if err != nil {
			// a malformed packet abandons the rest of the datagram
			if c.tracer != nil {
				c.tracer.DroppedPacket(logging.PacketTypeNotDetermined, protocol.ByteCount(len(data)), logging.PacketDropHeaderParseError)
			}
			break
		}
		if c.handleLongHeaderPacket(now, hdr, packetData) {
			processed = true
		}
		data = rest
		if c.state >= connStateClosing {
			return
		}
	}
	if processed {
		c.lastActivity = now
	}
}

func (c *Connection) handleLongHeaderPacket(now time.Time, hdr *wire.Header, data []byte) bool {
	if hdr.Type == protocol.PacketTypeRetry || hdr.Version != c.version {
		if c.tracer != nil {
			c.tracer.DroppedPacket(logging.PacketTypeNotDetermined, protocol.ByteCount(len(data)), logging.PacketDropUnexpectedPacket)
		}
		return false
	}
	if hdr.Type == protocol.PacketTypeInitial && c.receivedFirstPacket &&
		!hdr.SrcConnectionID.Equal(c.handshakeDestConnID) {
		// the client is not allowed to change its source connection ID
		if c.tracer != nil {
			c.tracer.DroppedPacket(logging.PacketTypeInitial, protocol.ByteCount(len(data)), logging.PacketDropUnknownConnectionID)
		}
		return false
	}

	packet, err := c.unpacker.UnpackLongHeader(hdr, data)
	if err != nil {
		c.handleUnpackError(err, protocol.ByteCount(len(data)), now)
		return false
	}
	pn := packet.hdr.PacketNumber
	encLevel := packet.encryptionLevel
	if c.receivedPacketHandler.IsPotentiallyDuplicate(pn, encLevel) {
		if c.tracer != nil {
			c.tracer.DroppedPacket(logging.PacketTypeNotDetermined, protocol.ByteCount(len(data)), logging.PacketDropDuplicate)
		}
		return false
	}

	c.receivedFirstPacket = true
	// A Handshake packet proves that the client owns its address; the Initial
	// packet number space is closed at that point.
	if encLevel == protocol.EncryptionHandshake && !c.droppedInitialKeys {
		c.dropEncryptionLevel(protocol.EncryptionInitial, now)
	}

	isAckEliciting, err := c.handleFrames(packet.data, packet.hdr.DestConnectionID, encLevel, now)
	if err != nil {
		c.closeLocal(err, now)
		return false
	}
	if err := c.receivedPacketHandler.ReceivedPacket(pn, encLevel, now, isAckEliciting); err != nil {
		c.closeLocal(err, now)
		return false
	}
	if c.handshakeCompletePending {
		c.handshakeCompletePending = false
		if err := c.handleHandshakeComplete(now); err != nil {
			c.closeLocal(err, now)
			return false
		}
	}
	return true
}

func (c *Connection) handleShortHeaderPacket(now time.Time, data []byte) bool {
	destConnID, err := wire.ParseConnectionID(data, protocol.ConnectionIDLen)
	if err != nil {
		return false
	}
	pn, _, _, decrypted, err := c.unpacker.UnpackShortHeader(now, data)
	if err != nil {
		// A short header packet that fails processing is a candidate
		// stateless reset.
		if c.maybeHandleStatelessReset(data, now) {
			return true
		}
		c.handleUnpackError(err, protocol.ByteCount(len(data)), now)
		return false
	}
	if c.receivedPacketHandler.IsPotentiallyDuplicate(pn, protocol.Encryption1RTT) {
		if c.tracer != nil {
			c.tracer.DroppedPacket(logging.PacketType1RTT, protocol.ByteCount(len(data)), logging.PacketDropDuplicate)
		}
		return false
	}
	isAckEliciting, err := c.handleFrames(decrypted, destConnID, protocol.Encryption1RTT, now)
	if err != nil {
		c.closeLocal(err, now)
		return false
	}
	if err := c.receivedPacketHandler.ReceivedPacket(pn, protocol.Encryption1RTT, now, isAckEliciting); err != nil {
		c.closeLocal(err, now)
		return false
	}
	return true
}

// handleUnpackError decides whether an unpacking failure is fatal. Decryption
// failures and packets for levels without keys are dropped silently: the peer
// retransmits what matters.
func (c *Connection) handleUnpackError(err error, size protocol.ByteCount, now time.Time) {
	if err == handshake.ErrKeysDropped || err == handshake.ErrKeysNotYetAvailable {
		if c.tracer != nil {
			c.tracer.DroppedPacket(logging.PacketTypeNotDetermined, size, logging.PacketDropKeyUnavailable)
		}
		return
	}
	var hdrErr *headerParseError
	if errors.As(err, &hdrErr) {
		if c.tracer != nil {
			c.tracer.DroppedPacket(logging.PacketTypeNotDetermined, size, logging.PacketDropHeaderParseError)
		}
		return
	}
	if err == wire.ErrInvalidReservedBits {
		c.closeLocal(&qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: err.Error(),
		}, now)
		return
	}
	var transportErr *qerr.TransportError
	if errors.As(err, &transportErr) {
		c.closeLocal(err, now)
		return
	}
	if c.tracer != nil {
		c.tracer.DroppedPacket(logging.PacketTypeNotDetermined, size, logging.PacketDropPayloadDecryptError)
	}
}

func (c *Connection) maybeHandleStatelessReset(data []byte, now time.Time) bool {
	if len(data) < protocol.MinReceivedStatelessResetSize {
		return false
	}
	var token protocol.StatelessResetToken
	copy(token[:], data[len(data)-16:])
	if !c.destConnIDs.IsActiveStatelessResetToken(token) {
		return false
	}
	c.logger.Infof("Received a stateless reset. Closing connection.")
	c.drain(&StatelessResetError{}, now)
	return true
}

func (c *Connection) handleFrames(data []byte, destConnID protocol.ConnectionID, encLevel protocol.EncryptionLevel, now time.Time) (isAckEliciting bool, _ error) {
	for len(data) > 0 {
		l, frame, err := c.frameParser.ParseNext(data, encLevel, c.version)
		if err != nil {
			return false, err
		}
		data = data[l:]
		if frame == nil {
			break
		}
		if ackhandler.IsFrameAckEliciting(frame) {
			isAckEliciting = true
		}
		if err := c.handleFrame(frame, encLevel, destConnID, now); err != nil {
			return false, err
		}
	}
	return isAckEliciting, nil
}

func (c *Connection) handleFrame(f wire.Frame, encLevel protocol.EncryptionLevel, destConnID protocol.ConnectionID, now time.Time) error {
	var err error
	wire.LogFrame(c.logger, f, false)
	switch frame := f.(type) {
	case *wire.CryptoFrame:
		err = c.handleCryptoFrame(frame, encLevel, now)
	case *wire.AckFrame:
		err = c.handleAckFrame(frame, encLevel, now)
	case *wire.StreamFrame:
		err = c.handleStreamFrame(frame)
	case *wire.ResetStreamFrame:
		err = c.handleResetStreamFrame(frame)
	case *wire.StopSendingFrame:
		err = c.handleStopSendingFrame(frame)
	case *wire.MaxDataFrame:
		c.connFlowController.UpdateSendWindow(frame.MaximumData)
	case *wire.MaxStreamDataFrame:
		err = c.handleMaxStreamDataFrame(frame)
	case *wire.MaxStreamsFrame:
		c.streams.HandleMaxStreamsFrame(frame)
	case *wire.DataBlockedFrame, *wire.StreamsBlockedFrame:
		// blocked frames carry no obligation, the limits are raised on consumption
	case *wire.StreamDataBlockedFrame:
		_, err = c.streams.getOrOpenReceiveStream(frame.StreamID)
	case *wire.PingFrame:
	case *wire.PathChallengeFrame:
		c.queueControlFrame(&wire.PathResponseFrame{Data: frame.Data})
	case *wire.PathResponseFrame:
		err = &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: "received unsolicited PATH_RESPONSE frame",
		}
	case *wire.NewTokenFrame:
		err = &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: "received NEW_TOKEN frame from the client",
		}
	case *wire.NewConnectionIDFrame:
		err = c.destConnIDs.Add(frame)
	case *wire.RetireConnectionIDFrame:
		err = c.srcConnIDs.Retire(frame.SequenceNumber, destConnID)
	case *wire.HandshakeDoneFrame:
		err = &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: "received a HANDSHAKE_DONE frame",
		}
	case *wire.ConnectionCloseFrame:
		c.handleConnectionCloseFrame(frame, now)
	default:
		err = fmt.Errorf("unexpected frame type: %T", f)
	}
	return err
}

func (c *Connection) handleCryptoFrame(frame *wire.CryptoFrame, encLevel protocol.EncryptionLevel, now time.Time) error {
	if err := c.cryptoStreamManager.HandleCryptoFrame(frame, encLevel); err != nil {
		return err
	}
	for {
		data := c.cryptoStreamManager.GetCryptoData(encLevel)
		if data == nil {
			break
		}
		if err := c.cryptoSetup.HandleMessage(data, encLevel); err != nil {
			return err
		}
	}
	return c.handleHandshakeEvents(now)
}

func (c *Connection) handleHandshakeEvents(now time.Time) error {
	for {
		ev := c.cryptoSetup.NextEvent()
		var err error
		switch ev.Kind {
		case handshake.EventNoEvent:
			return nil
		case handshake.EventWriteInitialData:
			_, err = c.initialStream.Write(ev.Data)
		case handshake.EventWriteHandshakeData:
			_, err = c.handshakeStream.Write(ev.Data)
		case handshake.EventReceivedReadKeys:
			// nothing to do: the unpacker fetches openers lazily
		case handshake.EventDiscard0RTTKeys:
			// we don't send 0-RTT packets
		case handshake.EventReceivedTransportParameters:
			err = c.handleTransportParameters(ev.TransportParameters)
		case handshake.EventHandshakeComplete:
			c.handshakeCompletePending = true
		}
		if err != nil {
			return err
		}
	}
}

func (c *Connection) handleTransportParameters(params *wire.TransportParameters) error {
	if c.tracer != nil {
		c.tracer.ReceivedTransportParameters(params)
	}
	// The client echoes its source connection ID; a mismatch means somebody
	// tampered with the handshake.
	if !params.InitialSourceConnectionID.Equal(c.handshakeDestConnID) {
		return &qerr.TransportError{
			ErrorCode: qerr.TransportParameterError,
			ErrorMessage: fmt.Sprintf("expected initial_source_connection_id to equal %s, is %s",
				c.handshakeDestConnID, params.InitialSourceConnectionID),
		}
	}
	c.peerParams = params
	if params.MaxIdleTimeout > 0 && params.MaxIdleTimeout < c.idleTimeout {
		c.idleTimeout = params.MaxIdleTimeout
	}
	c.connFlowController.UpdateSendWindow(params.InitialMaxData)
	c.streams.UpdateLimits(params)
	c.frameParser.SetAckDelayExponent(params.AckDelayExponent)
	c.rttStats.SetMaxAckDelay(params.MaxAckDelay)
	if params.StatelessResetToken != nil {
		c.destConnIDs.SetStatelessResetToken(*params.StatelessResetToken)
	}
	// clamp the peer's max_udp_payload_size to the sane range
	c.mtu = min(max(params.MaxUDPPayloadSize, protocol.MinInitialPacketSize), protocol.MaxPacketBufferSize)
	return nil
}

func (c *Connection) handleHandshakeComplete(now time.Time) error {
	c.handshakeComplete = true
	c.state = connStateOpen

	if c.config.RequireALPN && c.cryptoSetup.ConnectionState().NegotiatedProtocol == "" {
		// TLS alert no_application_protocol
		return qerr.NewLocalCryptoError(120, "server requires an ALPN")
	}

	// For a server, handshake completion implies handshake confirmation.
	c.queueControlFrame(&wire.HandshakeDoneFrame{})
	if c.tokenGenerator != nil {
		token, err := c.tokenGenerator.NewToken(c.remoteAddr, now)
		if err != nil {
			return err
		}
		c.queueControlFrame(&wire.NewTokenFrame{Token: token})
	}
	ticket, err := c.cryptoSetup.GetSessionTicket()
	if err != nil {
		return err
	}
	if len(ticket) > 0 {
		if _, err := c.oneRTTStream.Write(ticket); err != nil {
			return err
		}
	}

	c.dropEncryptionLevel(protocol.EncryptionHandshake, now)
	c.cryptoSetup.SetHandshakeConfirmed()
	c.sentPacketHandler.SetHandshakeConfirmed(now)

	if err := c.srcConnIDs.SetMaxActiveConnIDs(c.peerParams.ActiveConnectionIDLimit); err != nil {
		return err
	}
	// The client addresses us with one of our own connection IDs now.
	c.runner.RemoveConnectionID(c.clientDestConnID)

	if c.config.OnConnection != nil {
		c.config.OnConnection(c)
	}
	return nil
}

func (c *Connection) handleAckFrame(frame *wire.AckFrame, encLevel protocol.EncryptionLevel, now time.Time) error {
	acked1RTTPacket, err := c.sentPacketHandler.ReceivedAck(frame, encLevel, now)
	if err != nil {
		return err
	}
	if !acked1RTTPacket {
		return nil
	}
	return c.cryptoSetup.SetLargest1RTTAcked(frame.LargestAcked())
}

func (c *Connection) handleStreamFrame(frame *wire.StreamFrame) error {
	str, err := c.streams.getOrOpenReceiveStream(frame.StreamID)
	if err != nil {
		return err
	}
	if str == nil {
		// stream was already closed and reaped
		return nil
	}
	return str.handleStreamFrame(frame)
}

func (c *Connection) handleResetStreamFrame(frame *wire.ResetStreamFrame) error {
	str, err := c.streams.getOrOpenReceiveStream(frame.StreamID)
	if err != nil {
		return err
	}
	if str == nil {
		return nil
	}
	return str.handleResetStreamFrame(frame)
}

func (c *Connection) handleStopSendingFrame(frame *wire.StopSendingFrame) error {
	str, err := c.streams.getOrOpenSendStream(frame.StreamID)
	if err != nil {
		return err
	}
	if str == nil {
		return nil
	}
	str.handleStopSendingFrame(frame)
	return nil
}

func (c *Connection) handleMaxStreamDataFrame(frame *wire.MaxStreamDataFrame) error {
	str, err := c.streams.getOrOpenSendStream(frame.StreamID)
	if err != nil {
		return err
	}
	if str == nil {
		return nil
	}
	str.handleMaxStreamDataFrame(frame)
	return nil
}

func (c *Connection) handleConnectionCloseFrame(frame *wire.ConnectionCloseFrame, now time.Time) {
	var err error
	if frame.IsApplicationError {
		err = &qerr.ApplicationError{
			Remote:       true,
			ErrorCode:    qerr.ApplicationErrorCode(frame.ErrorCode),
			ErrorMessage: frame.ReasonPhrase,
		}
	} else {
		err = &qerr.TransportError{
			Remote:       true,
			ErrorCode:    qerr.TransportErrorCode(frame.ErrorCode),
			FrameType:    frame.FrameType,
			ErrorMessage: frame.ReasonPhrase,
		}
	}
	c.drain(err, now)
}

func (c *Connection) dropEncryptionLevel(encLevel protocol.EncryptionLevel, now time.Time) {
	c.sentPacketHandler.DropPackets(encLevel, now)
	c.receivedPacketHandler.DropPackets(encLevel)
	c.retransmissionQueue.DropPackets(encLevel)
	if encLevel == protocol.EncryptionInitial {
		c.droppedInitialKeys = true
		c.cryptoSetup.DiscardInitialKeys()
	}
	if err := c.cryptoStreamManager.Drop(encLevel); err != nil {
		c.closeLocal(err, now)
		return
	}
	if c.tracer != nil {
		c.tracer.DroppedEncryptionLevel(encLevel)
	}
}

// streamSender

func (c *Connection) queueControlFrame(f wire.Frame) {
	c.framer.QueueControlFrame(f)
	c.scheduleSending()
}

func (c *Connection) onHasStreamData(id protocol.StreamID) {
	c.framer.AddActiveStream(id)
	c.scheduleSending()
}

func (c *Connection) onStreamWindowUpdate(id protocol.StreamID) {
	c.windowUpdateQueue.AddStream(id)
	c.scheduleSending()
}

func (c *Connection) onStreamCompleted(id protocol.StreamID) {
	if err := c.streams.DeleteStream(id); err != nil {
		c.closeLocal(err, c.currentTime())
	}
	c.framer.RemoveActiveStream(id)
}

// onAppDataFrameLost reinjects a control frame whose packet was lost.
// ACK, PING, PATH_RESPONSE and CONNECTION_CLOSE frames are not retransmitted;
// flow control frames are replaced by fresh limits.
func (c *Connection) onAppDataFrameLost(f wire.Frame) {
	switch frame := f.(type) {
	case *wire.AckFrame, *wire.PingFrame, *wire.PathResponseFrame, *wire.ConnectionCloseFrame:
	case *wire.MaxDataFrame:
		if offset := c.connFlowController.GetWindowUpdate(); offset > frame.MaximumData {
			frame.MaximumData = offset
		}
		c.framer.QueueControlFrame(frame)
	case *wire.MaxStreamDataFrame:
		str := c.streams.GetStream(frame.StreamID)
		if str == nil {
			// the stream is gone, no more flow control credit needed
			return
		}
		if offset := str.flowController.GetWindowUpdate(); offset > frame.MaximumStreamData {
			frame.MaximumStreamData = offset
		}
		c.framer.QueueControlFrame(frame)
	case *wire.MaxStreamsFrame:
		c.framer.QueueControlFrame(c.streams.newMaxStreamsFrame(frame.Type))
	default:
		c.framer.QueueControlFrame(f)
	}
}

// currentTime is the host-supplied time of the event being processed. The
// wall clock is only consulted for work the host triggers directly (stream
// reads and writes), which carries no timestamp.
func (c *Connection) currentTime() time.Time {
	if c.processing {
		return c.eventNow
	}
	return time.Now()
}

// scheduleSending requests a flush. During event processing the flush is
// deferred until the event was fully handled; outside of it (the host calling
// into a stream) the flush happens immediately.
func (c *Connection) scheduleSending() {
	if c.processing {
		return
	}
	c.triggerSending(c.currentTime())
}

func (c *Connection) triggerSending(now time.Time) {
	if c.state != connStateHandshaking && c.state != connStateOpen {
		return
	}
	c.windowUpdateQueue.QueueAll()
	if blocked, at := c.connFlowController.IsNewlyBlocked(); blocked {
		c.framer.QueueControlFrame(&wire.DataBlockedFrame{MaximumData: at})
	}
	c.sendPackets(now)
}

func (c *Connection) sendPackets(now time.Time) {
	for {
		switch sendMode := c.sentPacketHandler.SendMode(); sendMode {
		case ackhandler.SendNone:
			return
		case ackhandler.SendAck:
			// congestion limited: an ACK (if pending) still goes out
			c.maybeSendAckOnlyPacket(now)
			return
		case ackhandler.SendPTOInitial:
			c.sendProbePacket(protocol.EncryptionInitial, now)
		case ackhandler.SendPTOHandshake:
			c.sendProbePacket(protocol.EncryptionHandshake, now)
		case ackhandler.SendPTOAppData:
			c.sendProbePacket(protocol.Encryption1RTT, now)
		case ackhandler.SendAny:
			sent, err := c.sendPacket(now)
			if err != nil {
				c.closeLocal(err, now)
				return
			}
			if !sent {
				return
			}
		default:
			panic(fmt.Sprintf("BUG: invalid send mode %d", sendMode))
		}
		if c.state >= connStateClosing {
			return
		}
	}
}

func (c *Connection) effectiveMaxPacketSize() protocol.ByteCount {
	size := c.mtu
	if window := c.sentPacketHandler.AmplificationWindow(); window < size {
		size = window
	}
	return size
}

func (c *Connection) sendPacket(now time.Time) (bool, error) {
	if !c.handshakeComplete {
		packet, err := c.packer.PackCoalescedPacket(false, c.effectiveMaxPacketSize(), now)
		if err != nil {
			return false, err
		}
		if packet == nil {
			return false, nil
		}
		c.sendPackedCoalescedPacket(packet, now)
		return true, nil
	}

	buf := getPacketBuffer()
	shp, err := c.packer.AppendPacket(buf, c.effectiveMaxPacketSize(), now)
	if err != nil {
		buf.Release()
		if err == errNothingToPack {
			return false, nil
		}
		return false, err
	}
	c.registerPackedShortHeaderPacket(shp, now)
	c.writeDatagram(buf.Data, now)
	buf.Release()
	return true, nil
}

func (c *Connection) maybeSendAckOnlyPacket(now time.Time) {
	if !c.handshakeComplete {
		packet, err := c.packer.PackCoalescedPacket(true, c.effectiveMaxPacketSize(), now)
		if err != nil {
			c.closeLocal(err, now)
			return
		}
		if packet == nil {
			return
		}
		c.sendPackedCoalescedPacket(packet, now)
		return
	}

	shp, buf, err := c.packer.PackAckOnlyPacket(c.effectiveMaxPacketSize(), now)
	if err != nil {
		buf.Release()
		if err != errNothingToPack {
			c.closeLocal(err, now)
		}
		return
	}
	c.registerPackedShortHeaderPacket(shp, now)
	c.writeDatagram(buf.Data, now)
	buf.Release()
}

func (c *Connection) sendProbePacket(encLevel protocol.EncryptionLevel, now time.Time) {
	// Move the frames of the oldest outstanding packet back into the
	// retransmission queue, so the probe carries useful data if possible.
	c.sentPacketHandler.QueueProbePacket(encLevel)
	packet, err := c.packer.PackPTOProbePacket(encLevel, c.effectiveMaxPacketSize(), now)
	if err != nil {
		c.closeLocal(err, now)
		return
	}
	if packet == nil {
		return
	}
	c.sendPackedCoalescedPacket(packet, now)
}

func (c *Connection) sendPackedCoalescedPacket(packet *coalescedPacket, now time.Time) {
	for _, p := range packet.longHdrPackets {
		largestAcked := protocol.InvalidPacketNumber
		if p.ack != nil {
			largestAcked = p.ack.LargestAcked()
		}
		c.sentPacketHandler.SentPacket(&ackhandler.Packet{
			PacketNumber:    p.header.PacketNumber,
			Frames:          p.frames,
			StreamFrames:    p.streamFrames,
			LargestAcked:    largestAcked,
			Length:          p.length,
			EncryptionLevel: p.EncryptionLevel(),
			SendTime:        now,
		})
		if c.tracer != nil {
			c.tracer.SentPacket(packetTypeFromEncLevel(p.EncryptionLevel()), p.header.PacketNumber, p.length, p.ack, packetFrames(p.frames, p.streamFrames))
		}
	}
	if p := packet.shortHdrPacket; p != nil {
		c.registerPackedShortHeaderPacket(*p, now)
	}
	c.writeDatagram(packet.buffer.Data, now)
	packet.buffer.Release()
}

func (c *Connection) registerPackedShortHeaderPacket(p shortHeaderPacket, now time.Time) {
	largestAcked := protocol.InvalidPacketNumber
	if p.Ack != nil {
		largestAcked = p.Ack.LargestAcked()
	}
	c.sentPacketHandler.SentPacket(&ackhandler.Packet{
		PacketNumber:    p.PacketNumber,
		Frames:          p.Frames,
		StreamFrames:    p.StreamFrames,
		LargestAcked:    largestAcked,
		Length:          p.Length,
		EncryptionLevel: protocol.Encryption1RTT,
		SendTime:        now,
	})
	if c.tracer != nil {
		c.tracer.SentPacket(logging.PacketType1RTT, p.PacketNumber, p.Length, p.Ack, packetFrames(p.Frames, p.StreamFrames))
	}
}

func (c *Connection) writeDatagram(b []byte, now time.Time) {
	c.lastActivity = now
	c.config.WriteDatagram(c.remoteAddr, b)
}

// NextDeadline returns the time the host must call OnTimer, at the latest.
func (c *Connection) NextDeadline() time.Time {
	switch c.state {
	case connStateDestroyed:
		return time.Time{}
	case connStateClosing, connStateDraining:
		return c.closeDeadline
	}
	deadline := c.idleDeadline()
	if t := c.sentPacketHandler.GetLossDetectionTimeout(); !t.IsZero() && t.Before(deadline) {
		deadline = t
	}
	if t := c.receivedPacketHandler.GetAlarmTimeout(); !t.IsZero() && t.Before(deadline) {
		deadline = t
	}
	return deadline
}

func (c *Connection) idleDeadline() time.Time {
	if !c.handshakeComplete {
		return c.creationTime.Add(c.config.HandshakeIdleTimeout)
	}
	return c.lastActivity.Add(c.idleTimeout)
}

// OnTimer triggers all timer-driven work that is due at time now: loss
// detection and PTO, delayed ACKs, the closing period, and the idle timeout.
func (c *Connection) OnTimer(now time.Time) {
	switch c.state {
	case connStateDestroyed:
		return
	case connStateClosing, connStateDraining:
		if !now.Before(c.closeDeadline) {
			c.destroyImpl()
		}
		return
	}

	if !now.Before(c.idleDeadline()) {
		// an idle timeout closes the connection without sending a CONNECTION_CLOSE
		if !c.handshakeComplete {
			c.destroyWithoutClosePacket(&HandshakeTimeoutError{})
		} else {
			c.destroyWithoutClosePacket(&IdleTimeoutError{})
		}
		return
	}

	c.processing = true
	c.eventNow = now
	defer func() {
		c.processing = false
		if c.state == connStateHandshaking || c.state == connStateOpen {
			c.triggerSending(now)
		}
	}()

	if t := c.sentPacketHandler.GetLossDetectionTimeout(); !t.IsZero() && !now.Before(t) {
		if err := c.sentPacketHandler.OnLossDetectionTimeout(now); err != nil {
			c.closeLocal(err, now)
		}
	}
	// a due delayed ACK is picked up by the send path
}

// closeLocal closes the connection because of a local error.
func (c *Connection) closeLocal(err error, now time.Time) {
	c.close(err, now)
}

func (c *Connection) close(err error, now time.Time) {
	if c.state >= connStateClosing {
		return
	}
	c.closeErr = err
	c.logger.Errorf("Closing connection: %s", err)

	c.streams.CloseWithError(err)
	c.cryptoSetup.Close()

	packet, packErr := c.packer.PackConnectionClose(err, c.mtu)
	if packErr != nil {
		c.logger.Errorf("Failed to pack CONNECTION_CLOSE: %s", packErr)
	} else {
		c.closingPacket = make([]byte, len(packet.buffer.Data))
		copy(c.closingPacket, packet.buffer.Data)
		packet.buffer.Release()
		c.config.WriteDatagram(c.remoteAddr, c.closingPacket)
	}

	c.state = connStateClosing
	c.closeDeadline = now.Add(3 * c.rttStats.PTO(true))
	if c.tracer != nil {
		c.tracer.ClosedConnection(err)
	}
}

// drain enters the draining state: nothing is sent any more, the state is
// kept for 3 PTO so late packets still find the connection.
func (c *Connection) drain(err error, now time.Time) {
	if c.state >= connStateClosing {
		return
	}
	c.closeErr = err
	c.logger.Infof("Draining connection: %s", err)
	c.streams.CloseWithError(err)
	c.cryptoSetup.Close()
	c.state = connStateDraining
	c.closeDeadline = now.Add(3 * c.rttStats.PTO(true))
	if c.tracer != nil {
		c.tracer.ClosedConnection(err)
	}
}

// destroyWithoutClosePacket tears the connection down silently (idle timeout,
// handshake timeout).
func (c *Connection) destroyWithoutClosePacket(err error) {
	if c.state == connStateDestroyed {
		return
	}
	c.closeErr = err
	c.streams.CloseWithError(err)
	c.cryptoSetup.Close()
	if c.tracer != nil {
		c.tracer.ClosedConnection(err)
	}
	c.destroyImpl()
}

func (c *Connection) destroyImpl() {
	if c.state == connStateDestroyed {
		return
	}
	c.state = connStateDestroyed
	c.srcConnIDs.RemoveAll()
	c.runner.RemoveConnectionID(c.clientDestConnID)
	if c.tracer != nil {
		c.tracer.Close()
	}
}

func packetTypeFromEncLevel(encLevel protocol.EncryptionLevel) logging.PacketType {
	switch encLevel {
	case protocol.EncryptionInitial:
		return logging.PacketTypeInitial
	case protocol.EncryptionHandshake:
		return logging.PacketTypeHandshake
	case protocol.Encryption0RTT:
		return logging.PacketType0RTT
	default:
		return logging.PacketType1RTT
	}
}

func packetFrames(frames []ackhandler.Frame, streamFrames []ackhandler.StreamFrame) []logging.Frame {
	fs := make([]logging.Frame, 0, len(frames)+len(streamFrames))
	for _, f := range frames {
		fs = append(fs, f.Frame)
	}
	for _, f := range streamFrames {
		fs = append(fs, f.Frame)
	}
	return fs
}
