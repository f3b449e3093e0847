package quic

import (
	"fmt"

	"github.com/quicsrv/quic/internal/flowcontrol"
	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/wire"
)

// The streamsMap is the table of all open streams of a connection.
//
// Stream IDs of one type arrive in non-decreasing order; a STREAM frame for a
// higher ID implicitly opens all lower-numbered streams of that type. IDs
// below the next expected one were opened before: frames for them go to the
// stream while it is in the table, and are silently ignored once it was
// closed and reaped.
type streamsMap struct {
	sender            streamSender
	newFlowController func(protocol.StreamID) flowcontrol.StreamFlowController
	receiveBufferSize protocol.ByteCount
	version           protocol.Version

	streams map[protocol.StreamID]*Stream

	// client-initiated streams
	nextIncomingBidi protocol.StreamNum // lowest stream number not yet opened by the peer
	nextIncomingUni  protocol.StreamNum
	maxIncomingBidi  protocol.StreamNum // current advertised limit
	maxIncomingUni   protocol.StreamNum

	// server-initiated streams
	nextOutgoingBidi protocol.StreamNum
	nextOutgoingUni  protocol.StreamNum
	peerMaxBidi      protocol.StreamNum // limit granted by the peer
	peerMaxUni       protocol.StreamNum
	blockedBidiAt    protocol.StreamNum // highest limit a STREAMS_BLOCKED was sent for
	blockedUniAt     protocol.StreamNum

	acceptQueueBidi []*Stream
	acceptQueueUni  []*Stream
}

func newStreamsMap(
	sender streamSender,
	newFlowController func(protocol.StreamID) flowcontrol.StreamFlowController,
	receiveBufferSize protocol.ByteCount,
	maxIncomingBidi protocol.StreamNum,
	maxIncomingUni protocol.StreamNum,
	version protocol.Version,
) *streamsMap {
	return &streamsMap{
		sender:            sender,
		newFlowController: newFlowController,
		receiveBufferSize: receiveBufferSize,
		streams:           make(map[protocol.StreamID]*Stream),
		nextIncomingBidi:  1,
		nextIncomingUni:   1,
		maxIncomingBidi:   maxIncomingBidi,
		maxIncomingUni:    maxIncomingUni,
		nextOutgoingBidi:  1,
		nextOutgoingUni:   1,
		blockedBidiAt:     protocol.InvalidStreamNum,
		blockedUniAt:      protocol.InvalidStreamNum,
	}
}

// UpdateLimits applies the peer's transport parameters.
func (m *streamsMap) UpdateLimits(p *wire.TransportParameters) {
	m.peerMaxBidi = p.MaxBidiStreamNum
	m.peerMaxUni = p.MaxUniStreamNum
}

// OpenStream opens a server-initiated bidirectional stream.
func (m *streamsMap) OpenStream() (*Stream, error) {
	return m.openStream(protocol.StreamTypeBidi)
}

// OpenUniStream opens a server-initiated unidirectional stream.
func (m *streamsMap) OpenUniStream() (*Stream, error) {
	return m.openStream(protocol.StreamTypeUni)
}

func (m *streamsMap) openStream(t protocol.StreamType) (*Stream, error) {
	next, limit := &m.nextOutgoingBidi, m.peerMaxBidi
	blockedAt := &m.blockedBidiAt
	if t == protocol.StreamTypeUni {
		next, limit = &m.nextOutgoingUni, m.peerMaxUni
		blockedAt = &m.blockedUniAt
	}
	if *next > limit {
		if *blockedAt != limit {
			*blockedAt = limit
			m.sender.queueControlFrame(&wire.StreamsBlockedFrame{Type: t, StreamLimit: limit})
		}
		return nil, ErrTooManyOpenStreams
	}
	id := next.StreamID(t, protocol.PerspectiveServer)
	*next++
	str := m.openStreamImpl(id)
	return str, nil
}

func (m *streamsMap) openStreamImpl(id protocol.StreamID) *Stream {
	str := newStream(id, m.sender, m.newFlowController(id), m.receiveBufferSize, m.version)
	m.streams[id] = str
	return str
}

// AcceptStream pops the next peer-initiated bidirectional stream, if any.
func (m *streamsMap) AcceptStream() *Stream {
	if len(m.acceptQueueBidi) == 0 {
		return nil
	}
	str := m.acceptQueueBidi[0]
	m.acceptQueueBidi = m.acceptQueueBidi[1:]
	return str
}

// AcceptUniStream pops the next peer-initiated unidirectional stream, if any.
func (m *streamsMap) AcceptUniStream() *Stream {
	if len(m.acceptQueueUni) == 0 {
		return nil
	}
	str := m.acceptQueueUni[0]
	m.acceptQueueUni = m.acceptQueueUni[1:]
	return str
}

// getOrOpenReceiveStream returns the stream a frame touching its receive side
// refers to. It returns a nil stream (and no error) if the stream was already
// closed and reaped.
func (m *streamsMap) getOrOpenReceiveStream(id protocol.StreamID) (*Stream, error) {
	str, err := m.getOrOpenStream(id)
	if err != nil {
		return nil, err
	}
	if str != nil && !str.canRead() {
		return nil, &qerr.TransportError{
			ErrorCode:    qerr.StreamStateError,
			ErrorMessage: fmt.Sprintf("peer attempted to write on unidirectional stream %d", id),
		}
	}
	return str, nil
}

// getOrOpenSendStream is the same for frames touching the send side
// (MAX_STREAM_DATA, STOP_SENDING).
func (m *streamsMap) getOrOpenSendStream(id protocol.StreamID) (*Stream, error) {
	str, err := m.getOrOpenStream(id)
	if err != nil {
		return nil, err
	}
	if str != nil && !str.canWrite() {
		return nil, &qerr.TransportError{
			ErrorCode:    qerr.StreamStateError,
			ErrorMessage: fmt.Sprintf("received frame for send side of receive-only stream %d", id),
		}
	}
	return str, nil
}

func (m *streamsMap) getOrOpenStream(id protocol.StreamID) (*Stream, error) {
	if id.InitiatedBy() == protocol.PerspectiveServer {
		// The peer cannot open server-initiated streams.
		num := id.StreamNum()
		next := m.nextOutgoingBidi
		if id.Type() == protocol.StreamTypeUni {
			next = m.nextOutgoingUni
		}
		if num >= next {
			return nil, &qerr.TransportError{
				ErrorCode:    qerr.StreamStateError,
				ErrorMessage: fmt.Sprintf("peer attempted to open stream %d", id),
			}
		}
		return m.streams[id], nil
	}

	num := id.StreamNum()
	next, limit := &m.nextIncomingBidi, m.maxIncomingBidi
	queue := &m.acceptQueueBidi
	if id.Type() == protocol.StreamTypeUni {
		next, limit = &m.nextIncomingUni, m.maxIncomingUni
		queue = &m.acceptQueueUni
	}
	if num > limit {
		return nil, &qerr.TransportError{
			ErrorCode:    qerr.StreamLimitError,
			ErrorMessage: fmt.Sprintf("peer tried to open stream %d (current limit: %d streams)", id, limit),
		}
	}
	if num < *next {
		return m.streams[id], nil
	}
	// open all intermediate streams of this type, lowest first
	for n := *next; n <= num; n++ {
		str := m.openStreamImpl(n.StreamID(id.Type(), protocol.PerspectiveClient))
		*queue = append(*queue, str)
	}
	*next = num + 1
	return m.streams[id], nil
}

// DeleteStream removes a closed stream. For peer-initiated streams, the
// stream limit is raised and the new limit advertised.
func (m *streamsMap) DeleteStream(id protocol.StreamID) error {
	if _, ok := m.streams[id]; !ok {
		return &qerr.TransportError{
			ErrorCode:    qerr.InternalError,
			ErrorMessage: fmt.Sprintf("tried to delete unknown stream %d", id),
		}
	}
	delete(m.streams, id)
	if id.InitiatedBy() == protocol.PerspectiveClient {
		if id.Type() == protocol.StreamTypeBidi {
			m.maxIncomingBidi++
		} else {
			m.maxIncomingUni++
		}
		m.sender.queueControlFrame(m.newMaxStreamsFrame(id.Type()))
	}
	return nil
}

// newMaxStreamsFrame builds a MAX_STREAMS frame carrying the current limit.
// Retransmissions go through here as well, so a lost frame is replaced with a
// fresh limit instead of the stale one.
func (m *streamsMap) newMaxStreamsFrame(t protocol.StreamType) *wire.MaxStreamsFrame {
	limit := m.maxIncomingBidi
	if t == protocol.StreamTypeUni {
		limit = m.maxIncomingUni
	}
	return &wire.MaxStreamsFrame{Type: t, MaxStreamNum: limit}
}

// HandleMaxStreamsFrame raises the peer-granted limit on opening streams.
func (m *streamsMap) HandleMaxStreamsFrame(f *wire.MaxStreamsFrame) {
	if f.Type == protocol.StreamTypeBidi {
		if f.MaxStreamNum > m.peerMaxBidi {
			m.peerMaxBidi = f.MaxStreamNum
		}
		return
	}
	if f.MaxStreamNum > m.peerMaxUni {
		m.peerMaxUni = f.MaxStreamNum
	}
}

func (m *streamsMap) GetStream(id protocol.StreamID) *Stream {
	return m.streams[id]
}

// CloseWithError fails all streams when the connection terminates.
func (m *streamsMap) CloseWithError(err error) {
	for _, str := range m.streams {
		str.closeForShutdown(err)
	}
}
