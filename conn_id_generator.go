package quic

import (
	"fmt"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/wire"
)

// The connIDGenerator issues the connection IDs the peer uses to address us,
// registers them for packet routing, and replaces them when the peer retires
// one.
type connIDGenerator struct {
	connIDLen  int
	highestSeq uint64

	activeSrcConnIDs map[uint64]protocol.ConnectionID

	addConnectionID        func(protocol.ConnectionID)
	removeConnectionID     func(protocol.ConnectionID)
	getStatelessResetToken func(protocol.ConnectionID) (protocol.StatelessResetToken, bool)
	queueControlFrame      func(wire.Frame)
}

func newConnIDGenerator(
	initialConnectionID protocol.ConnectionID,
	addConnectionID func(protocol.ConnectionID),
	removeConnectionID func(protocol.ConnectionID),
	getStatelessResetToken func(protocol.ConnectionID) (protocol.StatelessResetToken, bool),
	queueControlFrame func(wire.Frame),
) *connIDGenerator {
	m := &connIDGenerator{
		connIDLen:              initialConnectionID.Len(),
		activeSrcConnIDs:       make(map[uint64]protocol.ConnectionID),
		addConnectionID:        addConnectionID,
		removeConnectionID:     removeConnectionID,
		getStatelessResetToken: getStatelessResetToken,
		queueControlFrame:      queueControlFrame,
	}
	m.activeSrcConnIDs[0] = initialConnectionID
	return m
}

// SetMaxActiveConnIDs issues new connection IDs up to the limit the peer
// advertised. Called once the peer's transport parameters are known.
func (m *connIDGenerator) SetMaxActiveConnIDs(limit uint64) error {
	// The active_connection_id_limit is the number of connection IDs the peer
	// will maintain, including the one used during the handshake.
	for i := uint64(len(m.activeSrcConnIDs)); i < min(limit, protocol.MaxIssuedConnectionIDs); i++ {
		if err := m.issueNewConnID(); err != nil {
			return err
		}
	}
	return nil
}

// Retire handles a RETIRE_CONNECTION_ID frame. The retired connection ID is
// replaced with a freshly issued one, keeping the number of live IDs stable.
func (m *connIDGenerator) Retire(seq uint64, sentWithDestConnID protocol.ConnectionID) error {
	if seq > m.highestSeq {
		return &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: fmt.Sprintf("retired connection ID %d (highest issued: %d)", seq, m.highestSeq),
		}
	}
	connID, ok := m.activeSrcConnIDs[seq]
	if !ok { // already retired
		return nil
	}
	if connID.Equal(sentWithDestConnID) {
		return &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: fmt.Sprintf("retired connection ID %d (%s), which was used as the Destination Connection ID on this packet", seq, connID),
		}
	}
	m.removeConnectionID(connID)
	delete(m.activeSrcConnIDs, seq)
	return m.issueNewConnID()
}

func (m *connIDGenerator) issueNewConnID() error {
	connID, err := protocol.GenerateConnectionID(m.connIDLen)
	if err != nil {
		return err
	}
	m.highestSeq++
	m.activeSrcConnIDs[m.highestSeq] = connID
	m.addConnectionID(connID)
	f := &wire.NewConnectionIDFrame{
		SequenceNumber: m.highestSeq,
		ConnectionID:   connID,
	}
	if token, ok := m.getStatelessResetToken(connID); ok {
		f.StatelessResetToken = token
	}
	m.queueControlFrame(f)
	return nil
}

// RemoveAll unregisters every issued connection ID when the connection is
// destroyed.
func (m *connIDGenerator) RemoveAll() {
	for _, connID := range m.activeSrcConnIDs {
		m.removeConnectionID(connID)
	}
}
