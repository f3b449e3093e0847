package quic

import (
	"crypto/subtle"
	"fmt"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/wire"
)

type connIDEntry struct {
	SequenceNumber      uint64
	ConnectionID        protocol.ConnectionID
	StatelessResetToken protocol.StatelessResetToken
	hasToken            bool
}

// The connIDManager keeps track of the connection IDs the peer issued to us.
// The entry with the highest sequence number is used as the destination
// connection ID of outgoing packets.
type connIDManager struct {
	queue []connIDEntry // ordered by sequence number

	active         connIDEntry
	highestRetired uint64

	queueControlFrame func(wire.Frame)
}

func newConnIDManager(initialDestConnID protocol.ConnectionID, queueControlFrame func(wire.Frame)) *connIDManager {
	m := &connIDManager{queueControlFrame: queueControlFrame}
	// The connection ID used during the handshake has sequence number 0.
	m.active = connIDEntry{SequenceNumber: 0, ConnectionID: initialDestConnID}
	m.queue = append(m.queue, m.active)
	return m
}

// Get returns the connection ID for the next outgoing packet.
func (m *connIDManager) Get() protocol.ConnectionID {
	return m.active.ConnectionID
}

// SetStatelessResetToken attaches the token the peer sent in its transport
// parameters to the handshake connection ID.
func (m *connIDManager) SetStatelessResetToken(token protocol.StatelessResetToken) {
	m.queue[0].StatelessResetToken = token
	m.queue[0].hasToken = true
	if m.active.SequenceNumber == 0 {
		m.active = m.queue[0]
	}
}

func (m *connIDManager) Add(f *wire.NewConnectionIDFrame) error {
	if f.RetirePriorTo > f.SequenceNumber {
		return &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: fmt.Sprintf("Retire Prior To value (%d) larger than Sequence Number (%d)", f.RetirePriorTo, f.SequenceNumber),
		}
	}
	if f.SequenceNumber < m.highestRetired {
		// We already retired this sequence number.
		m.queueControlFrame(&wire.RetireConnectionIDFrame{SequenceNumber: f.SequenceNumber})
		return nil
	}
	for _, e := range m.queue {
		if e.SequenceNumber != f.SequenceNumber {
			continue
		}
		if !e.ConnectionID.Equal(f.ConnectionID) || (e.hasToken && e.StatelessResetToken != f.StatelessResetToken) {
			return &qerr.TransportError{
				ErrorCode:    qerr.ProtocolViolation,
				ErrorMessage: fmt.Sprintf("received conflicting connection IDs for sequence number %d", f.SequenceNumber),
			}
		}
		return nil // retransmission
	}

	// insert ordered by sequence number
	i := len(m.queue)
	for i > 0 && m.queue[i-1].SequenceNumber > f.SequenceNumber {
		i--
	}
	m.queue = append(m.queue, connIDEntry{})
	copy(m.queue[i+1:], m.queue[i:])
	m.queue[i] = connIDEntry{
		SequenceNumber:      f.SequenceNumber,
		ConnectionID:        f.ConnectionID,
		StatelessResetToken: f.StatelessResetToken,
		hasToken:            true,
	}

	if f.RetirePriorTo > m.highestRetired {
		m.highestRetired = f.RetirePriorTo
	}
	// retire all entries below the new threshold
	filtered := m.queue[:0]
	for _, e := range m.queue {
		if e.SequenceNumber < m.highestRetired {
			m.queueControlFrame(&wire.RetireConnectionIDFrame{SequenceNumber: e.SequenceNumber})
			continue
		}
		filtered = append(filtered, e)
	}
	m.queue = filtered

	if len(m.queue) > protocol.MaxActiveConnectionIDs {
		return &qerr.TransportError{ErrorCode: qerr.ConnectionIDLimitError}
	}

	// the highest sequence number becomes the preferred outgoing connection ID
	if newest := m.queue[len(m.queue)-1]; newest.SequenceNumber > m.active.SequenceNumber ||
		m.active.SequenceNumber < m.highestRetired {
		m.active = newest
	}
	return nil
}

// IsActiveStatelessResetToken checks a candidate stateless reset token against
// the tokens of all connection IDs the peer issued, in constant time per
// entry.
func (m *connIDManager) IsActiveStatelessResetToken(token protocol.StatelessResetToken) bool {
	var match bool
	for _, e := range m.queue {
		if !e.hasToken {
			continue
		}
		if subtle.ConstantTimeCompare(e.StatelessResetToken[:], token[:]) == 1 {
			match = true
		}
	}
	return match
}
