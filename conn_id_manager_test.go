package quic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/wire"
)

func newTestConnIDManager() (*connIDManager, *[]wire.Frame) {
	var frames []wire.Frame
	m := newConnIDManager(
		protocol.ConnectionID{1, 2, 3, 4},
		func(f wire.Frame) { frames = append(frames, f) },
	)
	return m, &frames
}

func TestConnIDManagerInitialConnID(t *testing.T) {
	m, _ := newTestConnIDManager()
	require.Equal(t, protocol.ConnectionID{1, 2, 3, 4}, m.Get())
}

func TestConnIDManagerAdoptsHighestSequenceNumber(t *testing.T) {
	m, _ := newTestConnIDManager()
	require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: 2,
		ConnectionID:   protocol.ConnectionID{2, 2, 2, 2},
	}))
	require.Equal(t, protocol.ConnectionID{2, 2, 2, 2}, m.Get())
	// a lower sequence number doesn't become the preferred connection ID
	require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: 1,
		ConnectionID:   protocol.ConnectionID{1, 1, 1, 1},
	}))
	require.Equal(t, protocol.ConnectionID{2, 2, 2, 2}, m.Get())
}

func TestConnIDManagerDuplicateFrames(t *testing.T) {
	m, _ := newTestConnIDManager()
	f := &wire.NewConnectionIDFrame{
		SequenceNumber:      1,
		ConnectionID:        protocol.ConnectionID{0xde, 0xad, 0xbe, 0xef},
		StatelessResetToken: protocol.StatelessResetToken{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	}
	require.NoError(t, m.Add(f))
	// an exact retransmission is a no-op
	require.NoError(t, m.Add(f))
	// conflicting data for a known sequence number is a protocol violation
	err := m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: 1,
		ConnectionID:   protocol.ConnectionID{0xc0, 0xff, 0xee, 0x00},
	})
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.ProtocolViolation, transportErr.ErrorCode)
}

func TestConnIDManagerRetirement(t *testing.T) {
	m, frames := newTestConnIDManager()
	require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: 1,
		ConnectionID:   protocol.ConnectionID{1, 1, 1, 1},
	}))
	require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: 2,
		RetirePriorTo:  2,
		ConnectionID:   protocol.ConnectionID{2, 2, 2, 2},
	}))
	// sequence numbers 0 and 1 must be retired
	var retired []uint64
	for _, f := range *frames {
		if r, ok := f.(*wire.RetireConnectionIDFrame); ok {
			retired = append(retired, r.SequenceNumber)
		}
	}
	require.ElementsMatch(t, []uint64{0, 1}, retired)
	require.Equal(t, protocol.ConnectionID{2, 2, 2, 2}, m.Get())

	// a late frame below the retirement threshold is retired immediately
	*frames = nil
	require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: 1,
		ConnectionID:   protocol.ConnectionID{1, 1, 1, 1},
	}))
	require.Len(t, *frames, 1)
	require.Equal(t, uint64(1), (*frames)[0].(*wire.RetireConnectionIDFrame).SequenceNumber)
}

func TestConnIDManagerEnforcesLimit(t *testing.T) {
	m, _ := newTestConnIDManager()
	for seq := uint64(1); seq <= uint64(protocol.MaxActiveConnectionIDs)-1; seq++ {
		require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
			SequenceNumber: seq,
			ConnectionID:   protocol.ConnectionID{byte(seq), byte(seq), byte(seq), byte(seq)},
		}))
	}
	err := m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: uint64(protocol.MaxActiveConnectionIDs),
		ConnectionID:   protocol.ConnectionID{0xff, 0xff, 0xff, 0xff},
	})
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.ConnectionIDLimitError, transportErr.ErrorCode)
}

func TestConnIDManagerRetirePriorToValidation(t *testing.T) {
	m, _ := newTestConnIDManager()
	err := m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: 1,
		RetirePriorTo:  2,
		ConnectionID:   protocol.ConnectionID{1, 1, 1, 1},
	})
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.ProtocolViolation, transportErr.ErrorCode)
}

func TestConnIDManagerStatelessResetTokenDetection(t *testing.T) {
	m, _ := newTestConnIDManager()
	token := protocol.StatelessResetToken{16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	require.False(t, m.IsActiveStatelessResetToken(token))
	require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber:      1,
		ConnectionID:        protocol.ConnectionID{1, 1, 1, 1},
		StatelessResetToken: token,
	}))
	require.True(t, m.IsActiveStatelessResetToken(token))
	// tokens of non-preferred connection IDs count as well
	require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber:      2,
		ConnectionID:        protocol.ConnectionID{2, 2, 2, 2},
		StatelessResetToken: protocol.StatelessResetToken{0xaa},
	}))
	require.True(t, m.IsActiveStatelessResetToken(token))
}
