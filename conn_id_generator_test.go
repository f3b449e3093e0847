package quic

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/wire"
)

type connIDGeneratorTestEnv struct {
	gen     *connIDGenerator
	added   []protocol.ConnectionID
	removed []protocol.ConnectionID
	frames  []wire.Frame
}

func newConnIDGeneratorTestEnv(t *testing.T) *connIDGeneratorTestEnv {
	t.Helper()
	env := &connIDGeneratorTestEnv{}
	initial, err := protocol.GenerateConnectionID(protocol.ConnectionIDLen)
	require.NoError(t, err)
	resetter := newStatelessResetter(&StatelessResetKey{1, 2, 3})
	env.gen = newConnIDGenerator(
		initial,
		func(c protocol.ConnectionID) { env.added = append(env.added, c) },
		func(c protocol.ConnectionID) { env.removed = append(env.removed, c) },
		func(c protocol.ConnectionID) (protocol.StatelessResetToken, bool) {
			return resetter.GetStatelessResetToken(c), true
		},
		func(f wire.Frame) { env.frames = append(env.frames, f) },
	)
	return env
}

func TestConnIDGeneratorIssuesUpToPeerLimit(t *testing.T) {
	env := newConnIDGeneratorTestEnv(t)
	require.NoError(t, env.gen.SetMaxActiveConnIDs(4))
	// 3 new connection IDs on top of the handshake connection ID
	require.Len(t, env.added, 3)
	require.Len(t, env.frames, 3)
	for i, f := range env.frames {
		ncid, ok := f.(*wire.NewConnectionIDFrame)
		require.True(t, ok)
		require.Equal(t, uint64(i+1), ncid.SequenceNumber)
		require.Equal(t, protocol.ConnectionIDLen, ncid.ConnectionID.Len())
		require.NotEqual(t, protocol.StatelessResetToken{}, ncid.StatelessResetToken)
	}
}

func TestConnIDGeneratorCapsIssuedConnIDs(t *testing.T) {
	env := newConnIDGeneratorTestEnv(t)
	require.NoError(t, env.gen.SetMaxActiveConnIDs(1000))
	require.Len(t, env.added, int(protocol.MaxIssuedConnectionIDs)-1)
}

func TestConnIDGeneratorRetireAndReplace(t *testing.T) {
	env := newConnIDGeneratorTestEnv(t)
	require.NoError(t, env.gen.SetMaxActiveConnIDs(4))
	retired := env.added[0]
	require.NoError(t, env.gen.Retire(1, protocol.ConnectionID{9, 9, 9, 9}))
	require.Contains(t, env.removed, retired)
	// a replacement was issued
	require.Len(t, env.frames, 4)
	require.Equal(t, uint64(4), env.frames[3].(*wire.NewConnectionIDFrame).SequenceNumber)
	// retiring the same sequence number again is a no-op
	require.NoError(t, env.gen.Retire(1, protocol.ConnectionID{9, 9, 9, 9}))
	require.Len(t, env.frames, 4)
}

func TestConnIDGeneratorRetireValidation(t *testing.T) {
	env := newConnIDGeneratorTestEnv(t)
	require.NoError(t, env.gen.SetMaxActiveConnIDs(4))
	// retiring a sequence number we never issued
	err := env.gen.Retire(1000, protocol.ConnectionID{9, 9, 9, 9})
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.ProtocolViolation, transportErr.ErrorCode)

	// retiring the connection ID the packet itself was routed by
	connID := env.added[0]
	err = env.gen.Retire(1, connID)
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.ProtocolViolation, transportErr.ErrorCode)
}

func TestStatelessResetTokenDerivation(t *testing.T) {
	key := &StatelessResetKey{1, 2, 3, 4}
	r1 := newStatelessResetter(key)
	r2 := newStatelessResetter(key)
	connID := protocol.ConnectionID{0xde, 0xad, 0xbe, 0xef}
	// token derivation is deterministic: a restarted endpoint derives the
	// same token for the same connection ID
	require.Equal(t, r1.GetStatelessResetToken(connID), r2.GetStatelessResetToken(connID))

	// the resetter is shared between connections and must be usable concurrently
	want := r1.GetStatelessResetToken(connID)
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 100; j++ {
				if got := r1.GetStatelessResetToken(connID); got != want {
					return fmt.Errorf("token mismatch: %x", got)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NotEqual(t,
		r1.GetStatelessResetToken(connID),
		r1.GetStatelessResetToken(protocol.ConnectionID{1, 2, 3, 4}),
	)
	other := newStatelessResetter(&StatelessResetKey{4, 3, 2, 1})
	require.NotEqual(t, r1.GetStatelessResetToken(connID), other.GetStatelessResetToken(connID))

	disabled := newStatelessResetter(nil)
	require.False(t, disabled.Enabled())
}
