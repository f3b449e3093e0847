package quic

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/quicsrv/quic/internal/protocol"
)

// A StatelessResetKey is the static key stateless reset tokens are derived
// from. It is the only state shared between connections (and endpoint
// restarts): a token can be re-derived from the connection ID alone.
type StatelessResetKey [32]byte

type statelessResetter struct {
	key *StatelessResetKey
}

// newStatelessResetter creates a new stateless resetter. A nil key disables
// stateless resets.
func newStatelessResetter(key *StatelessResetKey) *statelessResetter {
	return &statelessResetter{key: key}
}

func (r *statelessResetter) Enabled() bool {
	return r.key != nil
}

// GetStatelessResetToken derives the token for a connection ID.
func (r *statelessResetter) GetStatelessResetToken(connID protocol.ConnectionID) protocol.StatelessResetToken {
	var token protocol.StatelessResetToken
	if !r.Enabled() {
		return token
	}
	h := hmac.New(sha256.New, r.key[:])
	h.Write(connID.Bytes())
	copy(token[:], h.Sum(nil))
	return token
}
