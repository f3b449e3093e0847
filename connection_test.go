package quic

import (
	"crypto/tls"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/quicsrv/quic/internal/handshake"
	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/wire"
)

type testConnRunner struct {
	conns map[string]*Connection
}

func newTestConnRunner() *testConnRunner {
	return &testConnRunner{conns: make(map[string]*Connection)}
}

func (r *testConnRunner) AddConnectionID(id protocol.ConnectionID, c *Connection) {
	r.conns[string(id.Bytes())] = c
}

func (r *testConnRunner) RemoveConnectionID(id protocol.ConnectionID) {
	delete(r.conns, string(id.Bytes()))
}

var (
	testClientSCID = protocol.ConnectionID{8, 7, 6, 5}
	testBaseTime   = time.Date(2024, 8, 5, 12, 0, 0, 0, time.UTC)
)

// newTestConnection creates a server connection, as the endpoint would on the
// first Initial, with all timers driven by the test's clock.
func newTestConnection(t *testing.T, rec *datagramRecorder, now time.Time) (*Connection, protocol.ConnectionID) {
	t.Helper()
	config := populateConfig(&Config{
		TLSConfig:     &tls.Config{MinVersion: tls.VersionTLS13},
		WriteDatagram: rec.Write,
	})
	clientDCID := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	srcConnID, err := protocol.GenerateConnectionID(protocol.ConnectionIDLen)
	require.NoError(t, err)
	c := newConnection(
		newTestConnRunner(),
		config,
		clientAddr,
		clientDCID,
		clientDCID,
		testClientSCID,
		srcConnID,
		nil,
		newStatelessResetter(nil),
		nil,
		false,
		protocol.Version1,
		now,
	)
	require.NoError(t, c.startHandshake(now))
	return c, clientDCID
}

// decryptInitialPacket opens a server Initial packet with the client's keys.
func decryptInitialPacket(t *testing.T, dcid protocol.ConnectionID, data []byte) []wire.Frame {
	t.Helper()
	_, opener := handshake.NewInitialAEAD(dcid, protocol.PerspectiveClient, protocol.Version1)
	hdr, packetData, _, err := wire.ParsePacket(data)
	require.NoError(t, err)
	require.Equal(t, protocol.PacketTypeInitial, hdr.Type)
	extHdr, err := unpackLongHeader(opener, hdr, packetData)
	require.NoError(t, err)
	decrypted, err := opener.Open(nil, packetData[extHdr.ParsedLen():], extHdr.PacketNumber, packetData[:extHdr.ParsedLen()])
	require.NoError(t, err)
	parser := wire.NewFrameParser()
	var frames []wire.Frame
	for len(decrypted) > 0 {
		l, f, err := parser.ParseNext(decrypted, protocol.EncryptionInitial, protocol.Version1)
		require.NoError(t, err)
		decrypted = decrypted[l:]
		if f == nil {
			break
		}
		frames = append(frames, f)
	}
	return frames
}

func TestConnectionHandshakeTimeout(t *testing.T) {
	rec := &datagramRecorder{}
	base := testBaseTime
	c, _ := newTestConnection(t, rec, base)

	// before the handshake completes, the handshake idle timeout applies
	require.Equal(t, base.Add(protocol.DefaultHandshakeIdleTimeout), c.NextDeadline())

	c.OnTimer(base.Add(time.Second))
	require.NotEqual(t, connStateDestroyed, c.state)

	// the timeout closes the connection silently: no CONNECTION_CLOSE is sent
	c.OnTimer(base.Add(protocol.DefaultHandshakeIdleTimeout))
	require.Equal(t, connStateDestroyed, c.state)
	require.Empty(t, rec.datagrams)
	var hsTimeout *HandshakeTimeoutError
	require.ErrorAs(t, c.closeErr, &hsTimeout)
	_, err := c.OpenStream()
	require.Error(t, err)
}

func TestConnectionIdleTimeout(t *testing.T) {
	rec := &datagramRecorder{}
	base := testBaseTime
	c, _ := newTestConnection(t, rec, base)
	// handshake completion switches to the negotiated idle timeout
	c.handshakeComplete = true
	c.state = connStateOpen
	c.lastActivity = base

	idle := c.idleTimeout
	require.Equal(t, base.Add(idle), c.NextDeadline())

	// sending a datagram re-arms the timer to the full idle timeout
	c.writeDatagram([]byte{0x40}, base.Add(10*time.Second))
	require.Equal(t, base.Add(10*time.Second).Add(idle), c.NextDeadline())
	numDatagrams := len(rec.datagrams)

	c.OnTimer(base.Add(10 * time.Second).Add(idle))
	require.Equal(t, connStateDestroyed, c.state)
	// silent close: nothing beyond what we sent ourselves
	require.Len(t, rec.datagrams, numDatagrams)
	var idleTimeout *IdleTimeoutError
	require.ErrorAs(t, c.closeErr, &idleTimeout)
}

func TestConnectionOutOfOrderCrypto(t *testing.T) {
	// 50 bytes of garbage: enough for the TLS stack to read the (absurd)
	// message length and fail, regardless of fragmentation
	data := make([]byte, 50)
	for i := range data {
		data[i] = byte(i)
	}
	base := testBaseTime

	// in-order delivery
	recA := &datagramRecorder{}
	connA, dcidA := newTestConnection(t, recA, base)
	connA.handleDatagram(base, composeInitial(t, dcidA, testClientSCID, 0, nil, []wire.Frame{
		&wire.CryptoFrame{Offset: 0, Data: data},
	}))
	require.Equal(t, connStateClosing, connA.state)
	var errA *qerr.TransportError
	require.ErrorAs(t, connA.closeErr, &errA)

	// out-of-order delivery: (offset 30, len 20) first, then (offset 0, len 30)
	recB := &datagramRecorder{}
	connB, dcidB := newTestConnection(t, recB, base)
	connB.handleDatagram(base, composeInitial(t, dcidB, testClientSCID, 0, nil, []wire.Frame{
		&wire.CryptoFrame{Offset: 30, Data: data[30:]},
	}))
	// nothing was delivered to the TLS stack yet; the bytes are buffered
	require.Nil(t, connB.closeErr)
	require.Equal(t, protocol.ByteCount(20), connB.initialStream.sorter.QueuedBytes())

	connB.handleDatagram(base.Add(time.Millisecond), composeInitial(t, dcidB, testClientSCID, 1, nil, []wire.Frame{
		&wire.CryptoFrame{Offset: 0, Data: data[:30]},
	}))
	// the handshake progressed exactly as with in-order delivery
	require.Equal(t, connStateClosing, connB.state)
	var errB *qerr.TransportError
	require.ErrorAs(t, connB.closeErr, &errB)
	require.Equal(t, errA.ErrorCode, errB.ErrorCode)
	// the close was answered with a CONNECTION_CLOSE packet
	require.NotEmpty(t, recB.datagrams)
}

func TestConnectionAckHandling(t *testing.T) {
	rec := &datagramRecorder{}
	base := testBaseTime
	c, dcid := newTestConnection(t, rec, base)

	// a single ack-eliciting packet: the ACK is delayed
	c.handleDatagram(base, composeInitial(t, dcid, testClientSCID, 0, nil, []wire.Frame{&wire.PingFrame{}}))
	require.Empty(t, rec.datagrams)
	require.Equal(t, base.Add(protocol.MaxAckDelay), c.NextDeadline())

	// when the delayed-ACK alarm fires, an ACK-only Initial goes out
	c.OnTimer(base.Add(protocol.MaxAckDelay))
	require.Len(t, rec.datagrams, 1)
	frames := decryptInitialPacket(t, dcid, rec.datagrams[0])
	require.Len(t, frames, 1)
	ack, ok := frames[0].(*wire.AckFrame)
	require.True(t, ok)
	require.True(t, ack.AcksPacket(0))

	// the client acknowledges the server's packet 0
	ackFrame := func(smallest, largest protocol.PacketNumber) *wire.AckFrame {
		return &wire.AckFrame{AckRanges: []wire.AckRange{{Smallest: smallest, Largest: largest}}}
	}
	c.handleDatagram(base.Add(30*time.Millisecond), composeInitial(t, dcid, testClientSCID, 1, nil, []wire.Frame{ackFrame(0, 0)}))
	require.Nil(t, c.closeErr)
	// the acknowledged packet was not ack-eliciting: no RTT sample is taken
	require.Zero(t, c.rttStats.LatestRTT())

	// a duplicate ACK covering only already-acknowledged packets is a no-op
	c.handleDatagram(base.Add(40*time.Millisecond), composeInitial(t, dcid, testClientSCID, 2, nil, []wire.Frame{ackFrame(0, 0)}))
	require.Nil(t, c.closeErr)
	require.Zero(t, c.rttStats.LatestRTT())

	// an ACK for a packet that was never sent is a protocol violation
	c.handleDatagram(base.Add(50*time.Millisecond), composeInitial(t, dcid, testClientSCID, 3, nil, []wire.Frame{ackFrame(5, 5)}))
	require.Equal(t, connStateClosing, c.state)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, c.closeErr, &transportErr)
	require.Equal(t, qerr.ProtocolViolation, transportErr.ErrorCode)
	numDatagrams := len(rec.datagrams)
	require.Greater(t, numDatagrams, 1) // the CONNECTION_CLOSE went out

	// while closing, incoming packets are answered with the same
	// CONNECTION_CLOSE, rate-limited
	closeTime := base.Add(50 * time.Millisecond)
	c.handleDatagram(closeTime, composeInitial(t, dcid, testClientSCID, 4, nil, []wire.Frame{&wire.PingFrame{}}))
	require.Len(t, rec.datagrams, numDatagrams+1)
	c.handleDatagram(closeTime, composeInitial(t, dcid, testClientSCID, 5, nil, []wire.Frame{&wire.PingFrame{}}))
	require.Len(t, rec.datagrams, numDatagrams+1) // rate limited

	// the closing period lasts 3 PTO, then the connection is gone
	require.Equal(t, c.closeDeadline, c.NextDeadline())
	c.OnTimer(c.closeDeadline)
	require.Equal(t, connStateDestroyed, c.state)
}

func TestConnectionDrainsOnPeerClose(t *testing.T) {
	rec := &datagramRecorder{}
	base := testBaseTime
	c, dcid := newTestConnection(t, rec, base)

	c.handleDatagram(base, composeInitial(t, dcid, testClientSCID, 0, nil, []wire.Frame{
		&wire.ConnectionCloseFrame{ErrorCode: uint64(qerr.NoError)},
	}))
	require.Equal(t, connStateDraining, c.state)
	// draining means no egress at all
	require.Empty(t, rec.datagrams)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, c.closeErr, &transportErr)
	require.True(t, transportErr.Remote)

	require.Equal(t, c.closeDeadline, c.NextDeadline())
	c.OnTimer(c.closeDeadline)
	require.Equal(t, connStateDestroyed, c.state)
	require.Empty(t, rec.datagrams)
}

// TestConnectionStreamEcho runs the 4 KiB echo through the connection's
// stream table and framer: the peer's STREAM frames arrive in arbitrary
// fragmentation, the application reads everything up to the FIN and writes it
// back. The packet protection around it is exercised by the packer and
// handshake tests.
func TestConnectionStreamEcho(t *testing.T) {
	rec := &datagramRecorder{}
	base := testBaseTime
	c, _ := newTestConnection(t, rec, base)

	params := &wire.TransportParameters{
		InitialSourceConnectionID:      testClientSCID,
		InitialMaxData:                 1 << 20,
		InitialMaxStreamDataBidiLocal:  1 << 20,
		InitialMaxStreamDataBidiRemote: 1 << 20,
		InitialMaxStreamDataUni:        1 << 20,
		MaxBidiStreamNum:               10,
		MaxUniStreamNum:                10,
		MaxUDPPayloadSize:              1452,
		AckDelayExponent:               protocol.DefaultAckDelayExponent,
		MaxAckDelay:                    protocol.MaxAckDelay,
		ActiveConnectionIDLimit:        protocol.MaxActiveConnectionIDs,
	}
	require.NoError(t, c.handleTransportParameters(params))

	const size = 4096
	data := make([]byte, size)
	r := rand.New(rand.NewSource(7))
	r.Read(data)

	// slice the stream into fragments and deliver them in random order
	type fragment struct {
		offset protocol.ByteCount
		data   []byte
		fin    bool
	}
	var fragments []fragment
	for offset := 0; offset < size; {
		l := 1 + r.Intn(800)
		if offset+l > size {
			l = size - offset
		}
		fragments = append(fragments, fragment{
			offset: protocol.ByteCount(offset),
			data:   data[offset : offset+l],
			fin:    offset+l == size,
		})
		offset += l
	}
	r.Shuffle(len(fragments), func(i, j int) { fragments[i], fragments[j] = fragments[j], fragments[i] })

	for _, frag := range fragments {
		require.NoError(t, c.handleFrame(&wire.StreamFrame{
			StreamID: 0,
			Offset:   frag.offset,
			Data:     frag.data,
			Fin:      frag.fin,
		}, protocol.Encryption1RTT, nil, base))
	}

	str := c.AcceptStream()
	require.NotNil(t, str)
	require.Equal(t, protocol.StreamID(0), str.StreamID())

	received := make([]byte, 0, size)
	buf := make([]byte, 1000)
	for {
		n, err := str.Read(buf)
		received = append(received, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.Equal(t, data, received)

	// echo everything back, with a FIN
	n, err := str.Write(data)
	require.NoError(t, err)
	require.Equal(t, size, n)
	require.NoError(t, str.Close())

	echoed := make([]byte, size)
	var total protocol.ByteCount
	var sawFin bool
	for {
		frames, _ := c.framer.AppendStreamFrames(nil, 1200, protocol.Version1)
		if len(frames) == 0 {
			break
		}
		for _, f := range frames {
			copy(echoed[f.Frame.Offset:], f.Frame.Data)
			total += f.Frame.DataLen()
			if f.Frame.Fin {
				sawFin = true
			}
		}
	}
	require.Equal(t, protocol.ByteCount(size), total)
	require.Equal(t, data, echoed)
	require.True(t, sawFin)
}
