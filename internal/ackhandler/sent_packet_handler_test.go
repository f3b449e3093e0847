package ackhandler

import (
	"testing"
	"time"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/utils"
	"github.com/quicsrv/quic/internal/wire"

	"github.com/stretchr/testify/require"
)

func newTestSentPacketHandler(t *testing.T) *sentPacketHandler {
	t.Helper()
	return newSentPacketHandler(0, &utils.RTTStats{}, false, protocol.PerspectiveServer, nil, utils.DefaultLogger)
}

func (h *sentPacketHandler) sendPacket(t *testing.T, pn protocol.PacketNumber, encLevel protocol.EncryptionLevel, sendTime time.Time) {
	t.Helper()
	require.Equal(t, pn, h.PopPacketNumber(encLevel))
	h.SentPacket(&Packet{
		PacketNumber:    pn,
		Frames:          []Frame{{Frame: &wire.PingFrame{}}},
		Length:          1200,
		LargestAcked:    protocol.InvalidPacketNumber,
		EncryptionLevel: encLevel,
		SendTime:        sendTime,
	})
}

func TestAmplificationLimit(t *testing.T) {
	h := newTestSentPacketHandler(t)
	// no bytes received yet: nothing may be sent
	require.Equal(t, SendNone, h.SendMode())
	require.Zero(t, h.AmplificationWindow())

	now := time.Now()
	h.ReceivedBytes(1000, now)
	require.Equal(t, protocol.ByteCount(3000), h.AmplificationWindow())
	require.Equal(t, SendAny, h.SendMode())
	h.sendPacket(t, 0, protocol.EncryptionInitial, now)
	h.sendPacket(t, 1, protocol.EncryptionInitial, now)
	require.Equal(t, protocol.ByteCount(600), h.AmplificationWindow())
	h.SentPacket(&Packet{
		PacketNumber:    h.PopPacketNumber(protocol.EncryptionInitial),
		Frames:          []Frame{{Frame: &wire.PingFrame{}}},
		Length:          600,
		LargestAcked:    protocol.InvalidPacketNumber,
		EncryptionLevel: protocol.EncryptionInitial,
		SendTime:        now,
	})
	// the amplification window is used up
	require.Equal(t, SendNone, h.SendMode())
	require.Zero(t, h.AmplificationWindow())

	// receiving a Handshake packet validates the client's address
	h.ReceivedPacket(protocol.EncryptionHandshake, now)
	require.Equal(t, protocol.MaxByteCount, h.AmplificationWindow())
}

func TestAckUnsentPacket(t *testing.T) {
	h := newTestSentPacketHandler(t)
	now := time.Now()
	h.ReceivedBytes(10000, now)
	h.sendPacket(t, 0, protocol.EncryptionInitial, now)

	ack := &wire.AckFrame{AckRanges: []wire.AckRange{{Smallest: 0, Largest: 5}}}
	_, err := h.ReceivedAck(ack, protocol.EncryptionInitial, now)
	require.Error(t, err)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.ProtocolViolation, transportErr.ErrorCode)
}

func TestDuplicateAckIsNoOp(t *testing.T) {
	h := newTestSentPacketHandler(t)
	now := time.Now()
	h.ReceivedBytes(100000, now)
	for pn := protocol.PacketNumber(0); pn < 3; pn++ {
		h.sendPacket(t, pn, protocol.EncryptionInitial, now)
	}
	ack := &wire.AckFrame{AckRanges: []wire.AckRange{{Smallest: 0, Largest: 1}}}
	_, err := h.ReceivedAck(ack, protocol.EncryptionInitial, now.Add(time.Second))
	require.NoError(t, err)
	rtt := h.rttStats.SmoothedRTT()
	require.NotZero(t, rtt)

	// the same ACK again: no RTT sample, no error
	_, err = h.ReceivedAck(ack, protocol.EncryptionInitial, now.Add(10*time.Second))
	require.NoError(t, err)
	require.Equal(t, rtt, h.rttStats.SmoothedRTT())
}

func TestPacketThresholdLossDetection(t *testing.T) {
	h := newTestSentPacketHandler(t)
	now := time.Now()
	h.ReceivedBytes(100000, now)
	var lostFrames []protocol.PacketNumber
	for pn := protocol.PacketNumber(0); pn <= 4; pn++ {
		pnCopy := pn
		require.Equal(t, pn, h.PopPacketNumber(protocol.EncryptionInitial))
		h.SentPacket(&Packet{
			PacketNumber: pn,
			Frames: []Frame{{
				Frame:  &wire.PingFrame{},
				OnLost: func(wire.Frame) { lostFrames = append(lostFrames, pnCopy) },
			}},
			Length:          1200,
			LargestAcked:    protocol.InvalidPacketNumber,
			EncryptionLevel: protocol.EncryptionInitial,
			SendTime:        now,
		})
	}
	// ACK packet 4. Packets 0 and 1 are at least PacketThreshold behind, and are lost.
	ack := &wire.AckFrame{AckRanges: []wire.AckRange{{Smallest: 4, Largest: 4}}}
	_, err := h.ReceivedAck(ack, protocol.EncryptionInitial, now.Add(100*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, []protocol.PacketNumber{0, 1}, lostFrames)
}

func TestTimeThresholdLossDetection(t *testing.T) {
	h := newTestSentPacketHandler(t)
	now := time.Now()
	h.ReceivedBytes(100000, now)
	var lost []protocol.PacketNumber
	sendTimes := []time.Duration{0, 10 * time.Millisecond, 27 * time.Millisecond, 30 * time.Millisecond}
	for pn := protocol.PacketNumber(0); pn < 4; pn++ {
		pnCopy := pn
		require.Equal(t, pn, h.PopPacketNumber(protocol.EncryptionInitial))
		h.SentPacket(&Packet{
			PacketNumber: pn,
			Frames: []Frame{{
				Frame:  &wire.PingFrame{},
				OnLost: func(wire.Frame) { lost = append(lost, pnCopy) },
			}},
			Length:          1200,
			LargestAcked:    protocol.InvalidPacketNumber,
			EncryptionLevel: protocol.EncryptionInitial,
			SendTime:        now.Add(sendTimes[pn]),
		})
	}
	// ACK packet 3 at 60ms: RTT is 30ms, the loss delay 9/8 * 30ms = 33.75ms.
	// Packets sent before 26.25ms are declared lost, packet 2 gets a loss timer.
	ackTime := now.Add(60 * time.Millisecond)
	ack := &wire.AckFrame{AckRanges: []wire.AckRange{{Smallest: 3, Largest: 3}}}
	_, err := h.ReceivedAck(ack, protocol.EncryptionInitial, ackTime)
	require.NoError(t, err)
	require.Contains(t, lost, protocol.PacketNumber(0))
	require.Contains(t, lost, protocol.PacketNumber(1))
	require.NotContains(t, lost, protocol.PacketNumber(2))
	// a loss timer is armed for the earliest not-yet-lost packet
	require.False(t, h.GetLossDetectionTimeout().IsZero())
}

func TestPTOProbePackets(t *testing.T) {
	h := newTestSentPacketHandler(t)
	now := time.Now()
	h.ReceivedBytes(100000, now)
	h.sendPacket(t, 0, protocol.EncryptionInitial, now)
	timeout := h.GetLossDetectionTimeout()
	require.False(t, timeout.IsZero())

	require.NoError(t, h.OnLossDetectionTimeout(h.GetLossDetectionTimeout()))
	require.Equal(t, uint32(1), h.ptoCount)
	require.Equal(t, SendPTOInitial, h.SendMode())
	// the PTO timer uses exponential backoff
	require.True(t, h.GetLossDetectionTimeout().After(timeout))
	// frames of the oldest outstanding packet are queued for retransmission
	require.True(t, h.QueueProbePacket(protocol.EncryptionInitial))
}

func TestRTTSampleOnlyForLargestAcked(t *testing.T) {
	h := newTestSentPacketHandler(t)
	now := time.Now()
	h.ReceivedBytes(100000, now)
	for pn := protocol.PacketNumber(0); pn < 3; pn++ {
		h.sendPacket(t, pn, protocol.EncryptionInitial, now)
	}
	// an ACK that newly acks the largest in the frame gives an RTT sample
	ack := &wire.AckFrame{AckRanges: []wire.AckRange{{Smallest: 0, Largest: 1}}}
	_, err := h.ReceivedAck(ack, protocol.EncryptionInitial, now.Add(time.Second))
	require.NoError(t, err)
	firstRTT := h.rttStats.LatestRTT()
	require.Equal(t, time.Second, firstRTT)

	// acking only already-acked packets doesn't sample the RTT
	_, err = h.ReceivedAck(ack, protocol.EncryptionInitial, now.Add(20*time.Second))
	require.NoError(t, err)
	require.Equal(t, firstRTT, h.rttStats.LatestRTT())
}

func TestDropPacketsClearsBytesInFlight(t *testing.T) {
	h := newTestSentPacketHandler(t)
	now := time.Now()
	h.ReceivedBytes(100000, now)
	h.sendPacket(t, 0, protocol.EncryptionInitial, now)
	h.sendPacket(t, 1, protocol.EncryptionInitial, now)
	require.Equal(t, protocol.ByteCount(2400), h.bytesInFlight)
	h.DropPackets(protocol.EncryptionInitial, now)
	require.Zero(t, h.bytesInFlight)
	require.Nil(t, h.initialPackets)
}
