package ackhandler

import (
	"testing"
	"time"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/utils"

	"github.com/stretchr/testify/require"
)

func TestTrackerQueuesAckAfterMaxAckGap(t *testing.T) {
	tr := newReceivedPacketTracker(utils.DefaultLogger)
	now := time.Now()
	require.NoError(t, tr.ReceivedPacket(0, now, true))
	// the first ack-eliciting packet is not acked immediately
	require.Nil(t, tr.GetAckFrame(now, true))
	require.NoError(t, tr.ReceivedPacket(1, now, true))
	// the second one brings the counter to MaxAckGap
	ack := tr.GetAckFrame(now, true)
	require.NotNil(t, ack)
	require.Equal(t, protocol.PacketNumber(1), ack.LargestAcked())
	require.Equal(t, protocol.PacketNumber(0), ack.LowestAcked())
}

func TestTrackerDelayedAckAlarm(t *testing.T) {
	tr := newReceivedPacketTracker(utils.DefaultLogger)
	now := time.Now()
	require.NoError(t, tr.ReceivedPacket(0, now, true))
	alarm := tr.GetAlarmTimeout()
	require.Equal(t, now.Add(protocol.MaxAckDelay), alarm)
	// once the alarm expires, the ACK is released
	require.Nil(t, tr.GetAckFrame(now, true))
	require.NotNil(t, tr.GetAckFrame(now.Add(protocol.MaxAckDelay+time.Millisecond), true))
}

func TestTrackerOutOfOrderForcesImmediateAck(t *testing.T) {
	tr := newReceivedPacketTracker(utils.DefaultLogger)
	now := time.Now()
	require.NoError(t, tr.ReceivedPacket(0, now, true))
	require.Nil(t, tr.GetAckFrame(now, true))
	// a gap forces an immediate ACK
	require.NoError(t, tr.ReceivedPacket(2, now, true))
	ack := tr.GetAckFrame(now, true)
	require.NotNil(t, ack)
	require.True(t, ack.HasMissingRanges())
}

func TestTrackerNonAckElicitingDoesNotTriggerAck(t *testing.T) {
	tr := newReceivedPacketTracker(utils.DefaultLogger)
	now := time.Now()
	for pn := protocol.PacketNumber(0); pn < 10; pn++ {
		require.NoError(t, tr.ReceivedPacket(pn, now, false))
	}
	require.Nil(t, tr.GetAckFrame(now, false))
	require.Zero(t, tr.GetAlarmTimeout())
}

func TestTrackerOneShotAckForAncientPacket(t *testing.T) {
	tr := newReceivedPacketTracker(utils.DefaultLogger)
	now := time.Now()
	// fill up the ranges so that the oldest gets evicted
	for i := 0; i <= protocol.MaxAckRanges; i++ {
		require.NoError(t, tr.ReceivedPacket(protocol.PacketNumber(2*i), now, true))
		tr.GetAckFrame(now, false) // drain pending ACKs
	}
	// packet 0 was evicted; an ack-eliciting packet below the lowest tracked
	// range is acknowledged with a one-shot ACK
	require.True(t, tr.packetHistory.IsBelowLowestTracked(1))
	require.NoError(t, tr.ReceivedPacket(1, now, true))
	ack := tr.GetAckFrame(now, false)
	require.NotNil(t, ack)
	require.Equal(t, protocol.PacketNumber(1), ack.LargestAcked())
	require.Equal(t, protocol.PacketNumber(1), ack.LowestAcked())
	require.False(t, ack.HasMissingRanges())
}

func TestTrackerIgnoresBelow(t *testing.T) {
	tr := newReceivedPacketTracker(utils.DefaultLogger)
	now := time.Now()
	for pn := protocol.PacketNumber(0); pn < 10; pn++ {
		require.NoError(t, tr.ReceivedPacket(pn, now, true))
	}
	tr.GetAckFrame(now, false)
	tr.IgnoreBelow(5)
	require.NoError(t, tr.ReceivedPacket(10, now, true))
	require.NoError(t, tr.ReceivedPacket(11, now, true))
	ack := tr.GetAckFrame(now, false)
	require.NotNil(t, ack)
	require.Equal(t, protocol.PacketNumber(5), ack.LowestAcked())
}
