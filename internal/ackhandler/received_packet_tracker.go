package ackhandler

import (
	"fmt"
	"time"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/utils"
	"github.com/quicsrv/quic/internal/wire"
)

// The receivedPacketTracker tracks packets for one packet number space and
// decides when an ACK should be sent.
type receivedPacketTracker struct {
	largestObserved                         protocol.PacketNumber
	largestObservedRcvdTime                 time.Time
	ackElicitingPacketsReceivedSinceLastAck int
	ackQueued                               bool

	// ackAlarm is the time when the delayed ACK timer fires: ackDelayStart + maxAckDelay.
	ackAlarm time.Time
	// oneShotAckPacket is set when an ack-eliciting packet older than the oldest
	// tracked range arrives. A one-shot ACK covering just that packet is sent.
	oneShotAckPacket   protocol.PacketNumber
	hasOneShotAck      bool
	oneShotAckRcvdTime time.Time

	packetHistory *receivedPacketHistory

	maxAckDelay time.Duration

	lastAck *wire.AckFrame

	logger utils.Logger

	hasNewAck bool // true as soon as we received an ack-eliciting new packet
}

func newReceivedPacketTracker(logger utils.Logger) *receivedPacketTracker {
	return &receivedPacketTracker{
		packetHistory:   newReceivedPacketHistory(),
		maxAckDelay:     protocol.MaxAckDelay,
		largestObserved: protocol.InvalidPacketNumber,
		logger:          logger,
	}
}

func (h *receivedPacketTracker) ReceivedPacket(pn protocol.PacketNumber, rcvTime time.Time, ackEliciting bool) error {
	if pn == h.largestObserved {
		return fmt.Errorf("recevedPacketTracker BUG: ReceivedPacket called for the same packet number twice")
	}

	// An ack-eliciting packet older than the oldest range we still track can't
	// be added to the ranges. Acknowledge just this packet with a one-shot ACK,
	// so the peer stops retransmitting it.
	if h.packetHistory.IsBelowLowestTracked(pn) {
		if ackEliciting && !h.packetHistory.IsPotentiallyDuplicate(pn) {
			h.hasOneShotAck = true
			h.oneShotAckPacket = pn
			h.oneShotAckRcvdTime = rcvTime
			h.hasNewAck = true
		}
		return nil
	}

	isNew, evicted := h.packetHistory.ReceivedPacket(pn)
	if !isNew {
		// a duplicate; nothing to do
		return nil
	}
	// The range array was full and its oldest range was evicted: queue an ACK of
	// the remaining ranges without delay. That ACK doesn't cover the evicted range.
	if evicted {
		h.ackQueued = true
	}

	if pn > h.largestObserved {
		outOfOrder := pn != h.largestObserved+1 && h.largestObserved != protocol.InvalidPacketNumber
		h.largestObserved = pn
		h.largestObservedRcvdTime = rcvTime
		if outOfOrder && ackEliciting {
			// a gap was created: schedule an ACK without further delay
			h.ackElicitingPacketsReceivedSinceLastAck = protocol.MaxAckGap
		}
	} else if ackEliciting {
		// the packet filled or trimmed a gap: an out-of-order arrival
		h.ackElicitingPacketsReceivedSinceLastAck = protocol.MaxAckGap
	}

	if !ackEliciting {
		return nil
	}

	h.hasNewAck = true
	h.ackElicitingPacketsReceivedSinceLastAck++
	if h.ackElicitingPacketsReceivedSinceLastAck >= protocol.MaxAckGap {
		h.ackQueued = true
	}
	if !h.ackQueued && h.ackAlarm.IsZero() {
		h.ackAlarm = rcvTime.Add(h.maxAckDelay)
	}
	return nil
}

// IsPotentiallyDuplicate says if a packet with packet number pn could be a duplicate.
func (h *receivedPacketTracker) IsPotentiallyDuplicate(pn protocol.PacketNumber) bool {
	return h.packetHistory.IsPotentiallyDuplicate(pn)
}

// IgnoreBelow sets a lower limit for acknowledging packets.
// Packets below the limit are confirmed received by the peer (the peer acked our ACK).
func (h *receivedPacketTracker) IgnoreBelow(pn protocol.PacketNumber) {
	h.packetHistory.DeleteBelow(pn)
	if h.logger.Debug() {
		h.logger.Debugf("\tIgnoring all packets below %d.", pn)
	}
}

// GetAlarmTimeout returns the time when the ack alarm fires.
func (h *receivedPacketTracker) GetAlarmTimeout() time.Time {
	if h.ackQueued || h.hasOneShotAck {
		return time.Time{} // an ACK can be sent immediately
	}
	return h.ackAlarm
}

// GetAckFrame gets the ACK frame to send.
// If onlyIfQueued is true, it only returns an ACK frame if the ACK is due:
// either queued directly, or the delayed-ACK alarm expired.
func (h *receivedPacketTracker) GetAckFrame(now time.Time, onlyIfQueued bool) *wire.AckFrame {
	if !h.hasNewAck {
		return nil
	}

	// A one-shot ACK for a packet below the tracked ranges takes precedence.
	if h.hasOneShotAck {
		h.hasOneShotAck = false
		return &wire.AckFrame{
			AckRanges: []wire.AckRange{{Smallest: h.oneShotAckPacket, Largest: h.oneShotAckPacket}},
		}
	}

	if onlyIfQueued && !h.ackQueued {
		if h.ackAlarm.IsZero() || h.ackAlarm.After(now) {
			return nil
		}
	}

	// the ACK frame is cached, and reused between calls
	ack := h.lastAck
	if ack == nil {
		ack = &wire.AckFrame{}
	}
	ack.Reset()
	ack.DelayTime = max(0, now.Sub(h.largestObservedRcvdTime))
	ack.AckRanges = h.packetHistory.AppendAckRanges(ack.AckRanges)
	if len(ack.AckRanges) == 0 {
		h.hasNewAck = false
		return nil
	}

	h.lastAck = ack
	h.ackQueued = false
	h.ackAlarm = time.Time{}
	h.ackElicitingPacketsReceivedSinceLastAck = 0
	h.hasNewAck = false
	return ack
}
