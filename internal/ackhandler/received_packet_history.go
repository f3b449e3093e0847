package ackhandler

import (
	"slices"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/wire"
)

// interval is an interval from one PacketNumber to the other
type interval struct {
	Start protocol.PacketNumber
	End   protocol.PacketNumber
}

// The receivedPacketHistory stores if a packet number has already been received.
// It holds at most protocol.MaxAckRanges ranges: when a new range would exceed
// that bound, the oldest (lowest) range is evicted right away. An ACK built
// after the eviction no longer covers the evicted range.
type receivedPacketHistory struct {
	ranges []interval // maximum length: protocol.MaxAckRanges, sorted ascending

	deletedBelow protocol.PacketNumber
}

func newReceivedPacketHistory() *receivedPacketHistory {
	return &receivedPacketHistory{ranges: make([]interval, 0, protocol.MaxAckRanges)}
}

// ReceivedPacket registers a packet with PacketNumber p and updates the ranges.
// The second return value says if the oldest range was evicted to make room.
func (h *receivedPacketHistory) ReceivedPacket(p protocol.PacketNumber) (isNew, evicted bool) {
	// ignore delayed packets, if we already deleted the range
	if p < h.deletedBelow {
		return false, false
	}

	isNew = h.addToRanges(p)
	// Delete the oldest range, if we're tracking too many ranges.
	if len(h.ranges) > protocol.MaxAckRanges {
		h.ranges = slices.Delete(h.ranges, 0, 1)
		evicted = true
	}
	return isNew, evicted
}

func (h *receivedPacketHistory) addToRanges(p protocol.PacketNumber) bool /* is a new packet (and not a duplicate / delayed packet) */ {
	if len(h.ranges) == 0 {
		h.ranges = append(h.ranges, interval{Start: p, End: p})
		return true
	}

	for i := len(h.ranges) - 1; i >= 0; i-- {
		// p already included in an existing range
		if p >= h.ranges[i].Start && p <= h.ranges[i].End {
			return false
		}

		if h.ranges[i].End == p-1 { // extend a range at the end
			// check if this fills a gap exactly, merging two ranges
			if i < len(h.ranges)-1 && h.ranges[i+1].Start == p+1 {
				h.ranges[i].End = h.ranges[i+1].End
				h.ranges = slices.Delete(h.ranges, i+1, i+2)
				return true
			}
			h.ranges[i].End = p
			return true
		}
		if h.ranges[i].Start == p+1 { // extend a range at the beginning
			// check if this fills a gap exactly, merging two ranges
			if i > 0 && h.ranges[i-1].End == p-1 {
				h.ranges[i-1].End = h.ranges[i].End
				h.ranges = slices.Delete(h.ranges, i, i+1)
				return true
			}
			h.ranges[i].Start = p
			return true
		}

		// create a new range after the current one
		if p > h.ranges[i].End {
			h.ranges = slices.Insert(h.ranges, i+1, interval{Start: p, End: p})
			return true
		}
	}

	// create a new range at the beginning
	h.ranges = slices.Insert(h.ranges, 0, interval{Start: p, End: p})
	return true
}

// DeleteBelow deletes all entries below (but not including) p
func (h *receivedPacketHistory) DeleteBelow(p protocol.PacketNumber) {
	if p < h.deletedBelow {
		return
	}
	h.deletedBelow = p

	if len(h.ranges) == 0 {
		return
	}

	idx := -1
	for i := 0; i < len(h.ranges); i++ {
		if h.ranges[i].End < p { // delete a whole range
			idx = i
		} else if p > h.ranges[i].Start && p <= h.ranges[i].End {
			h.ranges[i].Start = p
			break
		} else { // no ranges affected. Nothing to do
			break
		}
	}
	if idx >= 0 {
		h.ranges = slices.Delete(h.ranges, 0, idx+1)
	}
}

// AppendAckRanges appends to a slice of ACK ranges, in descending order.
func (h *receivedPacketHistory) AppendAckRanges(ackRanges []wire.AckRange) []wire.AckRange {
	for i := len(h.ranges) - 1; i >= 0; i-- {
		ackRanges = append(ackRanges, wire.AckRange{Smallest: h.ranges[i].Start, Largest: h.ranges[i].End})
	}
	return ackRanges
}

func (h *receivedPacketHistory) GetHighestAckRange() wire.AckRange {
	ackRange := wire.AckRange{}
	if len(h.ranges) > 0 {
		ackRange.Smallest = h.ranges[len(h.ranges)-1].Start
		ackRange.Largest = h.ranges[len(h.ranges)-1].End
	}
	return ackRange
}

// IsPotentiallyDuplicate says if a packet might be a duplicate:
// either it's below everything we still track, or inside a tracked range.
func (h *receivedPacketHistory) IsPotentiallyDuplicate(p protocol.PacketNumber) bool {
	if p < h.deletedBelow {
		return true
	}
	// Iterating over the slices is faster than using a binary search (using slices.BinarySearchFunc).
	for i := len(h.ranges) - 1; i >= 0; i-- {
		if p > h.ranges[i].End {
			return false
		}
		if p <= h.ranges[i].End && p >= h.ranges[i].Start {
			return true
		}
	}
	return false
}

// IsBelowLowestTracked says if p is older than the oldest tracked range.
func (h *receivedPacketHistory) IsBelowLowestTracked(p protocol.PacketNumber) bool {
	if len(h.ranges) == 0 {
		return false
	}
	return p < h.ranges[0].Start
}
