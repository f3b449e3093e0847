package ackhandler

import (
	"math/rand"
	"testing"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/wire"

	"github.com/stretchr/testify/require"
)

func TestHistoryExtendsForward(t *testing.T) {
	h := newReceivedPacketHistory()
	for pn := protocol.PacketNumber(0); pn < 5; pn++ {
		isNew, evicted := h.ReceivedPacket(pn)
		require.True(t, isNew)
		require.False(t, evicted)
	}
	require.Equal(t, []wire.AckRange{{Smallest: 0, Largest: 4}}, h.AppendAckRanges(nil))
}

func TestHistoryCreatesNewRangeOnGap(t *testing.T) {
	h := newReceivedPacketHistory()
	h.ReceivedPacket(1)
	h.ReceivedPacket(5)
	require.Equal(t, []wire.AckRange{
		{Smallest: 5, Largest: 5},
		{Smallest: 1, Largest: 1},
	}, h.AppendAckRanges(nil))
}

func TestHistoryFillsGapExactly(t *testing.T) {
	h := newReceivedPacketHistory()
	h.ReceivedPacket(1)
	h.ReceivedPacket(3)
	isNew, _ := h.ReceivedPacket(2)
	require.True(t, isNew)
	require.Equal(t, []wire.AckRange{{Smallest: 1, Largest: 3}}, h.AppendAckRanges(nil))
}

func TestHistoryTrimsGapFromEitherSide(t *testing.T) {
	h := newReceivedPacketHistory()
	h.ReceivedPacket(1)
	h.ReceivedPacket(10)
	h.ReceivedPacket(2) // extends the lower range upwards
	h.ReceivedPacket(9) // extends the upper range downwards
	require.Equal(t, []wire.AckRange{
		{Smallest: 9, Largest: 10},
		{Smallest: 1, Largest: 2},
	}, h.AppendAckRanges(nil))
}

func TestHistoryIgnoresDuplicates(t *testing.T) {
	h := newReceivedPacketHistory()
	h.ReceivedPacket(3)
	h.ReceivedPacket(4)
	isNew, _ := h.ReceivedPacket(3)
	require.False(t, isNew)
	require.True(t, h.IsPotentiallyDuplicate(3))
	require.False(t, h.IsPotentiallyDuplicate(5))
}

func TestHistoryRandomInsertionMatchesUnion(t *testing.T) {
	// For any insertion order, the tracked ranges equal the union of the
	// received packet numbers.
	rng := rand.New(rand.NewSource(0x1337))
	for trial := 0; trial < 10; trial++ {
		received := make(map[protocol.PacketNumber]struct{})
		var pns []protocol.PacketNumber
		for i := 0; i < 200; i++ {
			pn := protocol.PacketNumber(rng.Intn(300))
			if _, ok := received[pn]; ok {
				continue
			}
			received[pn] = struct{}{}
			pns = append(pns, pn)
		}
		rng.Shuffle(len(pns), func(i, j int) { pns[i], pns[j] = pns[j], pns[i] })

		h := newReceivedPacketHistory()
		for _, pn := range pns {
			h.ReceivedPacket(pn)
		}

		if len(h.ranges) > protocol.MaxAckRanges {
			t.Fatalf("too many ranges: %d", len(h.ranges))
		}
		// reconstruct the set from the ranges
		got := make(map[protocol.PacketNumber]struct{})
		for _, r := range h.ranges {
			require.LessOrEqual(t, r.Start, r.End)
			for pn := r.Start; pn <= r.End; pn++ {
				got[pn] = struct{}{}
			}
		}
		// every tracked packet was received
		for pn := range got {
			_, ok := received[pn]
			require.True(t, ok, "tracked packet %d was never received", pn)
		}
		// every received packet at or above the lowest tracked range is tracked
		lowest := h.ranges[0].Start
		for pn := range received {
			if pn >= lowest {
				_, ok := got[pn]
				require.True(t, ok, "received packet %d not tracked", pn)
			}
		}
	}
}

func TestHistoryEvictsOldestWhenFull(t *testing.T) {
	h := newReceivedPacketHistory()
	// create MaxAckRanges disjoint ranges
	for i := 0; i < protocol.MaxAckRanges; i++ {
		_, evicted := h.ReceivedPacket(protocol.PacketNumber(2 * i))
		require.False(t, evicted)
	}
	require.Len(t, h.ranges, protocol.MaxAckRanges)
	// the next disjoint range evicts the oldest
	_, evicted := h.ReceivedPacket(protocol.PacketNumber(2 * protocol.MaxAckRanges))
	require.True(t, evicted)
	require.Len(t, h.ranges, protocol.MaxAckRanges)
	require.Equal(t, protocol.PacketNumber(2), h.ranges[0].Start)
	require.True(t, h.IsBelowLowestTracked(0))
}

func TestHistoryDeleteBelow(t *testing.T) {
	h := newReceivedPacketHistory()
	h.ReceivedPacket(2)
	h.ReceivedPacket(4)
	h.ReceivedPacket(10)
	h.ReceivedPacket(11)
	h.DeleteBelow(6)
	require.Equal(t, []wire.AckRange{{Smallest: 10, Largest: 11}}, h.AppendAckRanges(nil))
	// packets below the deletion limit are potential duplicates
	require.True(t, h.IsPotentiallyDuplicate(4))
	// deleting in the middle of a range trims it
	h.DeleteBelow(11)
	require.Equal(t, []wire.AckRange{{Smallest: 11, Largest: 11}}, h.AppendAckRanges(nil))
}
