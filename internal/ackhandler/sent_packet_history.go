package ackhandler

import (
	"fmt"

	"github.com/quicsrv/quic/internal/protocol"
)

// The sentPacketHistory keeps track of all ack-eliciting packets sent in a
// packet number space, ordered by packet number.
type sentPacketHistory struct {
	packets []*Packet

	numOutstanding int

	highestPacketNumber protocol.PacketNumber
}

func newSentPacketHistory() *sentPacketHistory {
	return &sentPacketHistory{
		packets:             make([]*Packet, 0, 32),
		highestPacketNumber: protocol.InvalidPacketNumber,
	}
}

func (h *sentPacketHistory) checkSequentialPacketNumberUse(pn protocol.PacketNumber) {
	if h.highestPacketNumber != protocol.InvalidPacketNumber {
		if pn != h.highestPacketNumber+1 {
			panic("non-sequential packet number use")
		}
	}
}

func (h *sentPacketHistory) SkippedPacket(pn protocol.PacketNumber) {
	h.checkSequentialPacketNumberUse(pn)
	h.highestPacketNumber = pn
	h.packets = append(h.packets, &Packet{
		PacketNumber:  pn,
		skippedPacket: true,
	})
}

func (h *sentPacketHistory) SentNonAckElicitingPacket(pn protocol.PacketNumber) {
	h.checkSequentialPacketNumberUse(pn)
	h.highestPacketNumber = pn
}

func (h *sentPacketHistory) SentAckElicitingPacket(p *Packet) {
	h.checkSequentialPacketNumberUse(p.PacketNumber)
	h.highestPacketNumber = p.PacketNumber
	h.packets = append(h.packets, p)
	if p.outstanding() {
		h.numOutstanding++
	}
}

// Iterate iterates through all packets.
func (h *sentPacketHistory) Iterate(cb func(*Packet) (cont bool, err error)) error {
	for _, p := range h.packets {
		if p == nil {
			continue
		}
		cont, err := cb(p)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// FirstOutstanding returns the first outstanding packet.
func (h *sentPacketHistory) FirstOutstanding() *Packet {
	if !h.HasOutstandingPackets() {
		return nil
	}
	for _, p := range h.packets {
		if p != nil && p.outstanding() {
			return p
		}
	}
	return nil
}

func (h *sentPacketHistory) Len() int {
	return len(h.packets)
}

func (h *sentPacketHistory) Remove(pn protocol.PacketNumber) error {
	idx, ok := h.getIndex(pn)
	if !ok {
		return fmt.Errorf("packet %d not found in sent packet history", pn)
	}
	p := h.packets[idx]
	if p.outstanding() {
		h.numOutstanding--
		if h.numOutstanding < 0 {
			panic("negative number of outstanding packets")
		}
	}
	h.packets[idx] = nil
	// garbage collect entries from the front of the queue
	firstNonNil := 0
	for firstNonNil < len(h.packets) && h.packets[firstNonNil] == nil {
		firstNonNil++
	}
	h.packets = h.packets[firstNonNil:]
	return nil
}

func (h *sentPacketHistory) getIndex(p protocol.PacketNumber) (int, bool) {
	if len(h.packets) == 0 {
		return 0, false
	}
	var first protocol.PacketNumber = protocol.InvalidPacketNumber
	var firstIdx int
	for i, pkt := range h.packets {
		if pkt != nil {
			first = pkt.PacketNumber
			firstIdx = i
			break
		}
	}
	if first == protocol.InvalidPacketNumber || p < first {
		return 0, false
	}
	for i := firstIdx; i < len(h.packets); i++ {
		if h.packets[i] != nil && h.packets[i].PacketNumber == p {
			return i, true
		}
		if h.packets[i] != nil && h.packets[i].PacketNumber > p {
			return 0, false
		}
	}
	return 0, false
}

func (h *sentPacketHistory) HasOutstandingPackets() bool {
	return h.numOutstanding > 0
}

// DeclareLost declares a packet lost.
// It does not remove the packet from the history: a spurious loss declaration
// can later be detected when an ACK for the packet arrives.
func (h *sentPacketHistory) DeclareLost(pn protocol.PacketNumber) {
	idx, ok := h.getIndex(pn)
	if !ok {
		return
	}
	p := h.packets[idx]
	if p.outstanding() {
		h.numOutstanding--
		if h.numOutstanding < 0 {
			panic("negative number of outstanding packets")
		}
	}
	p.declaredLost = true
}
