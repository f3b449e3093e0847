package ackhandler

import (
	"time"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/wire"
)

// SentPacketHandler handles ACKs received for outgoing packets
type SentPacketHandler interface {
	// SentPacket may modify the packet
	SentPacket(packet *Packet)
	ReceivedAck(ackFrame *wire.AckFrame, encLevel protocol.EncryptionLevel, recvTime time.Time) (bool /* 1-RTT packet acked */, error)
	ReceivedBytes(_ protocol.ByteCount, rcvTime time.Time)
	DropPackets(_ protocol.EncryptionLevel, now time.Time)
	ResetForRetry(rcvTime time.Time) error
	SetHandshakeConfirmed(now time.Time)

	// The SendMode determines if and what kind of packets can be sent.
	SendMode() SendMode
	// AmplificationWindow returns the number of bytes the server is allowed to
	// send before the client's address is validated.
	AmplificationWindow() protocol.ByteCount

	// QueueProbePacket queues a probe packet.
	// If the queueing was successful, it returns true.
	// In that case, the frames of the oldest packet are moved back to the retransmission queue.
	QueueProbePacket(protocol.EncryptionLevel) bool

	PeekPacketNumber(protocol.EncryptionLevel) (protocol.PacketNumber, protocol.PacketNumberLen)
	PopPacketNumber(protocol.EncryptionLevel) protocol.PacketNumber

	GetLossDetectionTimeout() time.Time
	OnLossDetectionTimeout(now time.Time) error
}

type sentPacketTracker interface {
	GetLowestPacketNotConfirmedAcked() protocol.PacketNumber
	ReceivedPacket(_ protocol.EncryptionLevel, rcvTime time.Time)
}

// ReceivedPacketHandler handles ACKs needed to send for incoming packets
type ReceivedPacketHandler interface {
	IsPotentiallyDuplicate(protocol.PacketNumber, protocol.EncryptionLevel) bool
	ReceivedPacket(pn protocol.PacketNumber, encLevel protocol.EncryptionLevel, rcvTime time.Time, shouldInstigateAck bool) error
	DropPackets(protocol.EncryptionLevel)

	GetAlarmTimeout() time.Time
	GetAckFrame(encLevel protocol.EncryptionLevel, now time.Time, onlyIfQueued bool) *wire.AckFrame
}
