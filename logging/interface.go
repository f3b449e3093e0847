// Package logging defines a logging interface for quic.
package logging

import (
	"net"
	"time"
)

// A ConnectionTracer records events happening on a QUIC connection.
type ConnectionTracer interface {
	StartedConnection(local, remote net.Addr, srcConnID, destConnID ConnectionID)
	ClosedConnection(error)
	SentTransportParameters(*TransportParameters)
	ReceivedTransportParameters(*TransportParameters)
	SentPacket(hdr PacketType, pn PacketNumber, size ByteCount, ack *AckFrame, frames []Frame)
	ReceivedVersionNegotiationPacket(dest, src ConnectionID, _ []Version)
	ReceivedRetry(*Header)
	ReceivedPacket(hdr PacketType, pn PacketNumber, size ByteCount, frames []Frame)
	BufferedPacket(PacketType)
	DroppedPacket(PacketType, ByteCount, PacketDropReason)
	UpdatedMetrics(rttStats *RTTStats, cwnd, bytesInFlight ByteCount, packetsInFlight int)
	AcknowledgedPacket(EncryptionLevel, PacketNumber)
	LostPacket(EncryptionLevel, PacketNumber, PacketLossReason)
	UpdatedCongestionState(CongestionState)
	UpdatedPTOCount(value uint32)
	UpdatedKeyFromTLS(EncryptionLevel, Perspective)
	UpdatedKey(keyPhase KeyPhase, remote bool)
	DroppedEncryptionLevel(EncryptionLevel)
	DroppedKey(keyPhase KeyPhase)
	SetLossTimer(TimerType, EncryptionLevel, time.Time)
	LossTimerExpired(TimerType, EncryptionLevel)
	LossTimerCanceled()
	// Close is called when the connection is closed.
	Close()
}

// CongestionState is the state of the congestion controller.
type CongestionState uint8

const (
	// CongestionStateSlowStart is the slow start phase of Reno
	CongestionStateSlowStart CongestionState = iota
	// CongestionStateCongestionAvoidance is the congestion avoidance phase of Reno
	CongestionStateCongestionAvoidance
	// CongestionStateRecovery is the recovery phase of Reno
	CongestionStateRecovery
	// CongestionStateApplicationLimited means that the congestion controller is application limited
	CongestionStateApplicationLimited
)
