package logging

import (
	"net"
	"time"
)

// The NullConnectionTracer is a ConnectionTracer that does nothing.
// It is useful for embedding, when only a few methods are to be implemented.
type NullConnectionTracer struct{}

var _ ConnectionTracer = &NullConnectionTracer{}

func (n NullConnectionTracer) StartedConnection(local, remote net.Addr, srcConnID, destConnID ConnectionID) {
}
func (n NullConnectionTracer) ClosedConnection(err error)                   {}
func (n NullConnectionTracer) SentTransportParameters(*TransportParameters) {}
func (n NullConnectionTracer) ReceivedTransportParameters(*TransportParameters) {
}
func (n NullConnectionTracer) SentPacket(PacketType, PacketNumber, ByteCount, *AckFrame, []Frame) {}
func (n NullConnectionTracer) ReceivedVersionNegotiationPacket(dest, src ConnectionID, _ []Version) {
}
func (n NullConnectionTracer) ReceivedRetry(*Header)                                       {}
func (n NullConnectionTracer) ReceivedPacket(PacketType, PacketNumber, ByteCount, []Frame) {}
func (n NullConnectionTracer) BufferedPacket(PacketType)                                   {}
func (n NullConnectionTracer) DroppedPacket(PacketType, ByteCount, PacketDropReason) {
}
func (n NullConnectionTracer) UpdatedMetrics(rttStats *RTTStats, cwnd, bytesInFlight ByteCount, packetsInFlight int) {
}
func (n NullConnectionTracer) AcknowledgedPacket(EncryptionLevel, PacketNumber) {}
func (n NullConnectionTracer) LostPacket(EncryptionLevel, PacketNumber, PacketLossReason) {
}
func (n NullConnectionTracer) UpdatedCongestionState(CongestionState)         {}
func (n NullConnectionTracer) UpdatedPTOCount(uint32)                         {}
func (n NullConnectionTracer) UpdatedKeyFromTLS(EncryptionLevel, Perspective) {}
func (n NullConnectionTracer) UpdatedKey(KeyPhase, bool)                      {}
func (n NullConnectionTracer) DroppedEncryptionLevel(EncryptionLevel)         {}
func (n NullConnectionTracer) DroppedKey(KeyPhase)                            {}
func (n NullConnectionTracer) SetLossTimer(TimerType, EncryptionLevel, time.Time) {
}
func (n NullConnectionTracer) LossTimerExpired(TimerType, EncryptionLevel) {}
func (n NullConnectionTracer) LossTimerCanceled()                          {}
func (n NullConnectionTracer) Close()                                      {}
