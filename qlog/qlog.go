// Package qlog exports connection events in the qlog format (JSON-SEQ
// serialization), suitable for analysis with qvis and friends.
package qlog

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/francoispqt/gojay"

	"github.com/quicsrv/quic/internal/utils"
	"github.com/quicsrv/quic/logging"
)

// The record separator for the JSON text sequence serialization.
const recordSeparator = 0x1e

type connectionTracer struct {
	w             io.WriteCloser
	odcid         logging.ConnectionID
	referenceTime time.Time

	encoder *gojay.Encoder
	buf     *bytes.Buffer

	logger utils.Logger
}

var _ logging.ConnectionTracer = &connectionTracer{}

// NewConnectionTracer creates a new tracer that records a qlog for a
// connection, identified by its original destination connection ID.
func NewConnectionTracer(w io.WriteCloser, odcid logging.ConnectionID) logging.ConnectionTracer {
	buf := &bytes.Buffer{}
	t := &connectionTracer{
		w:             w,
		odcid:         odcid,
		referenceTime: time.Now(),
		buf:           buf,
		encoder:       gojay.NewEncoder(buf),
		logger:        utils.DefaultLogger.WithPrefix("qlog "),
	}
	t.writeTraceHeader()
	return t
}

func (t *connectionTracer) writeTraceHeader() {
	t.buf.WriteByte(recordSeparator)
	fmt.Fprintf(t.buf, `{"qlog_version":"0.3","qlog_format":"JSON-SEQ","title":"quicsrv qlog","trace":{"vantage_point":{"type":"server"},"common_fields":{"ODCID":"%s","group_id":"%s","reference_time":%f,"time_format":"relative"}}}`,
		t.odcid, t.odcid, float64(t.referenceTime.UnixNano())/1e6)
	t.buf.WriteByte('\n')
	t.flush()
}

func (t *connectionTracer) record(details eventDetails) {
	t.buf.WriteByte(recordSeparator)
	if err := t.encoder.Encode(event{
		RelativeTime: time.Since(t.referenceTime),
		eventDetails: details,
	}); err != nil {
		t.logger.Errorf("failed to encode qlog event: %s", err)
		return
	}
	t.buf.WriteByte('\n')
	t.flush()
}

func (t *connectionTracer) flush() {
	if _, err := t.w.Write(t.buf.Bytes()); err != nil {
		t.logger.Errorf("failed to write qlog: %s", err)
	}
	t.buf.Reset()
}

func (t *connectionTracer) StartedConnection(local, remote net.Addr, srcConnID, destConnID logging.ConnectionID) {
	var remoteStr string
	if remote != nil {
		remoteStr = remote.String()
	}
	t.record(eventConnectionStarted{
		SrcConnectionID:  srcConnID.String(),
		DestConnectionID: destConnID.String(),
		RemoteAddr:       remoteStr,
	})
}

func (t *connectionTracer) ClosedConnection(e error) {
	t.record(eventConnectionClosed{Reason: e.Error()})
}

func (t *connectionTracer) SentTransportParameters(tp *logging.TransportParameters) {
	t.recordTransportParameters(ownerLocal, tp)
}

func (t *connectionTracer) ReceivedTransportParameters(tp *logging.TransportParameters) {
	t.recordTransportParameters(ownerRemote, tp)
}

func (t *connectionTracer) recordTransportParameters(owner owner, tp *logging.TransportParameters) {
	ev := eventTransportParameters{
		Owner:                          owner,
		InitialSourceConnectionID:      tp.InitialSourceConnectionID.String(),
		DisableActiveMigration:         tp.DisableActiveMigration,
		MaxIdleTimeout:                 tp.MaxIdleTimeout,
		MaxUDPPayloadSize:              int64(tp.MaxUDPPayloadSize),
		AckDelayExponent:               tp.AckDelayExponent,
		MaxAckDelay:                    tp.MaxAckDelay,
		ActiveConnectionIDLimit:        tp.ActiveConnectionIDLimit,
		InitialMaxData:                 int64(tp.InitialMaxData),
		InitialMaxStreamDataBidiLocal:  int64(tp.InitialMaxStreamDataBidiLocal),
		InitialMaxStreamDataBidiRemote: int64(tp.InitialMaxStreamDataBidiRemote),
		InitialMaxStreamDataUni:        int64(tp.InitialMaxStreamDataUni),
		InitialMaxStreamsBidi:          int64(tp.MaxBidiStreamNum),
		InitialMaxStreamsUni:           int64(tp.MaxUniStreamNum),
	}
	if tp.OriginalDestinationConnectionID.Len() > 0 {
		ev.OriginalDestinationConnectionID = tp.OriginalDestinationConnectionID.String()
	}
	if tp.RetrySourceConnectionID != nil {
		ev.RetrySourceConnectionID = tp.RetrySourceConnectionID.String()
	}
	if tp.StatelessResetToken != nil {
		ev.StatelessResetToken = fmtConnID(tp.StatelessResetToken[:])
	}
	t.record(ev)
}

func (t *connectionTracer) SentPacket(typ logging.PacketType, pn logging.PacketNumber, size logging.ByteCount, ack *logging.AckFrame, fs []logging.Frame) {
	evFrames := make(frames, 0, len(fs)+1)
	if ack != nil {
		evFrames = append(evFrames, frame{Frame: ack})
	}
	for _, f := range fs {
		evFrames = append(evFrames, frame{Frame: f})
	}
	t.record(eventPacketSent{
		PacketType:   packetTypeString(typ),
		PacketNumber: int64(pn),
		PacketSize:   int64(size),
		Frames:       evFrames,
	})
}

func (t *connectionTracer) ReceivedPacket(typ logging.PacketType, pn logging.PacketNumber, size logging.ByteCount, fs []logging.Frame) {
	evFrames := make(frames, 0, len(fs))
	for _, f := range fs {
		evFrames = append(evFrames, frame{Frame: f})
	}
	t.record(eventPacketReceived{
		PacketType:   packetTypeString(typ),
		PacketNumber: int64(pn),
		PacketSize:   int64(size),
		Frames:       evFrames,
	})
}

func (t *connectionTracer) ReceivedVersionNegotiationPacket(dest, src logging.ConnectionID, _ []logging.Version) {
	t.record(versionNegotiationReceived{Dest: dest.String(), Src: src.String()})
}

func (t *connectionTracer) ReceivedRetry(*logging.Header) {
	// the server never receives a Retry
}

func (t *connectionTracer) BufferedPacket(typ logging.PacketType) {
	t.record(eventPacketBuffered{PacketType: packetTypeString(typ)})
}

func (t *connectionTracer) DroppedPacket(typ logging.PacketType, size logging.ByteCount, reason logging.PacketDropReason) {
	t.record(eventPacketDropped{
		PacketType: packetTypeString(typ),
		PacketSize: int64(size),
		Trigger:    dropReasonString(reason),
	})
}

func (t *connectionTracer) UpdatedMetrics(rttStats *logging.RTTStats, cwnd, bytesInFlight logging.ByteCount, packetsInFlight int) {
	t.record(eventMetricsUpdated{
		MinRTT:           rttStats.MinRTT(),
		SmoothedRTT:      rttStats.SmoothedRTT(),
		LatestRTT:        rttStats.LatestRTT(),
		RTTVariance:      rttStats.MeanDeviation(),
		CongestionWindow: int64(cwnd),
		BytesInFlight:    int64(bytesInFlight),
		PacketsInFlight:  packetsInFlight,
	})
}

func (t *connectionTracer) AcknowledgedPacket(logging.EncryptionLevel, logging.PacketNumber) {}

func (t *connectionTracer) LostPacket(encLevel logging.EncryptionLevel, pn logging.PacketNumber, reason logging.PacketLossReason) {
	t.record(eventPacketLost{
		PacketType:   packetTypeString(packetTypeFromEncryptionLevel(encLevel)),
		PacketNumber: int64(pn),
		Trigger:      lossReasonString(reason),
	})
}

func (t *connectionTracer) UpdatedCongestionState(state logging.CongestionState) {
	t.record(eventCongestionStateUpdated{state: congestionStateString(state)})
}

func (t *connectionTracer) UpdatedPTOCount(value uint32) {
	t.record(eventUpdatedPTO{Value: value})
}

func (t *connectionTracer) UpdatedKeyFromTLS(encLevel logging.EncryptionLevel, pers logging.Perspective) {
	t.record(eventKeyUpdated{
		Trigger: "tls",
		KeyType: encLevelToKeyType(encLevel, pers),
	})
}

func (t *connectionTracer) UpdatedKey(generation logging.KeyPhase, remote bool) {
	trigger := "local_update"
	if remote {
		trigger = "remote_update"
	}
	t.record(eventKeyUpdated{
		Trigger:  trigger,
		KeyType:  keyTypeServer1RTT,
		KeyPhase: uint64(generation),
	})
	t.record(eventKeyUpdated{
		Trigger:  trigger,
		KeyType:  keyTypeClient1RTT,
		KeyPhase: uint64(generation),
	})
}

func (t *connectionTracer) DroppedEncryptionLevel(encLevel logging.EncryptionLevel) {
	t.record(eventKeyDiscarded{KeyType: encLevelToKeyType(encLevel, logging.PerspectiveServer)})
	t.record(eventKeyDiscarded{KeyType: encLevelToKeyType(encLevel, logging.PerspectiveClient)})
}

func (t *connectionTracer) DroppedKey(generation logging.KeyPhase) {
	t.record(eventKeyDiscarded{KeyType: keyTypeServer1RTT, KeyPhase: uint64(generation)})
	t.record(eventKeyDiscarded{KeyType: keyTypeClient1RTT, KeyPhase: uint64(generation)})
}

func (t *connectionTracer) SetLossTimer(tt logging.TimerType, encLevel logging.EncryptionLevel, deadline time.Time) {
	t.record(eventLossTimerSet{
		TimerType: timerTypeString(tt),
		EncLevel:  encLevelToPacketNumberSpace(encLevel),
		Delta:     time.Until(deadline),
	})
}

func (t *connectionTracer) LossTimerExpired(tt logging.TimerType, encLevel logging.EncryptionLevel) {
	t.record(eventLossTimerExpired{
		TimerType: timerTypeString(tt),
		EncLevel:  encLevelToPacketNumberSpace(encLevel),
	})
}

func (t *connectionTracer) LossTimerCanceled() {
	t.record(eventLossTimerCanceled{})
}

func (t *connectionTracer) Close() {
	if err := t.w.Close(); err != nil {
		t.logger.Errorf("failed to close qlog: %s", err)
	}
}

func packetTypeFromEncryptionLevel(encLevel logging.EncryptionLevel) logging.PacketType {
	switch encLevel {
	case logging.EncryptionInitial:
		return logging.PacketTypeInitial
	case logging.EncryptionHandshake:
		return logging.PacketTypeHandshake
	case logging.Encryption0RTT:
		return logging.PacketType0RTT
	default:
		return logging.PacketType1RTT
	}
}
