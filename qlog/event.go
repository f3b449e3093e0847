package qlog

import (
	"fmt"
	"time"

	"github.com/francoispqt/gojay"
)

type eventDetails interface {
	Category() string
	Name() string
	gojay.MarshalerJSONObject
}

type event struct {
	RelativeTime time.Duration
	eventDetails
}

var _ gojay.MarshalerJSONObject = event{}

func (e event) IsNil() bool { return false }
func (e event) MarshalJSONObject(enc *gojay.Encoder) {
	enc.Float64Key("time", milliseconds(e.RelativeTime))
	enc.StringKey("name", e.Category()+":"+e.Name())
	enc.ObjectKey("data", e.eventDetails)
}

func milliseconds(dur time.Duration) float64 { return float64(dur.Nanoseconds()) / 1e6 }

type eventConnectionStarted struct {
	SrcConnectionID  string
	DestConnectionID string
	RemoteAddr       string
}

func (e eventConnectionStarted) Category() string { return "transport" }
func (e eventConnectionStarted) Name() string     { return "connection_started" }
func (e eventConnectionStarted) IsNil() bool      { return false }

func (e eventConnectionStarted) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("src_cid", e.SrcConnectionID)
	enc.StringKey("dst_cid", e.DestConnectionID)
	enc.StringKeyOmitEmpty("remote", e.RemoteAddr)
}

type eventConnectionClosed struct {
	Reason string
}

func (e eventConnectionClosed) Category() string { return "transport" }
func (e eventConnectionClosed) Name() string     { return "connection_closed" }
func (e eventConnectionClosed) IsNil() bool      { return false }

func (e eventConnectionClosed) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("trigger", e.Reason)
}

type eventPacketSent struct {
	PacketType   string
	PacketNumber int64
	PacketSize   int64
	Frames       frames
}

func (e eventPacketSent) Category() string { return "transport" }
func (e eventPacketSent) Name() string     { return "packet_sent" }
func (e eventPacketSent) IsNil() bool      { return false }

func (e eventPacketSent) MarshalJSONObject(enc *gojay.Encoder) {
	enc.ObjectKey("header", packetHeader{PacketType: e.PacketType, PacketNumber: e.PacketNumber})
	enc.ObjectKey("raw", rawInfo{Length: e.PacketSize})
	if len(e.Frames) > 0 {
		enc.ArrayKey("frames", e.Frames)
	}
}

type eventPacketReceived struct {
	PacketType   string
	PacketNumber int64
	PacketSize   int64
	Frames       frames
}

func (e eventPacketReceived) Category() string { return "transport" }
func (e eventPacketReceived) Name() string     { return "packet_received" }
func (e eventPacketReceived) IsNil() bool      { return false }

func (e eventPacketReceived) MarshalJSONObject(enc *gojay.Encoder) {
	enc.ObjectKey("header", packetHeader{PacketType: e.PacketType, PacketNumber: e.PacketNumber})
	enc.ObjectKey("raw", rawInfo{Length: e.PacketSize})
	if len(e.Frames) > 0 {
		enc.ArrayKey("frames", e.Frames)
	}
}

type eventPacketDropped struct {
	PacketType string
	PacketSize int64
	Trigger    string
}

func (e eventPacketDropped) Category() string { return "transport" }
func (e eventPacketDropped) Name() string     { return "packet_dropped" }
func (e eventPacketDropped) IsNil() bool      { return false }

func (e eventPacketDropped) MarshalJSONObject(enc *gojay.Encoder) {
	enc.ObjectKey("header", packetHeader{PacketType: e.PacketType, PacketNumber: -1})
	enc.ObjectKey("raw", rawInfo{Length: e.PacketSize})
	enc.StringKey("trigger", e.Trigger)
}

type eventPacketBuffered struct {
	PacketType string
}

func (e eventPacketBuffered) Category() string { return "transport" }
func (e eventPacketBuffered) Name() string     { return "packet_buffered" }
func (e eventPacketBuffered) IsNil() bool      { return false }

func (e eventPacketBuffered) MarshalJSONObject(enc *gojay.Encoder) {
	enc.ObjectKey("header", packetHeader{PacketType: e.PacketType, PacketNumber: -1})
	enc.StringKey("trigger", "keys_unavailable")
}

type eventPacketLost struct {
	PacketType   string
	PacketNumber int64
	Trigger      string
}

func (e eventPacketLost) Category() string { return "recovery" }
func (e eventPacketLost) Name() string     { return "packet_lost" }
func (e eventPacketLost) IsNil() bool      { return false }

func (e eventPacketLost) MarshalJSONObject(enc *gojay.Encoder) {
	enc.ObjectKey("header", packetHeader{PacketType: e.PacketType, PacketNumber: e.PacketNumber})
	enc.StringKey("trigger", e.Trigger)
}

type eventMetricsUpdated struct {
	MinRTT           time.Duration
	SmoothedRTT      time.Duration
	LatestRTT        time.Duration
	RTTVariance      time.Duration
	CongestionWindow int64
	BytesInFlight    int64
	PacketsInFlight  int
}

func (e eventMetricsUpdated) Category() string { return "recovery" }
func (e eventMetricsUpdated) Name() string     { return "metrics_updated" }
func (e eventMetricsUpdated) IsNil() bool      { return false }

func (e eventMetricsUpdated) MarshalJSONObject(enc *gojay.Encoder) {
	enc.Float64Key("min_rtt", milliseconds(e.MinRTT))
	enc.Float64Key("smoothed_rtt", milliseconds(e.SmoothedRTT))
	enc.Float64Key("latest_rtt", milliseconds(e.LatestRTT))
	enc.Float64Key("rtt_variance", milliseconds(e.RTTVariance))
	enc.Int64Key("congestion_window", e.CongestionWindow)
	enc.Int64Key("bytes_in_flight", e.BytesInFlight)
	enc.IntKeyOmitEmpty("packets_in_flight", e.PacketsInFlight)
}

type eventUpdatedPTO struct {
	Value uint32
}

func (e eventUpdatedPTO) Category() string { return "recovery" }
func (e eventUpdatedPTO) Name() string     { return "metrics_updated" }
func (e eventUpdatedPTO) IsNil() bool      { return false }

func (e eventUpdatedPTO) MarshalJSONObject(enc *gojay.Encoder) {
	enc.Uint32Key("pto_count", e.Value)
}

type eventKeyUpdated struct {
	Trigger  string
	KeyType  keyType
	KeyPhase uint64
}

func (e eventKeyUpdated) Category() string { return "security" }
func (e eventKeyUpdated) Name() string     { return "key_updated" }
func (e eventKeyUpdated) IsNil() bool      { return false }

func (e eventKeyUpdated) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("trigger", e.Trigger)
	enc.StringKey("key_type", e.KeyType.String())
	if e.KeyType == keyTypeClient1RTT || e.KeyType == keyTypeServer1RTT {
		enc.Uint64Key("key_phase", e.KeyPhase)
	}
}

type eventKeyDiscarded struct {
	KeyType  keyType
	KeyPhase uint64
}

func (e eventKeyDiscarded) Category() string { return "security" }
func (e eventKeyDiscarded) Name() string     { return "key_discarded" }
func (e eventKeyDiscarded) IsNil() bool      { return false }

func (e eventKeyDiscarded) MarshalJSONObject(enc *gojay.Encoder) {
	if e.KeyType != keyTypeClient1RTT && e.KeyType != keyTypeServer1RTT {
		enc.StringKey("trigger", "tls")
	}
	enc.StringKey("key_type", e.KeyType.String())
	if e.KeyType == keyTypeClient1RTT || e.KeyType == keyTypeServer1RTT {
		enc.Uint64Key("key_phase", e.KeyPhase)
	}
}

type eventLossTimerSet struct {
	TimerType string
	EncLevel  string
	Delta     time.Duration
}

func (e eventLossTimerSet) Category() string { return "recovery" }
func (e eventLossTimerSet) Name() string     { return "loss_timer_updated" }
func (e eventLossTimerSet) IsNil() bool      { return false }

func (e eventLossTimerSet) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("event_type", "set")
	enc.StringKey("timer_type", e.TimerType)
	enc.StringKey("packet_number_space", e.EncLevel)
	enc.Float64Key("delta", milliseconds(e.Delta))
}

type eventLossTimerExpired struct {
	TimerType string
	EncLevel  string
}

func (e eventLossTimerExpired) Category() string { return "recovery" }
func (e eventLossTimerExpired) Name() string     { return "loss_timer_updated" }
func (e eventLossTimerExpired) IsNil() bool      { return false }

func (e eventLossTimerExpired) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("event_type", "expired")
	enc.StringKey("timer_type", e.TimerType)
	enc.StringKey("packet_number_space", e.EncLevel)
}

type eventLossTimerCanceled struct{}

func (e eventLossTimerCanceled) Category() string { return "recovery" }
func (e eventLossTimerCanceled) Name() string     { return "loss_timer_updated" }
func (e eventLossTimerCanceled) IsNil() bool      { return false }

func (e eventLossTimerCanceled) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("event_type", "cancelled")
}

type eventCongestionStateUpdated struct {
	state string
}

func (e eventCongestionStateUpdated) Category() string { return "recovery" }
func (e eventCongestionStateUpdated) Name() string     { return "congestion_state_updated" }
func (e eventCongestionStateUpdated) IsNil() bool      { return false }

func (e eventCongestionStateUpdated) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("new", e.state)
}

type eventTransportParameters struct {
	Owner owner

	OriginalDestinationConnectionID string
	InitialSourceConnectionID       string
	RetrySourceConnectionID         string
	StatelessResetToken             string

	DisableActiveMigration  bool
	MaxIdleTimeout          time.Duration
	MaxUDPPayloadSize       int64
	AckDelayExponent        uint8
	MaxAckDelay             time.Duration
	ActiveConnectionIDLimit uint64

	InitialMaxData                 int64
	InitialMaxStreamDataBidiLocal  int64
	InitialMaxStreamDataBidiRemote int64
	InitialMaxStreamDataUni        int64
	InitialMaxStreamsBidi          int64
	InitialMaxStreamsUni           int64
}

func (e eventTransportParameters) Category() string { return "transport" }
func (e eventTransportParameters) Name() string     { return "parameters_set" }
func (e eventTransportParameters) IsNil() bool      { return false }

func (e eventTransportParameters) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("owner", e.Owner.String())
	if e.OriginalDestinationConnectionID != "" {
		enc.StringKey("original_destination_connection_id", e.OriginalDestinationConnectionID)
	}
	enc.StringKey("initial_source_connection_id", e.InitialSourceConnectionID)
	if e.RetrySourceConnectionID != "" {
		enc.StringKey("retry_source_connection_id", e.RetrySourceConnectionID)
	}
	if e.StatelessResetToken != "" {
		enc.StringKey("stateless_reset_token", e.StatelessResetToken)
	}
	enc.BoolKey("disable_active_migration", e.DisableActiveMigration)
	enc.Float64KeyOmitEmpty("max_idle_timeout", milliseconds(e.MaxIdleTimeout))
	enc.Int64KeyOmitEmpty("max_udp_payload_size", e.MaxUDPPayloadSize)
	enc.IntKeyOmitEmpty("ack_delay_exponent", int(e.AckDelayExponent))
	enc.Float64KeyOmitEmpty("max_ack_delay", milliseconds(e.MaxAckDelay))
	enc.Uint64KeyOmitEmpty("active_connection_id_limit", e.ActiveConnectionIDLimit)
	enc.Int64KeyOmitEmpty("initial_max_data", e.InitialMaxData)
	enc.Int64KeyOmitEmpty("initial_max_stream_data_bidi_local", e.InitialMaxStreamDataBidiLocal)
	enc.Int64KeyOmitEmpty("initial_max_stream_data_bidi_remote", e.InitialMaxStreamDataBidiRemote)
	enc.Int64KeyOmitEmpty("initial_max_stream_data_uni", e.InitialMaxStreamDataUni)
	enc.Int64KeyOmitEmpty("initial_max_streams_bidi", e.InitialMaxStreamsBidi)
	enc.Int64KeyOmitEmpty("initial_max_streams_uni", e.InitialMaxStreamsUni)
}

type packetHeader struct {
	PacketType   string
	PacketNumber int64
}

var _ gojay.MarshalerJSONObject = packetHeader{}

func (h packetHeader) IsNil() bool { return false }
func (h packetHeader) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("packet_type", h.PacketType)
	if h.PacketNumber >= 0 {
		enc.Int64Key("packet_number", h.PacketNumber)
	}
}

type rawInfo struct {
	Length int64
}

var _ gojay.MarshalerJSONObject = rawInfo{}

func (i rawInfo) IsNil() bool { return false }
func (i rawInfo) MarshalJSONObject(enc *gojay.Encoder) {
	enc.Int64Key("length", i.Length)
}

type versionNegotiationReceived struct {
	Dest string
	Src  string
}

func (e versionNegotiationReceived) Category() string { return "transport" }
func (e versionNegotiationReceived) Name() string     { return "packet_received" }
func (e versionNegotiationReceived) IsNil() bool      { return false }

func (e versionNegotiationReceived) MarshalJSONObject(enc *gojay.Encoder) {
	enc.ObjectKey("header", packetHeader{PacketType: "version_negotiation", PacketNumber: -1})
	enc.StringKey("dst_cid", e.Dest)
	enc.StringKey("src_cid", e.Src)
}

func fmtConnID(b []byte) string { return fmt.Sprintf("%x", b) }
