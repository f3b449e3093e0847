package qlog

import (
	"github.com/francoispqt/gojay"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/wire"
	"github.com/quicsrv/quic/logging"
)

type frame struct {
	Frame logging.Frame
}

var _ gojay.MarshalerJSONObject = frame{}

type frames []frame

var _ gojay.MarshalerJSONArray = frames{}

func (fs frames) IsNil() bool { return fs == nil }
func (fs frames) MarshalJSONArray(enc *gojay.Encoder) {
	for _, f := range fs {
		enc.Object(f)
	}
}

func (f frame) IsNil() bool { return false }

func (f frame) MarshalJSONObject(enc *gojay.Encoder) {
	switch fr := f.Frame.(type) {
	case *wire.PingFrame:
		enc.StringKey("frame_type", "ping")
	case *wire.AckFrame:
		enc.StringKey("frame_type", "ack")
		enc.Float64KeyOmitEmpty("ack_delay", milliseconds(fr.DelayTime))
		enc.ArrayKey("acked_ranges", ackRanges(fr.AckRanges))
	case *wire.ResetStreamFrame:
		enc.StringKey("frame_type", "reset_stream")
		enc.Int64Key("stream_id", int64(fr.StreamID))
		enc.Int64Key("error_code", int64(fr.ErrorCode))
		enc.Int64Key("final_size", int64(fr.FinalSize))
	case *wire.StopSendingFrame:
		enc.StringKey("frame_type", "stop_sending")
		enc.Int64Key("stream_id", int64(fr.StreamID))
		enc.Int64Key("error_code", int64(fr.ErrorCode))
	case *wire.CryptoFrame:
		enc.StringKey("frame_type", "crypto")
		enc.Int64Key("offset", int64(fr.Offset))
		enc.Int64Key("length", int64(len(fr.Data)))
	case *wire.NewTokenFrame:
		enc.StringKey("frame_type", "new_token")
		enc.ObjectKey("token", token{Raw: fr.Token})
	case *wire.StreamFrame:
		enc.StringKey("frame_type", "stream")
		enc.Int64Key("stream_id", int64(fr.StreamID))
		enc.Int64Key("offset", int64(fr.Offset))
		enc.Int64Key("length", int64(fr.DataLen()))
		enc.BoolKeyOmitEmpty("fin", fr.Fin)
	case *wire.MaxDataFrame:
		enc.StringKey("frame_type", "max_data")
		enc.Int64Key("maximum", int64(fr.MaximumData))
	case *wire.MaxStreamDataFrame:
		enc.StringKey("frame_type", "max_stream_data")
		enc.Int64Key("stream_id", int64(fr.StreamID))
		enc.Int64Key("maximum", int64(fr.MaximumStreamData))
	case *wire.MaxStreamsFrame:
		enc.StringKey("frame_type", "max_streams")
		enc.StringKey("stream_type", streamType(fr.Type))
		enc.Int64Key("maximum", int64(fr.MaxStreamNum))
	case *wire.DataBlockedFrame:
		enc.StringKey("frame_type", "data_blocked")
		enc.Int64Key("limit", int64(fr.MaximumData))
	case *wire.StreamDataBlockedFrame:
		enc.StringKey("frame_type", "stream_data_blocked")
		enc.Int64Key("stream_id", int64(fr.StreamID))
		enc.Int64Key("limit", int64(fr.MaximumStreamData))
	case *wire.StreamsBlockedFrame:
		enc.StringKey("frame_type", "streams_blocked")
		enc.StringKey("stream_type", streamType(fr.Type))
		enc.Int64Key("limit", int64(fr.StreamLimit))
	case *wire.NewConnectionIDFrame:
		enc.StringKey("frame_type", "new_connection_id")
		enc.Uint64Key("sequence_number", fr.SequenceNumber)
		enc.Uint64Key("retire_prior_to", fr.RetirePriorTo)
		enc.IntKey("length", fr.ConnectionID.Len())
		enc.StringKey("connection_id", fr.ConnectionID.String())
	case *wire.RetireConnectionIDFrame:
		enc.StringKey("frame_type", "retire_connection_id")
		enc.Uint64Key("sequence_number", fr.SequenceNumber)
	case *wire.PathChallengeFrame:
		enc.StringKey("frame_type", "path_challenge")
	case *wire.PathResponseFrame:
		enc.StringKey("frame_type", "path_response")
	case *wire.ConnectionCloseFrame:
		enc.StringKey("frame_type", "connection_close")
		errorSpace := "transport"
		if fr.IsApplicationError {
			errorSpace = "application"
		}
		enc.StringKey("error_space", errorSpace)
		enc.Uint64Key("raw_error_code", fr.ErrorCode)
		enc.StringKey("reason", fr.ReasonPhrase)
	case *wire.HandshakeDoneFrame:
		enc.StringKey("frame_type", "handshake_done")
	default:
		enc.StringKey("frame_type", "unknown")
	}
}

func streamType(t protocol.StreamType) string {
	if t == protocol.StreamTypeUni {
		return "unidirectional"
	}
	return "bidirectional"
}

type ackRanges []wire.AckRange

var _ gojay.MarshalerJSONArray = ackRanges{}

func (rs ackRanges) IsNil() bool { return false }
func (rs ackRanges) MarshalJSONArray(enc *gojay.Encoder) {
	for _, r := range rs {
		enc.Array(ackRange(r))
	}
}

type ackRange wire.AckRange

var _ gojay.MarshalerJSONArray = ackRange{}

func (r ackRange) IsNil() bool { return false }
func (r ackRange) MarshalJSONArray(enc *gojay.Encoder) {
	enc.Int64(int64(r.Smallest))
	if r.Smallest != r.Largest {
		enc.Int64(int64(r.Largest))
	}
}

type token struct {
	Raw []byte
}

var _ gojay.MarshalerJSONObject = &token{}

func (t token) IsNil() bool { return false }
func (t token) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("data", fmtConnID(t.Raw))
}
