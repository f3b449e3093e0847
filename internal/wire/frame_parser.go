package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/quicvarint"
)

var errUnknownFrameType = errors.New("unknown frame type")

// The FrameParser parses QUIC frames, one by one.
type FrameParser struct {
	ackDelayExponent uint8

	// To avoid allocating when parsing, keep a single ACK frame struct.
	// It is used over and over again.
	ackFrame *AckFrame
}

// NewFrameParser creates a new frame parser.
func NewFrameParser() *FrameParser {
	return &FrameParser{ackFrame: &AckFrame{}}
}

// ParseNext parses the next frame.
// It skips PADDING frames.
func (p *FrameParser) ParseNext(data []byte, encLevel protocol.EncryptionLevel, v protocol.Version) (int, Frame, error) {
	frame, l, err := p.parseNext(data, encLevel, v)
	return l, frame, err
}

func (p *FrameParser) parseNext(b []byte, encLevel protocol.EncryptionLevel, v protocol.Version) (Frame, int, error) {
	var parsed int
	for len(b) != 0 {
		typ, l, err := quicvarint.Parse(b)
		parsed += l
		if err != nil {
			return nil, parsed, &qerr.TransportError{
				ErrorCode:    qerr.FrameEncodingError,
				ErrorMessage: err.Error(),
			}
		}
		b = b[l:]
		if typ == uint64(PaddingFrameType) { // skip PADDING frames
			continue
		}

		f, l, err := p.parseFrame(b, FrameType(typ), encLevel, v)
		parsed += l
		if err != nil {
			return nil, parsed, &qerr.TransportError{
				FrameType:    typ,
				ErrorCode:    qerr.FrameEncodingError,
				ErrorMessage: err.Error(),
			}
		}
		return f, parsed, nil
	}
	return nil, parsed, nil
}

func (p *FrameParser) parseFrame(b []byte, typ FrameType, encLevel protocol.EncryptionLevel, v protocol.Version) (Frame, int, error) {
	var frame Frame
	var l int
	var err error
	if typ.IsStreamFrameType() {
		frame, l, err = parseStreamFrame(b, typ, v)
	} else {
		switch typ {
		case PingFrameType:
			frame = &PingFrame{}
		case AckFrameType, AckECNFrameType:
			ackDelayExponent := p.ackDelayExponent
			if encLevel != protocol.Encryption1RTT {
				ackDelayExponent = protocol.DefaultAckDelayExponent
			}
			p.ackFrame.Reset()
			l, err = parseAckFrame(p.ackFrame, b, typ, ackDelayExponent, v)
			frame = p.ackFrame
		case ResetStreamFrameType:
			frame, l, err = parseResetStreamFrame(b, v)
		case StopSendingFrameType:
			frame, l, err = parseStopSendingFrame(b, v)
		case CryptoFrameType:
			frame, l, err = parseCryptoFrame(b, v)
		case NewTokenFrameType:
			frame, l, err = parseNewTokenFrame(b, v)
		case MaxDataFrameType:
			frame, l, err = parseMaxDataFrame(b, v)
		case MaxStreamDataFrameType:
			frame, l, err = parseMaxStreamDataFrame(b, v)
		case BidiMaxStreamsFrameType, UniMaxStreamsFrameType:
			frame, l, err = parseMaxStreamsFrame(b, typ, v)
		case DataBlockedFrameType:
			frame, l, err = parseDataBlockedFrame(b, v)
		case StreamDataBlockedFrameType:
			frame, l, err = parseStreamDataBlockedFrame(b, v)
		case BidiStreamBlockedFrameType, UniStreamBlockedFrameType:
			frame, l, err = parseStreamsBlockedFrame(b, typ, v)
		case NewConnectionIDFrameType:
			frame, l, err = parseNewConnectionIDFrame(b, v)
		case RetireConnectionIDFrameType:
			frame, l, err = parseRetireConnectionIDFrame(b, v)
		case PathChallengeFrameType:
			frame, l, err = parsePathChallengeFrame(b, v)
		case PathResponseFrameType:
			frame, l, err = parsePathResponseFrame(b, v)
		case ConnectionCloseFrameType, ApplicationCloseFrameType:
			frame, l, err = parseConnectionCloseFrame(b, typ, v)
		case HandshakeDoneFrameType:
			frame = &HandshakeDoneFrame{}
		default:
			err = errUnknownFrameType
		}
	}
	if err != nil {
		return nil, l, err
	}
	if !typ.isAllowedAtEncLevel(encLevel) {
		return nil, l, fmt.Errorf("%d not allowed at encryption level %s", typ, encLevel)
	}
	return frame, l, nil
}

// SetAckDelayExponent sets the acknowledgment delay exponent (sent in the transport parameters).
// This value is used to scale the ACK Delay field in the ACK frame.
func (p *FrameParser) SetAckDelayExponent(exp uint8) {
	p.ackDelayExponent = exp
}

// IsProbingFrame says if a frame is a probing frame (PATH_CHALLENGE,
// PATH_RESPONSE, NEW_CONNECTION_ID and PADDING).
func IsProbingFrame(f Frame) bool {
	switch f.(type) {
	case *PathChallengeFrame, *PathResponseFrame, *NewConnectionIDFrame:
		return true
	}
	return false
}

func replaceUnexpectedEOF(e error) error {
	if e == io.ErrUnexpectedEOF {
		return io.EOF
	}
	return e
}
