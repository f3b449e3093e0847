package wire

import (
	"testing"
	"time"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"

	"github.com/stretchr/testify/require"
)

// roundtrip serializes the frame, parses it back with the FrameParser,
// and returns the parsed frame.
func roundtrip(t *testing.T, f Frame, encLevel protocol.EncryptionLevel) Frame {
	t.Helper()
	b, err := f.Append(nil, protocol.Version1)
	require.NoError(t, err)
	require.Equal(t, f.Length(protocol.Version1), protocol.ByteCount(len(b)))
	parser := NewFrameParser()
	parser.SetAckDelayExponent(protocol.DefaultAckDelayExponent)
	l, parsed, err := parser.ParseNext(b, encLevel, protocol.Version1)
	require.NoError(t, err)
	require.Equal(t, len(b), l)
	require.NotNil(t, parsed)
	return parsed
}

func TestFrameCodecRoundtrip(t *testing.T) {
	token := protocol.StatelessResetToken{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	frames := []Frame{
		&PingFrame{},
		&ResetStreamFrame{StreamID: 0x1337, ErrorCode: 0x42, FinalSize: 0xdeadbeef},
		&StopSendingFrame{StreamID: 0x42, ErrorCode: 0x1234},
		&CryptoFrame{Offset: 0x1000, Data: []byte("lorem ipsum")},
		&NewTokenFrame{Token: []byte("foobar")},
		&StreamFrame{StreamID: 0x12345, Offset: 0xdecafbad, Data: []byte("foobar"), Fin: true, DataLenPresent: true},
		&StreamFrame{StreamID: 8, Data: []byte("some data"), DataLenPresent: true},
		&MaxDataFrame{MaximumData: 0xcafe},
		&MaxStreamDataFrame{StreamID: 0xdeadbeef, MaximumStreamData: 0xdecafbad},
		&MaxStreamsFrame{Type: protocol.StreamTypeBidi, MaxStreamNum: 0x1337},
		&MaxStreamsFrame{Type: protocol.StreamTypeUni, MaxStreamNum: 42},
		&DataBlockedFrame{MaximumData: 0x1234},
		&StreamDataBlockedFrame{StreamID: 0xdeadbeef, MaximumStreamData: 0xdead},
		&StreamsBlockedFrame{Type: protocol.StreamTypeBidi, StreamLimit: 0x1234567},
		&StreamsBlockedFrame{Type: protocol.StreamTypeUni, StreamLimit: 3},
		&NewConnectionIDFrame{
			SequenceNumber:      0x42,
			RetirePriorTo:       0x24,
			ConnectionID:        protocol.ConnectionID{1, 2, 3, 4},
			StatelessResetToken: token,
		},
		&RetireConnectionIDFrame{SequenceNumber: 0x13},
		&PathChallengeFrame{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		&PathResponseFrame{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		&ConnectionCloseFrame{IsApplicationError: true, ErrorCode: 0x42, ReasonPhrase: "foobar"},
		&ConnectionCloseFrame{ErrorCode: uint64(qerr.FlowControlError), FrameType: 0x8, ReasonPhrase: "violated"},
		&HandshakeDoneFrame{},
	}

	for _, f := range frames {
		parsed := roundtrip(t, f, protocol.Encryption1RTT)
		require.Equal(t, f, parsed)
	}
}

func TestAckFrameRoundtrip(t *testing.T) {
	for _, f := range []*AckFrame{
		{AckRanges: []AckRange{{Smallest: 1, Largest: 0x1337}}},
		{AckRanges: []AckRange{{Smallest: 0x1337, Largest: 0x2000}, {Smallest: 0x100, Largest: 0x200}, {Smallest: 1, Largest: 0x42}}},
		{AckRanges: []AckRange{{Smallest: 1, Largest: 1}}, DelayTime: 16 * time.Millisecond},
		{AckRanges: []AckRange{{Smallest: 0, Largest: 0}}, ECT0: 1, ECT1: 2, ECNCE: 3},
	} {
		b, err := f.Append(nil, protocol.Version1)
		require.NoError(t, err)
		require.Equal(t, f.Length(protocol.Version1), protocol.ByteCount(len(b)))

		parser := NewFrameParser()
		parser.SetAckDelayExponent(protocol.DefaultAckDelayExponent)
		l, frame, err := parser.ParseNext(b, protocol.Encryption1RTT, protocol.Version1)
		require.NoError(t, err)
		require.Equal(t, len(b), l)
		ack, ok := frame.(*AckFrame)
		require.True(t, ok)
		require.Equal(t, f.AckRanges, ack.AckRanges)
		require.Equal(t, f.DelayTime, ack.DelayTime)
		require.Equal(t, f.ECT0, ack.ECT0)
		require.Equal(t, f.ECT1, ack.ECT1)
		require.Equal(t, f.ECNCE, ack.ECNCE)
	}
}

func TestAckFrameAcksPacket(t *testing.T) {
	f := &AckFrame{AckRanges: []AckRange{
		{Smallest: 100, Largest: 200},
		{Smallest: 50, Largest: 60},
	}}
	require.False(t, f.AcksPacket(49))
	require.True(t, f.AcksPacket(50))
	require.True(t, f.AcksPacket(60))
	require.False(t, f.AcksPacket(61))
	require.False(t, f.AcksPacket(99))
	require.True(t, f.AcksPacket(100))
	require.True(t, f.AcksPacket(155))
	require.True(t, f.AcksPacket(200))
	require.False(t, f.AcksPacket(201))
}

func TestFrameParserSkipsPadding(t *testing.T) {
	b := []byte{0, 0, 0} // PADDING
	b = append(b, byte(PingFrameType))
	parser := NewFrameParser()
	l, f, err := parser.ParseNext(b, protocol.Encryption1RTT, protocol.Version1)
	require.NoError(t, err)
	require.Equal(t, 4, l)
	require.Equal(t, &PingFrame{}, f)
}

func TestFrameParserReturnsNilOnOnlyPadding(t *testing.T) {
	b := []byte{0, 0, 0}
	parser := NewFrameParser()
	l, f, err := parser.ParseNext(b, protocol.Encryption1RTT, protocol.Version1)
	require.NoError(t, err)
	require.Equal(t, 3, l)
	require.Nil(t, f)
}

func TestFrameParserRejectsFramesAtWrongEncLevel(t *testing.T) {
	b, err := (&StreamFrame{StreamID: 0, Data: []byte("foo")}).Append(nil, protocol.Version1)
	require.NoError(t, err)
	parser := NewFrameParser()
	_, _, err = parser.ParseNext(b, protocol.EncryptionInitial, protocol.Version1)
	require.Error(t, err)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.FrameEncodingError, transportErr.ErrorCode)
}

func TestStreamFrameSplitting(t *testing.T) {
	f := &StreamFrame{
		StreamID: 0x1337,
		Offset:   100,
		Data:     make([]byte, 1000),
		Fin:      true,
	}
	newFrame, split := f.MaybeSplitOffFrame(500, protocol.Version1)
	require.True(t, split)
	require.NotNil(t, newFrame)
	require.Equal(t, f.StreamID, newFrame.StreamID)
	require.Equal(t, protocol.ByteCount(100), newFrame.Offset)
	require.False(t, newFrame.Fin)
	require.True(t, f.Fin)
	require.Equal(t, newFrame.Offset+newFrame.DataLen(), f.Offset)
	require.Equal(t, protocol.ByteCount(1000), newFrame.DataLen()+f.DataLen())
	require.LessOrEqual(t, newFrame.Length(protocol.Version1), protocol.ByteCount(500))
}

func TestCryptoFrameSplitting(t *testing.T) {
	f := &CryptoFrame{Offset: 0x1337, Data: make([]byte, 2048)}
	for i := range f.Data {
		f.Data[i] = byte(i)
	}
	newFrame, split := f.MaybeSplitOffFrame(1000, protocol.Version1)
	require.True(t, split)
	require.NotNil(t, newFrame)
	require.LessOrEqual(t, f.Length(protocol.Version1), protocol.ByteCount(1000))
	require.Equal(t, f.Offset+protocol.ByteCount(len(f.Data)), newFrame.Offset)
	require.Equal(t, protocol.ByteCount(2048), protocol.ByteCount(len(f.Data)+len(newFrame.Data)))
	// the content must be preserved
	combined := append(append([]byte{}, f.Data...), newFrame.Data...)
	for i := range combined {
		require.Equal(t, byte(i), combined[i])
	}
}
