package quic

import (
	"fmt"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/wire"
)

// A cryptoStream is the ordered byte stream carrying TLS handshake messages
// at one encryption level.
type cryptoStream struct {
	sorter frameSorter

	highestOffset protocol.ByteCount
	finished      bool

	writeOffset protocol.ByteCount
	writeBuf    []byte
}

func newCryptoStream() *cryptoStream {
	return &cryptoStream{sorter: newFrameSorter()}
}

func (s *cryptoStream) HandleCryptoFrame(f *wire.CryptoFrame) error {
	highestOffset := f.Offset + protocol.ByteCount(len(f.Data))
	if maxOffset := s.sorter.ReadPos() + protocol.MaxCryptoStreamOffset; highestOffset > maxOffset {
		return &qerr.TransportError{
			ErrorCode:    qerr.CryptoBufferExceeded,
			ErrorMessage: fmt.Sprintf("received invalid offset %d on crypto stream, maximum allowed %d", highestOffset, maxOffset),
		}
	}
	if s.finished && highestOffset > s.highestOffset {
		// handshake messages received after the handshake completed at this level
		return &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: "received crypto data after change of encryption level",
		}
	}
	s.highestOffset = max(s.highestOffset, highestOffset)
	return s.sorter.Push(f.Data, f.Offset)
}

// GetCryptoData retrieves data that was received in crypto frames.
func (s *cryptoStream) GetCryptoData() []byte {
	data, _ := s.sorter.Pop()
	return data
}

// Finish is called once the handshake moves past this encryption level.
func (s *cryptoStream) Finish() error {
	if s.sorter.QueuedBytes() > 0 {
		return &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: "encryption level changed, but crypto stream has more data to read",
		}
	}
	s.finished = true
	return nil
}

// Writes writes data that should be sent out in CRYPTO frames.
func (s *cryptoStream) Write(p []byte) (int, error) {
	s.writeBuf = append(s.writeBuf, p...)
	return len(p), nil
}

func (s *cryptoStream) HasData() bool {
	return len(s.writeBuf) > 0
}

func (s *cryptoStream) PopCryptoFrame(maxLen protocol.ByteCount) *wire.CryptoFrame {
	f := &wire.CryptoFrame{Offset: s.writeOffset}
	n := min(f.MaxDataLen(maxLen), protocol.ByteCount(len(s.writeBuf)))
	if n <= 0 {
		return nil
	}
	f.Data = s.writeBuf[:n]
	s.writeBuf = s.writeBuf[n:]
	s.writeOffset += n
	return f
}

// The cryptoStreamManager dispatches CRYPTO frames to the crypto stream of
// their encryption level.
type cryptoStreamManager struct {
	initialStream   *cryptoStream
	handshakeStream *cryptoStream
	oneRTTStream    *cryptoStream
}

func newCryptoStreamManager(initial, handshake, oneRTT *cryptoStream) *cryptoStreamManager {
	return &cryptoStreamManager{
		initialStream:   initial,
		handshakeStream: handshake,
		oneRTTStream:    oneRTT,
	}
}

func (m *cryptoStreamManager) getCryptoStream(encLevel protocol.EncryptionLevel) (*cryptoStream, error) {
	switch encLevel {
	case protocol.EncryptionInitial:
		return m.initialStream, nil
	case protocol.EncryptionHandshake:
		return m.handshakeStream, nil
	case protocol.Encryption1RTT:
		return m.oneRTTStream, nil
	default:
		return nil, fmt.Errorf("received CRYPTO frame with unexpected encryption level: %s", encLevel)
	}
}

func (m *cryptoStreamManager) HandleCryptoFrame(frame *wire.CryptoFrame, encLevel protocol.EncryptionLevel) error {
	str, err := m.getCryptoStream(encLevel)
	if err != nil {
		return err
	}
	return str.HandleCryptoFrame(frame)
}

func (m *cryptoStreamManager) GetCryptoData(encLevel protocol.EncryptionLevel) []byte {
	str, err := m.getCryptoStream(encLevel)
	if err != nil {
		panic(err)
	}
	return str.GetCryptoData()
}

func (m *cryptoStreamManager) Drop(encLevel protocol.EncryptionLevel) error {
	str, err := m.getCryptoStream(encLevel)
	if err != nil {
		return err
	}
	return str.Finish()
}
