package quic

import (
	"errors"
	"fmt"
	"io"

	"github.com/quicsrv/quic/internal/ackhandler"
	"github.com/quicsrv/quic/internal/flowcontrol"
	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"
	"github.com/quicsrv/quic/internal/wire"
)

type streamSender interface {
	queueControlFrame(wire.Frame)
	onHasStreamData(protocol.StreamID)
	onStreamWindowUpdate(protocol.StreamID)
	onStreamCompleted(protocol.StreamID)
}

// A Stream is an ordered byte stream. All methods are non-blocking: Read and
// Write return ErrWouldBlock instead of waiting, and the OnReadable /
// OnWritable callbacks fire when the operation can be retried.
//
// A Stream is not safe for concurrent use; all calls must come from the event
// loop serializing the connection.
type Stream struct {
	id             protocol.StreamID
	sender         streamSender
	flowController flowcontrol.StreamFlowController
	version        protocol.Version

	// receive side
	sorter        frameSorter
	ring          *receiveBuffer
	readOffset    protocol.ByteCount
	finalOffset   protocol.ByteCount
	finRead       bool
	recvDone      bool
	resetRemotely *StreamError // RESET_STREAM received
	canceledRead  *StreamError // CancelRead called

	// send side
	sendBuf           []byte
	writeOffset       protocol.ByteCount // offset of the next fresh byte to packetize
	ackedBytes        protocol.ByteCount
	outstandingFrames int
	retransmissions   []*wire.StreamFrame
	finQueued         bool
	finSent           bool
	writeBlocked      bool
	sendDone          bool
	cancelWriteErr    *StreamError

	completed bool
	connError error

	// OnReadable is invoked when data, a FIN or an error becomes readable.
	OnReadable func()
	// OnWritable is invoked when a blocked Write can make progress again.
	OnWritable func()
}

func newStream(
	id protocol.StreamID,
	sender streamSender,
	flowController flowcontrol.StreamFlowController,
	receiveBufferSize protocol.ByteCount,
	version protocol.Version,
) *Stream {
	s := &Stream{
		id:             id,
		sender:         sender,
		flowController: flowController,
		version:        version,
		sorter:         newFrameSorter(),
		finalOffset:    protocol.InvalidByteCount,
	}
	if s.canRead() {
		s.ring = newReceiveBuffer(receiveBufferSize)
	} else {
		s.recvDone = true
	}
	if !s.canWrite() {
		s.sendDone = true
	}
	return s
}

// StreamID returns the stream ID.
func (s *Stream) StreamID() StreamID { return s.id }

// A server can read from bidirectional and client-initiated unidirectional streams.
func (s *Stream) canRead() bool {
	return s.id.Type() == protocol.StreamTypeBidi ||
		s.id.InitiatedBy() == protocol.PerspectiveClient
}

func (s *Stream) canWrite() bool {
	return s.id.Type() == protocol.StreamTypeBidi ||
		s.id.InitiatedBy() == protocol.PerspectiveServer
}

// Read reads data from the stream.
// It returns ErrWouldBlock if no data is available, io.EOF after all data up
// to the FIN was consumed, and a *StreamError after a reset.
func (s *Stream) Read(p []byte) (int, error) {
	if !s.canRead() {
		return 0, errors.New("read on send-only stream")
	}
	if s.canceledRead != nil {
		return 0, s.canceledRead
	}
	if s.resetRemotely != nil {
		return 0, s.resetRemotely
	}
	if s.finRead {
		return 0, io.EOF
	}
	n := s.ring.Pop(p)
	if n > 0 {
		s.readOffset += protocol.ByteCount(n)
		s.flowController.AddBytesRead(protocol.ByteCount(n))
		s.sender.onStreamWindowUpdate(s.id)
		if err := s.drainSorter(); err != nil {
			return n, err
		}
	}
	if s.readOffset == s.finalOffset {
		s.finRead = true
		s.recvDone = true
		s.maybeComplete()
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
	if n == 0 {
		if s.connError != nil {
			return 0, s.connError
		}
		return 0, ErrWouldBlock
	}
	return n, nil
}

// CancelRead aborts the receive side: incoming data is discarded and a
// STOP_SENDING frame asks the peer to stop transmitting.
func (s *Stream) CancelRead(code StreamErrorCode) {
	if !s.canRead() || s.recvDone || s.cancelledRecv() {
		return
	}
	s.canceledRead = &StreamError{StreamID: s.id, ErrorCode: code, Remote: false}
	// No point in asking the peer to stop if it already sent the FIN.
	if s.finalOffset == protocol.InvalidByteCount {
		s.sender.queueControlFrame(&wire.StopSendingFrame{StreamID: s.id, ErrorCode: code})
	}
	s.flowController.Abandon()
	s.recvDone = true
	s.maybeComplete()
}

func (s *Stream) cancelledRecv() bool {
	return s.canceledRead != nil || s.resetRemotely != nil
}

func (s *Stream) handleStreamFrame(f *wire.StreamFrame) error {
	maxOffset := f.Offset + f.DataLen()
	if err := s.flowController.UpdateHighestReceived(maxOffset, f.Fin); err != nil {
		return err
	}
	if f.Fin {
		s.finalOffset = maxOffset
	}
	if s.cancelledRecv() {
		// still accounted for flow control, but the data is discarded
		return nil
	}
	if err := s.sorter.Push(f.Data, f.Offset); err != nil {
		return &qerr.TransportError{ErrorCode: qerr.ProtocolViolation, ErrorMessage: err.Error()}
	}
	if err := s.drainSorter(); err != nil {
		return err
	}
	if s.ring.Len() > 0 || s.readOffset == s.finalOffset {
		s.signalReadable()
	}
	return nil
}

// drainSorter moves contiguous reassembled data into the receive ring.
// The flow control window equals the ring capacity, so a well-behaved peer can
// never overflow the ring.
func (s *Stream) drainSorter() error {
	for s.sorter.HasMoreData() {
		data, _ := s.sorter.Pop()
		if !s.ring.Push(data) {
			return &qerr.TransportError{
				ErrorCode:    qerr.FlowControlError,
				ErrorMessage: fmt.Sprintf("stream %d: receive buffer overflow", s.id),
			}
		}
	}
	return nil
}

func (s *Stream) handleResetStreamFrame(f *wire.ResetStreamFrame) error {
	if err := s.flowController.UpdateHighestReceived(f.FinalSize, true); err != nil {
		return err
	}
	if s.cancelledRecv() {
		return nil
	}
	s.resetRemotely = &StreamError{StreamID: s.id, ErrorCode: f.ErrorCode, Remote: true}
	s.flowController.Abandon()
	s.recvDone = true
	s.signalReadable()
	s.maybeComplete()
	return nil
}

// Write appends data to the send buffer. It may write fewer bytes than
// len(p); it returns ErrWouldBlock when the per-stream send budget is
// exhausted.
func (s *Stream) Write(p []byte) (int, error) {
	if !s.canWrite() {
		return 0, errors.New("write on receive-only stream")
	}
	if s.cancelWriteErr != nil {
		return 0, s.cancelWriteErr
	}
	if s.connError != nil {
		return 0, s.connError
	}
	if s.finQueued {
		return 0, errors.New("write on closed stream")
	}
	budget := protocol.MaxStreamSendBuffer - (s.writeOffset - s.ackedBytes) - protocol.ByteCount(len(s.sendBuf))
	if budget <= 0 {
		s.writeBlocked = true
		return 0, ErrWouldBlock
	}
	n := min(budget, protocol.ByteCount(len(p)))
	s.sendBuf = append(s.sendBuf, p[:n]...)
	s.sender.onHasStreamData(s.id)
	if n < protocol.ByteCount(len(p)) {
		s.writeBlocked = true
		return int(n), ErrWouldBlock
	}
	return int(n), nil
}

// Close closes the send side: remaining buffered data is delivered, followed
// by the FIN.
func (s *Stream) Close() error {
	if !s.canWrite() || s.finQueued || s.cancelWriteErr != nil {
		return nil
	}
	s.finQueued = true
	s.sender.onHasStreamData(s.id)
	return nil
}

// CancelWrite aborts the send side with a RESET_STREAM frame.
func (s *Stream) CancelWrite(code StreamErrorCode) {
	s.cancelWrite(code, false)
}

func (s *Stream) cancelWrite(code StreamErrorCode, remote bool) {
	if !s.canWrite() || s.sendDone || s.cancelWriteErr != nil {
		return
	}
	s.cancelWriteErr = &StreamError{StreamID: s.id, ErrorCode: code, Remote: remote}
	s.sendBuf = nil
	s.retransmissions = nil
	s.sender.queueControlFrame(&wire.ResetStreamFrame{
		StreamID:  s.id,
		ErrorCode: code,
		FinalSize: s.writeOffset,
	})
	s.sendDone = true
	if s.writeBlocked {
		s.writeBlocked = false
		s.signalWritable()
	}
	s.maybeComplete()
}

func (s *Stream) handleStopSendingFrame(f *wire.StopSendingFrame) {
	s.cancelWrite(f.ErrorCode, true)
}

func (s *Stream) handleMaxStreamDataFrame(f *wire.MaxStreamDataFrame) {
	s.flowController.UpdateSendWindow(f.MaximumStreamData)
	if len(s.sendBuf) > 0 {
		s.sender.onHasStreamData(s.id)
	}
}

func (s *Stream) hasData() bool {
	if s.sendDone {
		return false
	}
	return len(s.retransmissions) > 0 || len(s.sendBuf) > 0 || (s.finQueued && !s.finSent)
}

// popStreamFrame returns the next STREAM frame for this stream, limited to
// maxBytes of wire size.
func (s *Stream) popStreamFrame(maxBytes protocol.ByteCount) (ackhandler.StreamFrame, bool, bool /* has more data */) {
	if s.sendDone {
		return ackhandler.StreamFrame{}, false, false
	}
	if len(s.retransmissions) > 0 {
		f := s.retransmissions[0]
		if f.Length(s.version) > maxBytes {
			split, ok := f.MaybeSplitOffFrame(maxBytes, s.version)
			if !ok || split == nil {
				return ackhandler.StreamFrame{}, false, true
			}
			return s.toStreamFrame(split), true, true
		}
		s.retransmissions = s.retransmissions[1:]
		return s.toStreamFrame(f), true, s.hasData()
	}

	f := &wire.StreamFrame{
		StreamID:       s.id,
		Offset:         s.writeOffset,
		DataLenPresent: true,
	}
	maxDataLen := f.MaxDataLen(maxBytes, s.version)
	if maxDataLen <= 0 && len(s.sendBuf) > 0 {
		return ackhandler.StreamFrame{}, false, true
	}
	sendWindow := s.flowController.SendWindowSize()
	n := min(maxDataLen, protocol.ByteCount(len(s.sendBuf)))
	if n > sendWindow {
		n = sendWindow
		if blocked, at := s.flowController.IsNewlyBlocked(); blocked {
			s.sender.queueControlFrame(&wire.StreamDataBlockedFrame{StreamID: s.id, MaximumStreamData: at})
		}
	}
	if n > 0 {
		f.Data = s.sendBuf[:n:n]
		s.sendBuf = s.sendBuf[n:]
		s.writeOffset += n
		s.flowController.AddBytesSent(n)
	}
	if s.finQueued && len(s.sendBuf) == 0 && !s.finSent {
		f.Fin = true
		s.finSent = true
	}
	if len(f.Data) == 0 && !f.Fin {
		return ackhandler.StreamFrame{}, false, len(s.sendBuf) > 0
	}
	return s.toStreamFrame(f), true, s.hasData()
}

func (s *Stream) toStreamFrame(f *wire.StreamFrame) ackhandler.StreamFrame {
	s.outstandingFrames++
	return ackhandler.StreamFrame{
		Frame:   f,
		OnAcked: s.frameAcked,
		OnLost:  s.frameLost,
	}
}

func (s *Stream) frameAcked(f *wire.StreamFrame) {
	s.outstandingFrames--
	s.ackedBytes = min(s.ackedBytes+f.DataLen(), s.writeOffset)
	if s.writeBlocked && !s.finQueued && s.cancelWriteErr == nil {
		budget := protocol.MaxStreamSendBuffer - (s.writeOffset - s.ackedBytes) - protocol.ByteCount(len(s.sendBuf))
		if budget > 0 {
			s.writeBlocked = false
			s.signalWritable()
		}
	}
	s.maybeCompleteSend()
}

func (s *Stream) frameLost(f *wire.StreamFrame) {
	s.outstandingFrames--
	if s.cancelWriteErr != nil {
		return
	}
	f.DataLenPresent = true
	s.retransmissions = append(s.retransmissions, f)
	s.sender.onHasStreamData(s.id)
}

func (s *Stream) maybeCompleteSend() {
	if s.finSent && s.outstandingFrames == 0 && len(s.retransmissions) == 0 {
		s.sendDone = true
		s.maybeComplete()
	}
}

func (s *Stream) maybeComplete() {
	if s.completed || !s.sendDone || !s.recvDone {
		return
	}
	s.completed = true
	s.sender.onStreamCompleted(s.id)
}

// closeForShutdown is called when the connection terminates. All pending and
// future reads and writes fail with err.
func (s *Stream) closeForShutdown(err error) {
	if s.connError != nil {
		return
	}
	s.connError = err
	s.sendBuf = nil
	s.retransmissions = nil
	s.sendDone = true
	s.recvDone = true
	s.signalReadable()
	s.signalWritable()
}

func (s *Stream) signalReadable() {
	if s.OnReadable != nil {
		s.OnReadable()
	}
}

func (s *Stream) signalWritable() {
	if s.OnWritable != nil {
		s.OnWritable()
	}
}

var _ io.Reader = &Stream{}
var _ io.Writer = &Stream{}
