package quic

import (
	"fmt"

	"github.com/quicsrv/quic/internal/qerr"
)

type (
	// TransportError is a QUIC transport error.
	TransportError = qerr.TransportError
	// ApplicationError is an application-defined error.
	ApplicationError = qerr.ApplicationError
	// A TransportErrorCode is a QUIC transport error code.
	TransportErrorCode = qerr.TransportErrorCode
	// An ApplicationErrorCode is an application-defined error code.
	ApplicationErrorCode = qerr.ApplicationErrorCode
	// A StreamErrorCode is an error code used to cancel streams.
	StreamErrorCode = qerr.StreamErrorCode

	// IdleTimeoutError is returned when the connection times out due to inactivity.
	IdleTimeoutError = qerr.IdleTimeoutError
	// HandshakeTimeoutError is returned when the handshake times out.
	HandshakeTimeoutError = qerr.HandshakeTimeoutError
	// StatelessResetError is returned when a stateless reset is received.
	StatelessResetError = qerr.StatelessResetError
)

// Transport error codes, as defined by QUIC.
const (
	NoError                   = qerr.NoError
	InternalError             = qerr.InternalError
	ConnectionRefused         = qerr.ConnectionRefused
	FlowControlError          = qerr.FlowControlError
	StreamLimitError          = qerr.StreamLimitError
	StreamStateError          = qerr.StreamStateError
	FinalSizeError            = qerr.FinalSizeError
	FrameEncodingError        = qerr.FrameEncodingError
	TransportParameterError   = qerr.TransportParameterError
	ConnectionIDLimitError    = qerr.ConnectionIDLimitError
	ProtocolViolation         = qerr.ProtocolViolation
	InvalidToken              = qerr.InvalidToken
	ApplicationErrorErrorCode = qerr.ApplicationErrorErrorCode
	CryptoBufferExceeded      = qerr.CryptoBufferExceeded
	KeyUpdateError            = qerr.KeyUpdateError
	AEADLimitReached          = qerr.AEADLimitReached
	NoViablePathError         = qerr.NoViablePathError
)

// A StreamError is used to signal stream cancellations.
// It is returned from the Read and Write methods of the stream.
type StreamError struct {
	StreamID  StreamID
	ErrorCode StreamErrorCode
	Remote    bool
}

func (e *StreamError) Is(target error) bool {
	t, ok := target.(*StreamError)
	return ok && e.StreamID == t.StreamID && e.ErrorCode == t.ErrorCode && e.Remote == t.Remote
}

func (e *StreamError) Error() string {
	pers := "local"
	if e.Remote {
		pers = "remote"
	}
	return fmt.Sprintf("stream %d canceled by %s with error code %d", e.StreamID, pers, e.ErrorCode)
}
