package qerr

import (
	"fmt"

	"github.com/quicsrv/quic/internal/protocol"
)

var (
	// ErrHandshakeTimeout is returned when the handshake times out.
	ErrHandshakeTimeout = &HandshakeTimeoutError{}
	// ErrIdleTimeout is returned when the connection hits the idle timeout.
	ErrIdleTimeout = &IdleTimeoutError{}
)

// TransportError is a QUIC transport-level error.
type TransportError struct {
	Remote       bool
	FrameType    uint64
	ErrorCode    TransportErrorCode
	ErrorMessage string
	// ErrorLevel is the encryption level the error occurred at.
	ErrorLevel protocol.EncryptionLevel
}

var _ error = &TransportError{}

// NewLocalCryptoError creates a new TransportError instance for a crypto error
func NewLocalCryptoError(tlsAlert uint8, message string) *TransportError {
	return &TransportError{
		ErrorCode:    0x100 + TransportErrorCode(tlsAlert),
		ErrorMessage: message,
	}
}

func (e *TransportError) Error() string {
	str := fmt.Sprintf("%s (%s)", e.ErrorCode.String(), getRole(e.Remote))
	if e.FrameType != 0 {
		str += fmt.Sprintf(" (frame type: %#x)", e.FrameType)
	}
	msg := e.ErrorMessage
	if len(msg) == 0 {
		msg = e.ErrorCode.Message()
	}
	if len(msg) == 0 {
		return str
	}
	return str + ": " + msg
}

func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	return ok && e.ErrorCode == t.ErrorCode && e.FrameType == t.FrameType && e.Remote == t.Remote
}

// An ApplicationErrorCode is an application-defined error code.
type ApplicationErrorCode uint64

// A StreamErrorCode is an error code used to cancel streams.
type StreamErrorCode uint64

// ApplicationError is an application-level error, carried in a CONNECTION_CLOSE
// frame with the 0x1d frame type.
type ApplicationError struct {
	Remote       bool
	ErrorCode    ApplicationErrorCode
	ErrorMessage string
}

var _ error = &ApplicationError{}

func (e *ApplicationError) Error() string {
	if len(e.ErrorMessage) == 0 {
		return fmt.Sprintf("Application error %#x (%s)", e.ErrorCode, getRole(e.Remote))
	}
	return fmt.Sprintf("Application error %#x (%s): %s", e.ErrorCode, getRole(e.Remote), e.ErrorMessage)
}

func (e *ApplicationError) Is(target error) bool {
	t, ok := target.(*ApplicationError)
	return ok && e.ErrorCode == t.ErrorCode && e.Remote == t.Remote
}

// IdleTimeoutError is returned when the connection is closed due to an idle timeout.
// No CONNECTION_CLOSE is sent in that case.
type IdleTimeoutError struct{}

var _ error = &IdleTimeoutError{}

func (e *IdleTimeoutError) Timeout() bool        { return true }
func (e *IdleTimeoutError) Temporary() bool      { return false }
func (e *IdleTimeoutError) Error() string        { return "timeout: no recent network activity" }
func (e *IdleTimeoutError) Is(target error) bool { _, ok := target.(*IdleTimeoutError); return ok }

// HandshakeTimeoutError is returned when the handshake doesn't complete in time.
type HandshakeTimeoutError struct{}

var _ error = &HandshakeTimeoutError{}

func (e *HandshakeTimeoutError) Timeout() bool   { return true }
func (e *HandshakeTimeoutError) Temporary() bool { return false }
func (e *HandshakeTimeoutError) Error() string   { return "timeout: handshake did not complete in time" }
func (e *HandshakeTimeoutError) Is(target error) bool {
	_, ok := target.(*HandshakeTimeoutError)
	return ok
}

// A StatelessResetError occurs when we receive a stateless reset.
type StatelessResetError struct{}

var _ error = &StatelessResetError{}

func (e *StatelessResetError) Error() string   { return "received a stateless reset" }
func (e *StatelessResetError) Timeout() bool   { return false }
func (e *StatelessResetError) Temporary() bool { return true }
func (e *StatelessResetError) Is(target error) bool {
	_, ok := target.(*StatelessResetError)
	return ok
}

func getRole(remote bool) string {
	if remote {
		return "remote"
	}
	return "local"
}
