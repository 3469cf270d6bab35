package protocol

import (
	"errors"
	"fmt"
)

// Framing, protocol and session-lifecycle errors. Callers test for them with
// errors.Is; most are returned wrapped with additional context.
var (
	// ErrInvalidHeader reports a malformed or out-of-range header. The stream
	// can no longer be reframed, so it is always fatal to the connection.
	ErrInvalidHeader = errors.New("protocol: invalid header")

	// ErrInvalidSessionData reports a well-framed message whose content is
	// semantically invalid for the session (wrong session id, failed IsValid).
	ErrInvalidSessionData = errors.New("protocol: invalid session data")

	// ErrNotImplementHandler reports a body type with no registered handler.
	ErrNotImplementHandler = errors.New("protocol: no handler for body type")

	// ErrDuplicateSession reports a handshake claiming the id of a session
	// that is still connected.
	ErrDuplicateSession = errors.New("protocol: duplicate session")

	// ErrSessionConnectFail reports any other handshake rejection.
	ErrSessionConnectFail = errors.New("protocol: session connect failed")

	// ErrGracefulDisconnect signals an expected termination: a clean remote
	// close or an explicit disconnect request.
	ErrGracefulDisconnect = errors.New("protocol: graceful disconnect")

	// ErrSessionNotConnected is returned when sending on a session that has
	// not completed its handshake or has already been torn down.
	ErrSessionNotConnected = errors.New("protocol: session not connected")

	// ErrDisconnectRequested is the cancellation cause used when a session is
	// asked to disconnect by a handler or by the server.
	ErrDisconnectRequested = errors.New("protocol: disconnect requested")
)

// ErrorCode is the status carried in Header.Error.
type ErrorCode uint16

const (
	ErrorCodeNone ErrorCode = iota
	ErrorCodeInvalidHeader
	ErrorCodeInvalidSessionData
	ErrorCodeNotImplementHandler
	ErrorCodeDuplicateSession
	ErrorCodeSessionConnectFail
	ErrorCodeInternal
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeNone:
		return "none"
	case ErrorCodeInvalidHeader:
		return "invalid_header"
	case ErrorCodeInvalidSessionData:
		return "invalid_session_data"
	case ErrorCodeNotImplementHandler:
		return "not_implement_handler"
	case ErrorCodeDuplicateSession:
		return "duplicate_session"
	case ErrorCodeSessionConnectFail:
		return "session_connect_fail"
	case ErrorCodeInternal:
		return "internal"
	default:
		return fmt.Sprintf("code_%d", uint16(c))
	}
}

// Err maps the code back to its sentinel error. ErrorCodeNone maps to nil.
func (c ErrorCode) Err() error {
	switch c {
	case ErrorCodeNone:
		return nil
	case ErrorCodeInvalidHeader:
		return ErrInvalidHeader
	case ErrorCodeInvalidSessionData:
		return ErrInvalidSessionData
	case ErrorCodeNotImplementHandler:
		return ErrNotImplementHandler
	case ErrorCodeDuplicateSession:
		return ErrDuplicateSession
	case ErrorCodeSessionConnectFail:
		return ErrSessionConnectFail
	default:
		return fmt.Errorf("protocol: remote error %s", c)
	}
}

// CodeOf returns the wire code for err. Errors outside the taxonomy map to
// ErrorCodeInternal and nil maps to ErrorCodeNone.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrorCodeNone
	case errors.Is(err, ErrInvalidHeader):
		return ErrorCodeInvalidHeader
	case errors.Is(err, ErrInvalidSessionData):
		return ErrorCodeInvalidSessionData
	case errors.Is(err, ErrNotImplementHandler):
		return ErrorCodeNotImplementHandler
	case errors.Is(err, ErrDuplicateSession):
		return ErrorCodeDuplicateSession
	case errors.Is(err, ErrSessionConnectFail):
		return ErrorCodeSessionConnectFail
	default:
		return ErrorCodeInternal
	}
}
