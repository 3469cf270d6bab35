// Package handler binds each message kind to the code that decodes, handles
// and encodes it, and provides the Registry that dispatches inbound frames by
// body type and outbound packets by concrete Go type.
//
// A handler never owns a session: it borrows a Conn for the duration of one
// call and reports what should happen next through an Outcome.
package handler

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/cyberinferno/go-tcpsession/protocol"
)

// Conn is the part of a session a handler may use during one call.
type Conn interface {
	// ID returns the confirmed session id (or the claimed id while the
	// handshake is still pending).
	ID() uint32

	// IsConnected reports whether the handshake completed and the session
	// has not been torn down.
	IsConnected() bool

	// Write sends header followed by payload as one frame.
	Write(ctx context.Context, header protocol.Header, payload []byte) error

	// RequestDisconnect asks the session owner to close the session after
	// the given delay. A zero delay closes it as soon as possible.
	RequestDisconnect(cause error, after time.Duration)
}

// Sender sends a packet through the handler registered for its Go type.
type Sender interface {
	Send(ctx context.Context, conn Conn, packet protocol.Packet) bool
}

// Handler is the type-erased capability stored in the Registry.
type Handler interface {
	// BodyType returns the wire discriminator this handler owns.
	BodyType() protocol.BodyType

	// PacketType returns the concrete Go type of the packets it handles.
	PacketType() reflect.Type

	// Dispatch decodes payload and runs the business step.
	Dispatch(ctx context.Context, conn Conn, payload []byte, out Sender) Outcome

	// SendPacket validates and writes packet; it returns false when the
	// packet is not of this handler's type or the send failed.
	SendPacket(ctx context.Context, conn Conn, packet protocol.Packet) bool
}

// OutcomeKind says how the receive loop continues after a message.
type OutcomeKind int

const (
	KindContinue OutcomeKind = iota
	KindDisconnect
	KindFatal
)

// String returns a human-readable name for the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindDisconnect:
		return "disconnect"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome_%d", int(k))
	}
}

// Outcome is the result of handling one message.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

// Continue keeps the receive loop running.
func Continue() Outcome {
	return Outcome{Kind: KindContinue}
}

// Disconnect ends the session gracefully.
func Disconnect(reason string) Outcome {
	return Outcome{Kind: KindDisconnect, Reason: reason}
}

// Fatal ends the session because of err.
func Fatal(err error) Outcome {
	return Outcome{Kind: KindFatal, Reason: err.Error(), Err: err}
}
