package handler

import (
	"context"
	"encoding"
	"fmt"
	"reflect"

	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/protocol"
)

// Encoding names the payload family of a handler.
type Encoding string

const (
	EncodingBinary Encoding = "binary"
	EncodingText   Encoding = "text"
)

// HandleFunc is the business step for one decoded packet. It may send
// further packets through out and decides how the receive loop continues.
type HandleFunc[T protocol.Packet] func(ctx context.Context, conn Conn, packet T, out Sender) Outcome

// PacketHandler owns the decode, handle and encode round trip for exactly
// one message kind T.
type PacketHandler[T protocol.Packet] struct {
	bodyType protocol.BodyType
	encoding Encoding
	encode   func(T) ([]byte, error)
	decode   func([]byte) (T, error)
	handle   HandleFunc[T]
	logger   logger.Logger
}

// NewTextHandler creates a handler for a JSON-encoded packet type. A nil
// handle accepts and ignores inbound packets of this kind.
//
// Parameters:
//   - bodyType: The wire discriminator for T
//   - handle: The business step, or nil
//   - log: Logger used for per-message trace and error entries
//
// Returns:
//   - The handler, ready to be registered
func NewTextHandler[T protocol.Packet](bodyType protocol.BodyType, handle HandleFunc[T], log logger.Logger) *PacketHandler[T] {
	return newPacketHandler(bodyType, EncodingText, protocol.TextEncode[T], protocol.TextDecode[T], handle, log)
}

// NewBinaryHandler creates a handler for a fixed-layout packet type. PT is
// inferred from T:
//
//	handler.NewBinaryHandler[protocol.PingRequest](protocol.BodyTypePingRequest, fn, log)
func NewBinaryHandler[T protocol.BinaryPacket, PT interface {
	*T
	encoding.BinaryUnmarshaler
}](bodyType protocol.BodyType, handle HandleFunc[T], log logger.Logger) *PacketHandler[T] {
	return newPacketHandler(bodyType, EncodingBinary, protocol.StructToBytes[T], protocol.BytesToStruct[T, PT], handle, log)
}

func newPacketHandler[T protocol.Packet](
	bodyType protocol.BodyType,
	enc Encoding,
	encode func(T) ([]byte, error),
	decode func([]byte) (T, error),
	handle HandleFunc[T],
	log logger.Logger,
) *PacketHandler[T] {
	return &PacketHandler[T]{
		bodyType: bodyType,
		encoding: enc,
		encode:   encode,
		decode:   decode,
		handle:   handle,
		logger: log.With(
			logger.Field{Key: "body_type", Value: bodyType.String()},
			logger.Field{Key: "encoding", Value: string(enc)},
		),
	}
}

// BodyType implements Handler.
func (h *PacketHandler[T]) BodyType() protocol.BodyType {
	return h.bodyType
}

// PacketType implements Handler.
func (h *PacketHandler[T]) PacketType() reflect.Type {
	return reflect.TypeFor[T]()
}

// Encoding returns the payload family of this handler.
func (h *PacketHandler[T]) Encoding() Encoding {
	return h.encoding
}

// CreateHeader stamps the session id, this handler's body type and the
// payload length. The error code is left as ErrorCodeNone.
func (h *PacketHandler[T]) CreateHeader(conn Conn, payloadLength int) protocol.Header {
	return protocol.Header{
		SessionID: conn.ID(),
		BodyType:  h.bodyType,
		Length:    uint32(payloadLength),
	}
}

// Decode decodes a payload into T without running the business step.
func (h *PacketHandler[T]) Decode(payload []byte) (T, error) {
	return h.decode(payload)
}

// DecodeAndHandle decodes payload and runs the business step. A payload that
// does not decode is dropped and the loop continues; a packet that decodes
// but is invalid or claims another session is fatal.
//
// Parameters:
//   - ctx: Cancellation for the business step
//   - conn: The session the payload arrived on
//   - payload: Raw payload bytes; not retained
//   - out: Sender used by the business step for derived messages
//
// Returns:
//   - The decoded packet (zero value if decoding failed)
//   - The outcome for the receive loop
func (h *PacketHandler[T]) DecodeAndHandle(ctx context.Context, conn Conn, payload []byte, out Sender) (T, Outcome) {
	p, err := h.decode(payload)
	if err != nil {
		h.logger.Error("packet decode failed", logger.Field{Key: "session", Value: conn.ID()}, logger.Field{Key: "error", Value: err.Error()})
		return p, Continue()
	}

	if !p.IsValid() || p.SessionID() != conn.ID() {
		err := fmt.Errorf("%w: %s claims session %d on session %d", protocol.ErrInvalidSessionData, h.bodyType, p.SessionID(), conn.ID())
		h.logger.Error("packet rejected", logger.Field{Key: "session", Value: conn.ID()}, logger.Field{Key: "error", Value: err.Error()})
		return p, Fatal(err)
	}

	h.logger.Trace("packet received", logger.Field{Key: "session", Value: conn.ID()}, logger.Field{Key: "length", Value: len(payload)})
	if h.handle == nil {
		return p, Continue()
	}

	return p, h.handle(ctx, conn, p, out)
}

// Dispatch implements Handler.
func (h *PacketHandler[T]) Dispatch(ctx context.Context, conn Conn, payload []byte, out Sender) Outcome {
	_, outcome := h.DecodeAndHandle(ctx, conn, payload, out)
	return outcome
}

// Send validates packet against conn and writes it. A session that is not
// connected is asked to disconnect.
//
// Returns:
//   - true if the frame was written
func (h *PacketHandler[T]) Send(ctx context.Context, conn Conn, packet T) bool {
	if !conn.IsConnected() {
		h.logger.Warn("send on disconnected session", logger.Field{Key: "session", Value: conn.ID()})
		conn.RequestDisconnect(protocol.ErrSessionNotConnected, 0)
		return false
	}

	if !packet.IsValid() || packet.SessionID() != conn.ID() {
		h.logger.Error("refusing to send invalid packet",
			logger.Field{Key: "session", Value: conn.ID()},
			logger.Field{Key: "packet_session", Value: packet.SessionID()},
		)
		return false
	}

	if err := h.WritePacket(ctx, conn, packet, protocol.ErrorCodeNone); err != nil {
		h.logger.Error("packet send failed", logger.Field{Key: "session", Value: conn.ID()}, logger.Field{Key: "error", Value: err.Error()})
		return false
	}

	return true
}

// SendPacket implements Handler.
func (h *PacketHandler[T]) SendPacket(ctx context.Context, conn Conn, packet protocol.Packet) bool {
	p, ok := packet.(T)
	if !ok {
		h.logger.Error("packet type mismatch", logger.Field{Key: "packet_type", Value: fmt.Sprintf("%T", packet)})
		return false
	}

	return h.Send(ctx, conn, p)
}

// WritePacket encodes packet and writes it with the given header error code,
// skipping the connected and validity checks. It is used for handshake
// traffic, where the session is not connected yet.
func (h *PacketHandler[T]) WritePacket(ctx context.Context, conn Conn, packet T, code protocol.ErrorCode) error {
	payload, err := h.encode(packet)
	if err != nil {
		return err
	}

	header := h.CreateHeader(conn, len(payload))
	header.Error = code
	if err := conn.Write(ctx, header, payload); err != nil {
		return fmt.Errorf("write %s: %w", h.bodyType, err)
	}

	h.logger.Trace("packet sent",
		logger.Field{Key: "session", Value: header.SessionID},
		logger.Field{Key: "length", Value: header.Length},
		logger.Field{Key: "code", Value: code.String()},
	)
	return nil
}
