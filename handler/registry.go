package handler

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/protocol"
)

const tracerName = "github.com/cyberinferno/go-tcpsession/handler"

// Registry maps body types to handlers for inbound dispatch and concrete
// packet types to handlers for outbound sends. It is built once by
// NewRegistry and never mutated afterwards, so it is safe to share between
// all sessions without locking.
type Registry struct {
	byBodyType   map[protocol.BodyType]Handler
	byPacketType map[reflect.Type]Handler
	tracer       trace.Tracer
	logger       logger.Logger
}

// NewRegistry builds a Registry from handlers. Each body type and each
// packet type may be registered once.
//
// Parameters:
//   - log: Logger for dispatch and send failures
//   - handlers: The handlers to register
//
// Returns:
//   - The registry
//   - An error if two handlers share a body type or packet type
func NewRegistry(log logger.Logger, handlers ...Handler) (*Registry, error) {
	r := &Registry{
		byBodyType:   make(map[protocol.BodyType]Handler, len(handlers)),
		byPacketType: make(map[reflect.Type]Handler, len(handlers)),
		tracer:       otel.Tracer(tracerName),
		logger:       log,
	}

	for _, h := range handlers {
		if _, dup := r.byBodyType[h.BodyType()]; dup {
			return nil, fmt.Errorf("handler for body type %s already registered", h.BodyType())
		}

		if _, dup := r.byPacketType[h.PacketType()]; dup {
			return nil, fmt.Errorf("handler for packet type %s already registered", h.PacketType())
		}

		r.byBodyType[h.BodyType()] = h
		r.byPacketType[h.PacketType()] = h
	}

	return r, nil
}

// Lookup returns the handler for an inbound body type.
//
// Returns:
//   - The handler
//   - An error wrapping protocol.ErrNotImplementHandler on a miss
func (r *Registry) Lookup(bodyType protocol.BodyType) (Handler, error) {
	h, ok := r.byBodyType[bodyType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrNotImplementHandler, bodyType)
	}

	return h, nil
}

// LookupPacket returns the handler for the concrete type of packet.
func (r *Registry) LookupPacket(packet protocol.Packet) (Handler, bool) {
	if packet == nil {
		return nil, false
	}

	h, ok := r.byPacketType[reflect.TypeOf(packet)]
	return h, ok
}

// BodyTypes returns the registered body types in ascending order.
func (r *Registry) BodyTypes() []protocol.BodyType {
	types := make([]protocol.BodyType, 0, len(r.byBodyType))
	for bt := range r.byBodyType {
		types = append(types, bt)
	}

	slices.Sort(types)
	return types
}

// Send implements Sender. A packet type without a handler is a caller
// error and reported as false.
func (r *Registry) Send(ctx context.Context, conn Conn, packet protocol.Packet) bool {
	h, ok := r.LookupPacket(packet)
	if !ok {
		r.logger.Error("no handler for outbound packet",
			logger.Field{Key: "session", Value: conn.ID()},
			logger.Field{Key: "packet_type", Value: fmt.Sprintf("%T", packet)},
		)
		return false
	}

	return h.SendPacket(ctx, conn, packet)
}

// Dispatch routes one inbound frame to its handler. An unknown body type is
// fatal: its payload has already been consumed and the frame cannot be
// replayed to anyone else.
func (r *Registry) Dispatch(ctx context.Context, conn Conn, header protocol.Header, payload []byte) Outcome {
	ctx, span := r.tracer.Start(ctx, "dispatch "+header.BodyType.String(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int64("session.id", int64(conn.ID())),
			attribute.String("body_type", header.BodyType.String()),
			attribute.Int("payload.length", len(payload)),
		),
	)
	defer span.End()

	h, err := r.Lookup(header.BodyType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("unroutable message", logger.Field{Key: "session", Value: conn.ID()}, logger.Field{Key: "error", Value: err.Error()})
		return Fatal(err)
	}

	outcome := h.Dispatch(ctx, conn, payload, r)
	span.SetAttributes(attribute.String("outcome", outcome.Kind.String()))
	if outcome.Kind == KindFatal {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Reason)
	}

	return outcome
}

// Typed returns the concrete handler registered for packet type T.
func Typed[T protocol.Packet](r *Registry) (*PacketHandler[T], bool) {
	h, ok := r.byPacketType[reflect.TypeFor[T]()]
	if !ok {
		return nil, false
	}

	ph, ok := h.(*PacketHandler[T])
	return ph, ok
}
