package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/protocol"
)

// DefaultHandlers returns a handler for every built-in message kind. Both
// ends of a connection can register the same set: request handlers answer,
// response handlers accept and ignore.
func DefaultHandlers(log logger.Logger) []Handler {
	return []Handler{
		NewTextHandler[protocol.Connect](protocol.BodyTypeConnect, handleConnect, log),
		NewTextHandler[protocol.ConnectResponse](protocol.BodyTypeConnectResponse, nil, log),
		NewTextHandler[protocol.TestRequest](protocol.BodyTypeTestRequest, handleTestRequest, log),
		NewTextHandler[protocol.TestResponse](protocol.BodyTypeTestResponse, nil, log),
		NewTextHandler[protocol.Disconnect](protocol.BodyTypeDisconnect, handleDisconnect, log),
		NewBinaryHandler[protocol.PingRequest](protocol.BodyTypePingRequest, handlePingRequest, log),
		NewBinaryHandler[protocol.PingResponse](protocol.BodyTypePingResponse, nil, log),
	}
}

// NewDefaultRegistry builds a Registry holding DefaultHandlers.
func NewDefaultRegistry(log logger.Logger) (*Registry, error) {
	return NewRegistry(log, DefaultHandlers(log)...)
}

// handleConnect runs only for a Connect that arrives after the handshake;
// the handshake itself decodes Connect directly.
func handleConnect(_ context.Context, conn Conn, _ protocol.Connect, _ Sender) Outcome {
	return Fatal(fmt.Errorf("%w: session %d is already active", protocol.ErrSessionConnectFail, conn.ID()))
}

func handleTestRequest(ctx context.Context, conn Conn, p protocol.TestRequest, out Sender) Outcome {
	out.Send(ctx, conn, protocol.TestResponse{ID: conn.ID(), ResponseText: p.RequestText})
	return Continue()
}

func handleDisconnect(_ context.Context, conn Conn, p protocol.Disconnect, _ Sender) Outcome {
	if p.Delay == 0 {
		return Disconnect("peer requested disconnect")
	}

	conn.RequestDisconnect(protocol.ErrDisconnectRequested, p.After())
	return Continue()
}

func handlePingRequest(ctx context.Context, conn Conn, p protocol.PingRequest, out Sender) Outcome {
	out.Send(ctx, conn, protocol.PingResponse{
		ID:         conn.ID(),
		Sequence:   p.Sequence,
		SentAt:     p.SentAt,
		Tag:        p.Tag,
		ReceivedAt: time.Now().UnixNano(),
	})
	return Continue()
}
