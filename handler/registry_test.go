package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/protocol"
)

func TestNewRegistry_duplicates(t *testing.T) {
	log := logger.NewNopLogger()

	t.Run("same body type twice", func(t *testing.T) {
		_, err := NewRegistry(log,
			NewTextHandler[protocol.Connect](protocol.BodyTypeConnect, nil, log),
			NewTextHandler[protocol.ConnectResponse](protocol.BodyTypeConnect, nil, log),
		)
		assert.Error(t, err)
	})

	t.Run("same packet type twice", func(t *testing.T) {
		_, err := NewRegistry(log,
			NewTextHandler[protocol.Connect](protocol.BodyTypeConnect, nil, log),
			NewTextHandler[protocol.Connect](protocol.BodyTypeConnectResponse, nil, log),
		)
		assert.Error(t, err)
	})
}

func TestRegistry_Lookup(t *testing.T) {
	r := newTestRegistry(t)

	t.Run("every registered body type resolves", func(t *testing.T) {
		types := r.BodyTypes()
		assert.Equal(t, []protocol.BodyType{
			protocol.BodyTypeConnect,
			protocol.BodyTypeConnectResponse,
			protocol.BodyTypeTestRequest,
			protocol.BodyTypeTestResponse,
			protocol.BodyTypeDisconnect,
			protocol.BodyTypePingRequest,
			protocol.BodyTypePingResponse,
		}, types)

		for _, bt := range types {
			h, err := r.Lookup(bt)
			require.NoError(t, err)
			assert.Equal(t, bt, h.BodyType())
		}
	})

	t.Run("unregistered body types miss", func(t *testing.T) {
		for _, bt := range []protocol.BodyType{protocol.BodyTypeNone, 8, 0x0100, protocol.MaxBodyType} {
			_, err := r.Lookup(bt)
			assert.ErrorIs(t, err, protocol.ErrNotImplementHandler, bt.String())
		}
	})

	t.Run("lookup by packet type", func(t *testing.T) {
		h, ok := r.LookupPacket(protocol.PingRequest{})
		require.True(t, ok)
		assert.Equal(t, protocol.BodyTypePingRequest, h.BodyType())

		_, ok = r.LookupPacket(&protocol.PingRequest{})
		assert.False(t, ok)

		_, ok = r.LookupPacket(nil)
		assert.False(t, ok)
	})

	t.Run("typed lookup", func(t *testing.T) {
		h, ok := Typed[protocol.Connect](r)
		require.True(t, ok)
		assert.Equal(t, protocol.BodyTypeConnect, h.BodyType())
	})
}

type unknownPacket struct{ ID uint32 }

func (p unknownPacket) SessionID() uint32 { return p.ID }
func (p unknownPacket) IsValid() bool     { return true }

func TestRegistry_Send(t *testing.T) {
	r := newTestRegistry(t)
	conn := newFakeConn(42)

	assert.True(t, r.Send(context.Background(), conn, protocol.TestRequest{ID: 42, RequestText: "hi"}))
	assert.Equal(t, protocol.BodyTypeTestRequest, conn.lastFrame(t).header.BodyType)

	assert.False(t, r.Send(context.Background(), conn, unknownPacket{ID: 42}))
}

func TestRegistry_Dispatch(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	t.Run("unknown body type is fatal", func(t *testing.T) {
		conn := newFakeConn(42)
		outcome := r.Dispatch(ctx, conn, protocol.Header{SessionID: 42, BodyType: 0x0100}, []byte("{}"))
		assert.Equal(t, KindFatal, outcome.Kind)
		assert.ErrorIs(t, outcome.Err, protocol.ErrNotImplementHandler)
	})

	t.Run("test request is echoed byte-exact", func(t *testing.T) {
		conn := newFakeConn(42)
		payload := encodeText(t, protocol.TestRequest{ID: 42, RequestText: "ping"})
		outcome := r.Dispatch(ctx, conn, protocol.Header{SessionID: 42, BodyType: protocol.BodyTypeTestRequest}, payload)
		require.Equal(t, KindContinue, outcome.Kind)

		f := conn.lastFrame(t)
		assert.Equal(t, protocol.BodyTypeTestResponse, f.header.BodyType)
		resp, err := protocol.TextDecode[protocol.TestResponse](f.payload)
		require.NoError(t, err)
		assert.Equal(t, protocol.TestResponse{ID: 42, ResponseText: "ping"}, resp)
	})

	t.Run("ping request is answered in binary", func(t *testing.T) {
		conn := newFakeConn(42)
		payload, err := protocol.StructToBytes(protocol.PingRequest{ID: 42, Sequence: 3, SentAt: 1000, Tag: "a"})
		require.NoError(t, err)

		outcome := r.Dispatch(ctx, conn, protocol.Header{SessionID: 42, BodyType: protocol.BodyTypePingRequest}, payload)
		require.Equal(t, KindContinue, outcome.Kind)

		f := conn.lastFrame(t)
		resp, err := protocol.BytesToStruct[protocol.PingResponse](f.payload)
		require.NoError(t, err)
		assert.Equal(t, uint32(3), resp.Sequence)
		assert.Equal(t, int64(1000), resp.SentAt)
		assert.Equal(t, "a", resp.Tag)
		assert.Positive(t, resp.ReceivedAt)
	})

	t.Run("disconnect without delay ends session", func(t *testing.T) {
		conn := newFakeConn(42)
		payload := encodeText(t, protocol.Disconnect{ID: 42})
		outcome := r.Dispatch(ctx, conn, protocol.Header{SessionID: 42, BodyType: protocol.BodyTypeDisconnect}, payload)
		assert.Equal(t, KindDisconnect, outcome.Kind)
		assert.Empty(t, conn.disconnects)
	})

	t.Run("disconnect with delay schedules and continues", func(t *testing.T) {
		conn := newFakeConn(42)
		payload := encodeText(t, protocol.Disconnect{ID: 42, Delay: 2})
		outcome := r.Dispatch(ctx, conn, protocol.Header{SessionID: 42, BodyType: protocol.BodyTypeDisconnect}, payload)
		assert.Equal(t, KindContinue, outcome.Kind)
		require.Len(t, conn.disconnects, 1)
		assert.Equal(t, 2*time.Second, conn.disconnects[0].after)
		assert.ErrorIs(t, conn.disconnects[0].cause, protocol.ErrDisconnectRequested)
	})

	t.Run("negative delay is rejected", func(t *testing.T) {
		conn := newFakeConn(42)
		payload := encodeText(t, protocol.Disconnect{ID: 42, Delay: -1})
		outcome := r.Dispatch(ctx, conn, protocol.Header{SessionID: 42, BodyType: protocol.BodyTypeDisconnect}, payload)
		assert.Equal(t, KindFatal, outcome.Kind)
	})

	t.Run("connect after handshake is fatal", func(t *testing.T) {
		conn := newFakeConn(42)
		payload := encodeText(t, protocol.Connect{ID: 42})
		outcome := r.Dispatch(ctx, conn, protocol.Header{SessionID: 42, BodyType: protocol.BodyTypeConnect}, payload)
		assert.Equal(t, KindFatal, outcome.Kind)
		assert.ErrorIs(t, outcome.Err, protocol.ErrSessionConnectFail)
	})

	t.Run("responses are accepted silently", func(t *testing.T) {
		conn := newFakeConn(42)
		payload := encodeText(t, protocol.TestResponse{ID: 42, ResponseText: "x"})
		outcome := r.Dispatch(ctx, conn, protocol.Header{SessionID: 42, BodyType: protocol.BodyTypeTestResponse}, payload)
		assert.Equal(t, KindContinue, outcome.Kind)
		assert.Empty(t, conn.frames)
	})
}
