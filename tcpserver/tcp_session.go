package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-tcpsession/bufferpool"
	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/protocol"
)

// Session is one accepted connection. It starts unconfirmed, becomes
// connected once the handshake registers its id, and is closed exactly once.
// Session implements handler.Conn.
type Session struct {
	connID       uint32
	id           atomic.Uint32
	connected    atomic.Bool
	conn         net.Conn
	acceptedAt   time.Time
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       logger.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	writeMu sync.Mutex

	timerMu         sync.Mutex
	disconnectTimer *time.Timer

	closeOnce sync.Once
}

func newSession(parent context.Context, connID uint32, conn net.Conn, cfg Config, log logger.Logger) *Session {
	ctx, cancel := context.WithCancelCause(parent)
	s := &Session{
		connID:       connID,
		conn:         conn,
		acceptedAt:   time.Now(),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		logger: log.With(
			logger.Field{Key: "conn", Value: connID},
			logger.Field{Key: "remote", Value: conn.RemoteAddr().String()},
		),
		ctx:    ctx,
		cancel: cancel,
	}

	// A cancelled session is stale: it stops counting as connected and any
	// pending read or write is unblocked.
	context.AfterFunc(ctx, func() {
		s.connected.Store(false)
		_ = conn.Close()
	})
	return s
}

// ID returns the session id claimed in the handshake, or 0 before that.
func (s *Session) ID() uint32 {
	return s.id.Load()
}

// ConnID returns the provisional id assigned on accept.
func (s *Session) ConnID() uint32 {
	return s.connID
}

// IsConnected reports whether the handshake completed and the session is
// still open.
func (s *Session) IsConnected() bool {
	return s.connected.Load()
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// AcceptedAt returns when the connection was accepted.
func (s *Session) AcceptedAt() time.Time {
	return s.acceptedAt
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Cause returns why the session ended, or nil while it is open.
func (s *Session) Cause() error {
	return context.Cause(s.ctx)
}

func (s *Session) claim(id uint32) {
	s.id.Store(id)
}

// interruptOn arranges for pending I/O to fail once ctx is done. The returned
// function must be called when the I/O finished; it waits for an in-flight
// interruption so a stale deadline never leaks into the next operation.
func (s *Session) interruptOn(ctx context.Context, setDeadline func(time.Time) error) func() {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = setDeadline(time.Now())
		close(fired)
	})

	return func() {
		if !stop() {
			<-fired
		}
	}
}

// ReadFull reads exactly len(buf) bytes. A clean remote close before any
// byte arrives yields protocol.ErrGracefulDisconnect; a close mid-buffer is
// a transport error. Cancelling ctx aborts the read with ctx's cause.
func (s *Session) ReadFull(ctx context.Context, buf []byte) error {
	deadline := time.Time{}
	if s.readTimeout > 0 {
		deadline = time.Now().Add(s.readTimeout)
	}

	// A conn whose peer already closed may refuse the deadline; the read
	// below still reports that close as io.EOF.
	_ = s.conn.SetReadDeadline(deadline)

	done := s.interruptOn(ctx, s.conn.SetReadDeadline)
	n, err := io.ReadFull(s.conn, buf)
	done()

	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	if errors.Is(err, io.EOF) {
		return protocol.ErrGracefulDisconnect
	}

	return fmt.Errorf("read %d of %d bytes: %w", n, len(buf), err)
}

// Write sends header and payload as one frame from a pooled buffer. Writes
// to the same session are serialized.
func (s *Session) Write(ctx context.Context, header protocol.Header, payload []byte) error {
	if int(header.Length) != len(payload) {
		return fmt.Errorf("%w: header length %d, payload %d", protocol.ErrInvalidHeader, header.Length, len(payload))
	}

	buf := bufferpool.Rent(protocol.HeaderSize + len(payload))
	defer bufferpool.Return(buf)

	protocol.PutHeader(buf, header)
	copy(buf[protocol.HeaderSize:], payload)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Time{}
	if s.writeTimeout > 0 {
		deadline = time.Now().Add(s.writeTimeout)
	}

	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	done := s.interruptOn(ctx, s.conn.SetWriteDeadline)
	_, err := s.conn.Write(buf)
	done()

	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		return err
	}

	return nil
}

// RequestDisconnect closes the session with cause, immediately or after the
// given delay. A later request replaces a pending delayed one. The session
// keeps serving messages until the delay elapses.
func (s *Session) RequestDisconnect(cause error, after time.Duration) {
	if after <= 0 {
		s.cancel(cause)
		return
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.disconnectTimer != nil {
		s.disconnectTimer.Stop()
	}

	s.logger.Debug("disconnect scheduled", logger.Field{Key: "session", Value: s.ID()}, logger.Field{Key: "after", Value: after.String()})
	s.disconnectTimer = time.AfterFunc(after, func() { s.cancel(cause) })
}

// Close tears the session down. It is safe to call multiple times.
func (s *Session) Close() error {
	return s.close(protocol.ErrDisconnectRequested)
}

func (s *Session) close(cause error) error {
	var err error
	s.closeOnce.Do(func() {
		s.connected.Store(false)

		s.timerMu.Lock()
		if s.disconnectTimer != nil {
			s.disconnectTimer.Stop()
		}
		s.timerMu.Unlock()

		s.cancel(cause)
		if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})

	return err
}
