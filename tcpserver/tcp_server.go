package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-tcpsession/handler"
	"github.com/cyberinferno/go-tcpsession/idgenerator"
	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/presence"
	"github.com/cyberinferno/go-tcpsession/protocol"
	"github.com/cyberinferno/go-tcpsession/safemap"
)

// ErrServerStopped is the cancellation cause of sessions closed by Stop.
var ErrServerStopped = errors.New("server stopped")

const presenceTimeout = 2 * time.Second

// Option configures optional TCPServer collaborators.
type Option func(*TCPServer)

// WithPresence publishes confirmed sessions to store instead of the default
// in-memory directory.
func WithPresence(store presence.Store) Option {
	return func(s *TCPServer) {
		s.presence = store
	}
}

// WithMetrics records server activity in m.
func WithMetrics(m *Metrics) Option {
	return func(s *TCPServer) {
		s.metrics = m
	}
}

// TCPServer accepts connections, runs the handshake on each, and then runs
// a receive loop per confirmed session that dispatches frames through the
// handler registry. Confirmed sessions are unique per session id.
type TCPServer struct {
	config   Config
	registry *handler.Registry
	logger   logger.Logger
	presence presence.Store
	metrics  *Metrics

	connect         *handler.PacketHandler[protocol.Connect]
	connectResponse *handler.PacketHandler[protocol.ConnectResponse]
	disconnect      *handler.PacketHandler[protocol.Disconnect]

	// sessions holds confirmed sessions by session id; conns holds every
	// accepted connection by connection id.
	sessions    *safemap.SafeMap[uint32, *Session]
	conns       *safemap.SafeMap[uint32, *Session]
	openConns   atomic.Int64
	idGenerator *idgenerator.IdGenerator

	mu       sync.Mutex
	listener net.Listener
	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelCauseFunc
	wg       sync.WaitGroup
}

// NewTCPServer creates a server that dispatches through registry.
//
// Parameters:
//   - cfg: Listener address, timeouts and limits
//   - registry: Handlers for inbound frames; must include Connect,
//     ConnectResponse and Disconnect handlers
//   - log: Logger for server and session events
//   - opts: Optional collaborators
//
// Returns:
//   - The server, not yet listening
//   - An error if the registry lacks a handler the server depends on
func NewTCPServer(cfg Config, registry *handler.Registry, log logger.Logger, opts ...Option) (*TCPServer, error) {
	connect, ok := handler.Typed[protocol.Connect](registry)
	if !ok {
		return nil, fmt.Errorf("registry has no %s handler", protocol.BodyTypeConnect)
	}

	connectResponse, ok := handler.Typed[protocol.ConnectResponse](registry)
	if !ok {
		return nil, fmt.Errorf("registry has no %s handler", protocol.BodyTypeConnectResponse)
	}

	disconnect, ok := handler.Typed[protocol.Disconnect](registry)
	if !ok {
		return nil, fmt.Errorf("registry has no %s handler", protocol.BodyTypeDisconnect)
	}

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig(cfg.Addr).HandshakeTimeout
	}

	if cfg.MaxPayloadBytes == 0 || cfg.MaxPayloadBytes > protocol.MaxPayloadLength {
		cfg.MaxPayloadBytes = protocol.MaxPayloadLength
	}

	s := &TCPServer{
		config:          cfg,
		registry:        registry,
		logger:          log.With(logger.Field{Key: "server", Value: cfg.Name}),
		connect:         connect,
		connectResponse: connectResponse,
		disconnect:      disconnect,
		sessions:        safemap.NewSafeMap[uint32, *Session](),
		conns:           safemap.NewSafeMap[uint32, *Session](),
		idGenerator:     idgenerator.NewIdGenerator(0),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.presence == nil {
		s.presence = presence.NewMemoryStore(time.Minute)
	}

	return s, nil
}

// Start binds to the configured address and runs the accept loop in a
// goroutine.
//
// Returns:
//   - An error if the server is already running or if listening fails
func (s *TCPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		s.logger.Error("server already running")
		return fmt.Errorf("server %s already running", s.config.Name)
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.logger.Error("server failed to start", logger.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("server %s failed to start: %w", s.config.Name, err)
	}

	s.listener = ln
	s.ctx, s.cancel = context.WithCancelCause(context.Background())
	s.running.Store(true)

	s.logger.Info(fmt.Sprintf("%s server started", s.config.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.AcceptLoop()
	}()

	return nil
}

// Serve starts the server and blocks until ctx is cancelled, then stops it.
func (s *TCPServer) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop closes the listener and every open connection, then waits for all
// session goroutines to finish. Safe to call when the server is not running.
func (s *TCPServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		s.logger.Info(fmt.Sprintf("%s server not running", s.config.Name))
		return
	}

	s.running.Store(false)
	s.cancel(ErrServerStopped)
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.conns.Range(func(_ uint32, sess *Session) bool {
		_ = sess.close(ErrServerStopped)
		return true
	})

	s.wg.Wait()
	s.logger.Info(fmt.Sprintf("%s server stopped", s.config.Name))
}

// Addr returns the bound listener address, or nil before Start.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Presence returns the directory confirmed sessions are published to.
func (s *TCPServer) Presence() presence.Store {
	return s.presence
}

// AcceptLoop accepts connections until the server stops. Each connection
// gets a provisional id from the id generator and its own goroutine.
func (s *TCPServer) AcceptLoop() {
	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.logger.Error(fmt.Sprintf("%s server accept error", s.config.Name), logger.Field{Key: "error", Value: err.Error()})
			continue
		}

		if limit := s.config.MaxConnections; limit > 0 && s.openConns.Load() >= int64(limit) {
			s.logger.Warn("connection limit reached", logger.Field{Key: "remote", Value: conn.RemoteAddr().String()}, logger.Field{Key: "limit", Value: limit})
			_ = conn.Close()
			continue
		}

		sess := newSession(s.ctx, s.idGenerator.Id(), conn, s.config, s.logger)
		s.conns.Store(sess.ConnID(), sess)
		s.openConns.Add(1)
		s.metrics.connectionOpened()

		s.wg.Add(1)
		go s.handleConnection(sess)
	}
}

func (s *TCPServer) handleConnection(sess *Session) {
	defer s.wg.Done()
	defer s.teardown(sess)

	sess.logger.Debug("connection accepted")

	if err := s.handshake(sess); err != nil {
		s.metrics.handshake(err)
		if errors.Is(err, protocol.ErrGracefulDisconnect) || errors.Is(err, ErrServerStopped) {
			sess.logger.Debug("connection closed before handshake", logger.Field{Key: "reason", Value: err.Error()})
			return
		}

		sess.logger.Warn("handshake failed", logger.Field{Key: "session", Value: sess.ID()}, logger.Field{Key: "error", Value: err.Error()})
		s.reject(sess, err)
		return
	}

	s.metrics.handshake(nil)
	sess.logger.Info("session connected", logger.Field{Key: "session", Value: sess.ID()})

	outcome := s.receiveLoop(sess)
	s.metrics.sessionEnded(outcome)

	switch outcome.Kind {
	case handler.KindFatal:
		sess.logger.Error("session terminated", logger.Field{Key: "session", Value: sess.ID()}, logger.Field{Key: "error", Value: outcome.Err.Error()})
	default:
		sess.logger.Info("session disconnected", logger.Field{Key: "session", Value: sess.ID()}, logger.Field{Key: "reason", Value: outcome.Reason})
	}
}

// teardown runs exactly once per accepted connection. The session map and
// presence entries are only removed while they still refer to this
// connection, so a replacement session is never evicted by its predecessor.
func (s *TCPServer) teardown(sess *Session) {
	_ = sess.close(protocol.ErrGracefulDisconnect)

	if s.sessions.CompareAndDelete(sess.ID(), sess) {
		s.metrics.sessionRemoved()

		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if _, err := s.presence.DeleteIf(ctx, sess.ID(), sess.ConnID()); err != nil {
			sess.logger.Warn("presence delete failed", logger.Field{Key: "session", Value: sess.ID()}, logger.Field{Key: "error", Value: err.Error()})
		}
	}

	s.conns.Delete(sess.ConnID())
	s.openConns.Add(-1)
	s.metrics.connectionClosed()
}

// register inserts sess under its claimed id. An existing connected session
// wins and the newcomer is refused; a stale one is replaced and closed.
func (s *TCPServer) register(sess *Session) error {
	id := sess.ID()
	sess.connected.Store(true)

	for {
		prev, loaded := s.sessions.LoadOrStore(id, sess)
		if !loaded {
			s.metrics.sessionAdded()
			return nil
		}

		if prev.IsConnected() {
			sess.connected.Store(false)
			return fmt.Errorf("%w: session %d is held by connection %d", protocol.ErrDuplicateSession, id, prev.ConnID())
		}

		if s.sessions.CompareAndSwap(id, prev, sess) {
			prev.logger.Info("stale session replaced", logger.Field{Key: "session", Value: id}, logger.Field{Key: "by", Value: sess.ConnID()})
			_ = prev.close(protocol.ErrDuplicateSession)
			return nil
		}
	}
}

func (s *TCPServer) publish(sess *Session) {
	ctx, cancel := context.WithTimeout(sess.ctx, presenceTimeout)
	defer cancel()

	r := presence.Record{
		ID:          sess.ID(),
		ConnID:      sess.ConnID(),
		Server:      s.config.Name,
		RemoteAddr:  sess.RemoteAddr().String(),
		ConnectedAt: sess.AcceptedAt(),
	}
	if err := s.presence.Put(ctx, r, s.config.PresenceTTL); err != nil {
		sess.logger.Warn("presence update failed", logger.Field{Key: "session", Value: sess.ID()}, logger.Field{Key: "error", Value: err.Error()})
	}
}

// Session returns the confirmed session with the given id.
func (s *TCPServer) Session(id uint32) (*Session, bool) {
	return s.sessions.Load(id)
}

// SessionIDs returns the ids of all confirmed sessions in ascending order.
func (s *TCPServer) SessionIDs() []uint32 {
	ids := make([]uint32, 0)
	s.sessions.Range(func(id uint32, _ *Session) bool {
		ids = append(ids, id)
		return true
	})

	slices.Sort(ids)
	return ids
}

// SessionCount returns the number of confirmed sessions.
func (s *TCPServer) SessionCount() int {
	return s.sessions.Len()
}

// Send writes packet to the confirmed session with the given id.
//
// Returns:
//   - true if the session exists and the frame was written
func (s *TCPServer) Send(ctx context.Context, id uint32, packet protocol.Packet) bool {
	sess, ok := s.sessions.Load(id)
	if !ok {
		s.logger.Warn("send to unknown session", logger.Field{Key: "session", Value: id})
		return false
	}

	return s.registry.Send(ctx, sess, packet)
}

// Kick tells the session with the given id to disconnect after delay and
// closes it when the delay elapses, whether or not the peer complies.
//
// Returns:
//   - true if the session exists
func (s *TCPServer) Kick(ctx context.Context, id uint32, delay time.Duration) bool {
	sess, ok := s.sessions.Load(id)
	if !ok {
		return false
	}

	if delay < 0 {
		delay = 0
	}

	// whole seconds on the wire, rounded up so the peer never leaves early
	seconds := int(delay / time.Second)
	if delay%time.Second != 0 {
		seconds++
	}
	s.disconnect.Send(ctx, sess, protocol.Disconnect{ID: id, Delay: seconds})
	sess.RequestDisconnect(protocol.ErrDisconnectRequested, delay)
	sess.logger.Info("session kicked", logger.Field{Key: "session", Value: id}, logger.Field{Key: "delay", Value: delay.String()})
	return true
}
