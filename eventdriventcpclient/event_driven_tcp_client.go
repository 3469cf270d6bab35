// Package eventdriventcpclient provides the client side of the session
// protocol. The client dials, performs the Connect handshake, dispatches
// inbound frames through a handler registry, and notifies callers of state
// changes, received packets and errors via registered handlers. It supports
// optional auto-reconnect with a fresh handshake on every connection.
package eventdriventcpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-tcpsession/bufferpool"
	"github.com/cyberinferno/go-tcpsession/handler"
	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/protocol"
)

var (
	// ErrNotConnected is returned by writes while no connection is up.
	ErrNotConnected = errors.New("not connected")
	// ErrClientClosed is returned by Connect after Close.
	ErrClientClosed = errors.New("client is closed")
)

// ConnectionState represents the current state of the TCP connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected and not attempting to connect
	Connecting                          // Dial or handshake in progress
	Connected                           // Handshake accepted by the server
	Reconnecting                        // Waiting to reconnect (when AutoReconnect is enabled)
	Closed                              // Client has been closed and will not reconnect
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The remote address (e.g. "host:port")
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the state change was due to an error
}

// PacketReceivedEvent is emitted after an inbound frame was dispatched.
type PacketReceivedEvent struct {
	Header    protocol.Header // The frame header
	Payload   []byte          // The raw payload; owned by the event
	Timestamp time.Time       // When the frame was received
}

// ErrorEvent is emitted when a read, write, handshake or dispatch error
// occurs.
type ErrorEvent struct {
	Error     error     // The error that occurred
	Timestamp time.Time // When the error occurred
}

// Event handlers run on their own goroutines and must be safe for concurrent
// use. Delivery order across events is not guaranteed.
type (
	ConnectionStateHandler func(event ConnectionStateEvent)
	PacketReceivedHandler  func(event PacketReceivedEvent)
	ErrorHandler           func(event ErrorEvent)
)

// Config holds configuration for the event-driven TCP client.
type Config struct {
	// Address is the "host:port" to connect to (e.g. "localhost:8080").
	Address string
	// SessionID is the id claimed in the handshake. It must not be 0.
	SessionID uint32
	// AutoReconnect enables automatic reconnection when the connection is lost.
	AutoReconnect bool
	// ReconnectInterval is the delay between reconnection attempts when AutoReconnect is true.
	ReconnectInterval time.Duration
	// WriteTimeout is the max duration for a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// ReadTimeout is the max duration to wait for a frame; 0 means no timeout.
	ReadTimeout time.Duration
	// ConnectionTimeout is the max duration for establishing a new connection.
	ConnectionTimeout time.Duration
	// HandshakeTimeout is the max duration to wait for the ConnectResponse.
	HandshakeTimeout time.Duration
	// MaxPayloadBytes drops the connection on frames announcing larger payloads.
	MaxPayloadBytes uint32
}

// DefaultEventDrivenTCPClientConfig returns a Config with default values.
// AutoReconnect is false; override fields as needed before passing to NewEventDrivenTCPClient.
//
// Parameters:
//   - address: The "host:port" to connect to
//   - sessionID: The session id to claim
//
// Returns:
//   - A Config with defaults: ReconnectInterval 5s, WriteTimeout 10s,
//     ConnectionTimeout 10s, HandshakeTimeout 5s, ReadTimeout 0,
//     MaxPayloadBytes protocol.MaxPayloadLength.
func DefaultEventDrivenTCPClientConfig(address string, sessionID uint32) Config {
	return Config{
		Address:           address,
		SessionID:         sessionID,
		AutoReconnect:     false,
		ReconnectInterval: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       0,
		ConnectionTimeout: 10 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		MaxPayloadBytes:   protocol.MaxPayloadLength,
	}
}

// connection is one dialed socket. Its context is cancelled, with the reason,
// when the connection is dropped.
type connection struct {
	conn   net.Conn
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// EventDrivenTCPClient is a session-protocol client driven by events.
// Register handlers with OnConnectionState, OnPacketReceived and OnError,
// then call Connect to start. It implements handler.Conn and is safe for
// concurrent use.
type EventDrivenTCPClient struct {
	config   Config
	registry *handler.Registry
	logger   logger.Logger

	current *connection
	state   ConnectionState

	onConnectionState ConnectionStateHandler
	onPacketReceived  PacketReceivedHandler
	onError           ErrorHandler

	mu              sync.RWMutex
	writeMu         sync.Mutex
	disconnectTimer *time.Timer
	stopChan        chan struct{}
	reconnectChan   chan struct{}
	reconnectOnce   sync.Once
	wg              sync.WaitGroup
	closed          bool
	reconnecting    bool
}

// NewEventDrivenTCPClient creates a client that dispatches inbound frames
// through registry. The client starts in Disconnected state; call Connect
// to establish a connection.
//
// Parameters:
//   - config: Connection and behavior settings (e.g. from DefaultEventDrivenTCPClientConfig)
//   - registry: Handlers for inbound frames and outbound packet types
//   - log: Logger for client events
//
// Returns:
//   - A new *EventDrivenTCPClient; call Close when done to release resources.
func NewEventDrivenTCPClient(config Config, registry *handler.Registry, log logger.Logger) *EventDrivenTCPClient {
	if config.MaxPayloadBytes == 0 || config.MaxPayloadBytes > protocol.MaxPayloadLength {
		config.MaxPayloadBytes = protocol.MaxPayloadLength
	}

	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 5 * time.Second
	}

	return &EventDrivenTCPClient{
		config:        config,
		registry:      registry,
		logger:        log.With(logger.Field{Key: "session", Value: config.SessionID}, logger.Field{Key: "addr", Value: config.Address}),
		state:         Disconnected,
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
	}
}

// OnConnectionState sets the state change handler, replacing any earlier
// one. nil clears it.
func (c *EventDrivenTCPClient) OnConnectionState(fn ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = fn
}

// OnPacketReceived sets the handler called after each inbound frame was
// dispatched.
func (c *EventDrivenTCPClient) OnPacketReceived(fn PacketReceivedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPacketReceived = fn
}

// OnError sets the error handler.
func (c *EventDrivenTCPClient) OnError(fn ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Connect dials the configured address and performs the handshake. When
// AutoReconnect is enabled, lost connections are re-established in the
// background.
//
// Returns:
//   - nil once the server accepted the session; otherwise the dial error,
//     a handshake error wrapping the server's error code, ErrClientClosed,
//     or an error if already connected or connecting.
func (c *EventDrivenTCPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return fmt.Errorf("already connected or connecting")
	}
	c.mu.Unlock()

	if c.config.AutoReconnect {
		c.reconnectOnce.Do(func() {
			c.wg.Add(1)
			go c.reconnectHandler()
		})
	}

	return c.connect(ctx)
}

// Disconnect tells the server the session is ending, closes the current
// connection and moves to Disconnected state. Connect may be called again.
// Safe to call when already disconnected or closed.
func (c *EventDrivenTCPClient) Disconnect(ctx context.Context) error {
	c.mu.RLock()
	cur := c.current
	c.mu.RUnlock()

	if cur == nil {
		return nil
	}

	sent := c.registry.Send(ctx, c, protocol.Disconnect{ID: c.config.SessionID})
	c.drop(cur, protocol.ErrDisconnectRequested)
	c.setState(Disconnected, nil)

	if !sent {
		return fmt.Errorf("disconnect notice not delivered")
	}

	return nil
}

// Close drops the connection without a Disconnect notice and stops the
// reconnect goroutine. A closed client cannot be reused. Repeated calls
// return nil.
func (c *EventDrivenTCPClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	cur := c.current
	if c.disconnectTimer != nil {
		c.disconnectTimer.Stop()
	}
	c.mu.Unlock()

	if cur != nil {
		c.drop(cur, protocol.ErrDisconnectRequested)
	}

	close(c.stopChan)
	c.wg.Wait()

	c.setState(Closed, nil)

	return nil
}

// ID implements handler.Conn.
func (c *EventDrivenTCPClient) ID() uint32 {
	return c.config.SessionID
}

// GetState returns the current connection state.
func (c *EventDrivenTCPClient) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected implements handler.Conn. It is true once the handshake was
// accepted and until the connection is lost.
func (c *EventDrivenTCPClient) IsConnected() bool {
	return c.GetState() == Connected
}

// Send writes packet through its registered handler.
//
// Returns:
//   - nil on success; an error if the packet type is unknown, the packet is
//     invalid, the client is not connected, or the write fails.
func (c *EventDrivenTCPClient) Send(ctx context.Context, packet protocol.Packet) error {
	if !c.registry.Send(ctx, c, packet) {
		return fmt.Errorf("send %T failed", packet)
	}

	return nil
}

// Write implements handler.Conn. It writes one frame on the current
// connection; writes are serialized.
func (c *EventDrivenTCPClient) Write(ctx context.Context, header protocol.Header, payload []byte) error {
	c.mu.RLock()
	cur := c.current
	c.mu.RUnlock()

	if cur == nil {
		return ErrNotConnected
	}

	return c.writeOn(ctx, cur, header, payload)
}

// writeOn writes one frame on cur, whether or not cur is still current.
func (c *EventDrivenTCPClient) writeOn(ctx context.Context, cur *connection, header protocol.Header, payload []byte) error {
	if int(header.Length) != len(payload) {
		return fmt.Errorf("%w: header length %d, payload %d", protocol.ErrInvalidHeader, header.Length, len(payload))
	}

	frame := bufferpool.Rent(protocol.HeaderSize + len(payload))
	defer bufferpool.Return(frame)

	protocol.PutHeader(frame, header)
	copy(frame[protocol.HeaderSize:], payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	if err := cur.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	if _, err := cur.conn.Write(frame); err != nil {
		// the read loop reports the loss
		cur.cancel(fmt.Errorf("write: %w", err))
		return err
	}

	return nil
}

// RequestDisconnect implements handler.Conn. The connection is dropped
// immediately or after the delay and is not re-established automatically.
func (c *EventDrivenTCPClient) RequestDisconnect(cause error, after time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.current
	if cur == nil {
		return
	}

	if c.disconnectTimer != nil {
		c.disconnectTimer.Stop()
		c.disconnectTimer = nil
	}

	if after <= 0 {
		cur.cancel(cause)
		return
	}

	c.logger.Debug("disconnect scheduled", logger.Field{Key: "after", Value: after.String()})
	c.disconnectTimer = time.AfterFunc(after, func() { cur.cancel(cause) })
}

func (c *EventDrivenTCPClient) connect(ctx context.Context) error {
	c.setState(Connecting, nil)

	dialer := net.Dialer{
		Timeout: c.config.ConnectionTimeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return err
	}

	connCtx, cancel := context.WithCancelCause(context.Background())
	context.AfterFunc(connCtx, func() { _ = conn.Close() })
	cur := &connection{conn: conn, ctx: connCtx, cancel: cancel}

	c.mu.Lock()
	c.current = cur
	c.mu.Unlock()

	if err := c.handshake(ctx, cur); err != nil {
		c.drop(cur, err)
		c.setState(Disconnected, err)
		c.emitError(err)
		return err
	}

	c.setState(Connected, nil)
	c.logger.Info("session connected")

	c.wg.Add(1)
	go c.readLoop(cur)

	return nil
}

// handshake sends Connect and waits for the ConnectResponse. A refusal is
// reported as the sentinel error of the header's error code.
func (c *EventDrivenTCPClient) handshake(ctx context.Context, cur *connection) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	connect, ok := handler.Typed[protocol.Connect](c.registry)
	if !ok {
		return fmt.Errorf("registry has no %s handler", protocol.BodyTypeConnect)
	}

	respHandler, ok := handler.Typed[protocol.ConnectResponse](c.registry)
	if !ok {
		return fmt.Errorf("registry has no %s handler", protocol.BodyTypeConnectResponse)
	}

	if err := connect.WritePacket(ctx, handshakeConn{c, cur}, protocol.Connect{ID: c.config.SessionID}, protocol.ErrorCodeNone); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrSessionConnectFail, err)
	}

	deadline, _ := ctx.Deadline()
	header, payload, err := c.readFrame(cur, deadline)
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrSessionConnectFail, err)
	}

	if header.BodyType != protocol.BodyTypeConnectResponse {
		return fmt.Errorf("%w: expected %s, got %s", protocol.ErrSessionConnectFail, protocol.BodyTypeConnectResponse, header.BodyType)
	}

	if header.Error != protocol.ErrorCodeNone {
		return fmt.Errorf("handshake refused: %w", header.Error.Err())
	}

	resp, err := respHandler.Decode(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrSessionConnectFail, err)
	}

	if !resp.IsActive || resp.ID != c.config.SessionID {
		return fmt.Errorf("%w: session %d not activated", protocol.ErrSessionConnectFail, c.config.SessionID)
	}

	return nil
}

// handshakeConn pins writes to the connection being handshaken, so a
// concurrent reconnect cannot redirect the Connect frame.
type handshakeConn struct {
	*EventDrivenTCPClient
	cur *connection
}

func (h handshakeConn) Write(ctx context.Context, header protocol.Header, payload []byte) error {
	return h.writeOn(ctx, h.cur, header, payload)
}

// readFrame reads one header and payload. The payload is freshly allocated
// because it is handed to event handlers.
func (c *EventDrivenTCPClient) readFrame(cur *connection, deadline time.Time) (protocol.Header, []byte, error) {
	// a refused deadline after the peer closed still surfaces as io.EOF below
	_ = cur.conn.SetReadDeadline(deadline)

	hb := make([]byte, protocol.HeaderSize)
	if _, err := io.ReadFull(cur.conn, hb); err != nil {
		if errors.Is(err, io.EOF) {
			return protocol.Header{}, nil, protocol.ErrGracefulDisconnect
		}

		return protocol.Header{}, nil, err
	}

	header, err := protocol.DecodeHeader(hb)
	if err != nil {
		return header, nil, err
	}

	if header.Length > c.config.MaxPayloadBytes {
		return header, nil, fmt.Errorf("%w: payload length %d exceeds limit %d", protocol.ErrInvalidHeader, header.Length, c.config.MaxPayloadBytes)
	}

	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(cur.conn, payload); err != nil {
		return header, nil, err
	}

	return header, payload, nil
}

func (c *EventDrivenTCPClient) readLoop(cur *connection) {
	defer c.wg.Done()

	for {
		deadline := time.Time{}
		if c.config.ReadTimeout > 0 {
			deadline = time.Now().Add(c.config.ReadTimeout)
		}

		header, payload, err := c.readFrame(cur, deadline)
		if err != nil {
			c.connectionLost(cur, err)
			return
		}

		outcome := c.registry.Dispatch(cur.ctx, c, header, payload)
		c.emitPacketReceived(header, payload)

		switch outcome.Kind {
		case handler.KindDisconnect:
			c.logger.Info("session disconnected", logger.Field{Key: "reason", Value: outcome.Reason})
			c.drop(cur, protocol.ErrDisconnectRequested)
			c.setState(Disconnected, nil)
			return
		case handler.KindFatal:
			c.emitError(outcome.Err)
			c.connectionLost(cur, outcome.Err)
			return
		}
	}
}

// drop cancels cur with cause and forgets it if it is still current.
func (c *EventDrivenTCPClient) drop(cur *connection, cause error) {
	cur.cancel(cause)

	c.mu.Lock()
	if c.current == cur {
		c.current = nil
	}
	c.mu.Unlock()
}

// connectionLost handles the end of cur. Requested disconnects end quietly;
// anything else is reported and may trigger a reconnect.
func (c *EventDrivenTCPClient) connectionLost(cur *connection, err error) {
	cause := context.Cause(cur.ctx)
	requested := errors.Is(cause, protocol.ErrDisconnectRequested)
	if cause != nil && !requested {
		err = cause
	}
	c.drop(cur, err)

	if c.isClosed() {
		return
	}

	c.mu.RLock()
	superseded := c.current != nil
	c.mu.RUnlock()
	if superseded {
		return
	}

	if requested {
		c.logger.Info("session disconnected", logger.Field{Key: "reason", Value: "disconnect requested"})
		c.setState(Disconnected, nil)
		return
	}

	c.logger.Warn("connection lost", logger.Field{Key: "error", Value: err.Error()})
	c.setState(Disconnected, err)
	if !errors.Is(err, protocol.ErrGracefulDisconnect) {
		c.emitError(err)
	}
	c.triggerReconnect()
}

// reconnectHandler redials after ReconnectInterval whenever a connection is
// lost, until the client is closed.
func (c *EventDrivenTCPClient) reconnectHandler() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case <-c.reconnectChan:
		}

		if !c.beginReconnect() {
			continue
		}

		c.setState(Reconnecting, nil)

		timer := time.NewTimer(c.config.ReconnectInterval)
		select {
		case <-c.stopChan:
			timer.Stop()
			c.endReconnect()
			return
		case <-timer.C:
		}

		var err error
		if !c.isClosed() {
			err = c.connect(context.Background())
		}
		c.endReconnect()

		if err != nil {
			c.triggerReconnect()
		}
	}
}

// beginReconnect claims the reconnect slot unless an attempt is running or a
// connection is already up.
func (c *EventDrivenTCPClient) beginReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reconnecting || c.current != nil || c.closed {
		return false
	}

	c.reconnecting = true
	return true
}

func (c *EventDrivenTCPClient) endReconnect() {
	c.mu.Lock()
	c.reconnecting = false
	c.mu.Unlock()
}

func (c *EventDrivenTCPClient) triggerReconnect() {
	if !c.config.AutoReconnect || c.isClosed() {
		return
	}

	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}

func (c *EventDrivenTCPClient) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	fn := c.onConnectionState
	c.mu.Unlock()

	emit(fn, ConnectionStateEvent{State: state, Address: c.config.Address, Timestamp: time.Now(), Error: err})
}

func (c *EventDrivenTCPClient) emitPacketReceived(header protocol.Header, payload []byte) {
	c.mu.RLock()
	fn := c.onPacketReceived
	c.mu.RUnlock()

	emit(fn, PacketReceivedEvent{Header: header, Payload: payload, Timestamp: time.Now()})
}

func (c *EventDrivenTCPClient) emitError(err error) {
	c.mu.RLock()
	fn := c.onError
	c.mu.RUnlock()

	emit(fn, ErrorEvent{Error: err, Timestamp: time.Now()})
}

// emit runs fn on its own goroutine so a slow handler never stalls I/O.
func emit[E any](fn func(E), event E) {
	if fn != nil {
		go fn(event)
	}
}

func (c *EventDrivenTCPClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
