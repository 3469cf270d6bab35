package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyberinferno/go-tcpsession/bufferpool"
	"github.com/cyberinferno/go-tcpsession/handler"
	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/protocol"
)

// readFrame reads one header and its payload. The payload is rented from
// bufferpool and must be returned by the caller.
func (s *TCPServer) readFrame(ctx context.Context, sess *Session) (protocol.Header, []byte, error) {
	hb := bufferpool.Rent(protocol.HeaderSize)
	defer bufferpool.Return(hb)

	if err := sess.ReadFull(ctx, hb); err != nil {
		return protocol.Header{}, nil, err
	}

	header, err := protocol.DecodeHeader(hb)
	if err != nil {
		return header, nil, err
	}

	if header.Length > s.config.MaxPayloadBytes {
		return header, nil, fmt.Errorf("%w: payload length %d exceeds limit %d", protocol.ErrInvalidHeader, header.Length, s.config.MaxPayloadBytes)
	}

	payload := bufferpool.Rent(int(header.Length))
	if err := sess.ReadFull(ctx, payload); err != nil {
		bufferpool.Return(payload)
		return header, nil, err
	}

	return header, payload, nil
}

// handshake waits for the first frame, which must be a valid Connect, and
// registers the session under the claimed id. On success the session is
// connected and a positive ConnectResponse has been sent.
func (s *TCPServer) handshake(sess *Session) error {
	ctx, cancel := context.WithTimeoutCause(sess.ctx, s.config.HandshakeTimeout,
		fmt.Errorf("%w: no connect within %s", protocol.ErrSessionConnectFail, s.config.HandshakeTimeout))
	defer cancel()

	header, payload, err := s.readFrame(ctx, sess)
	if err != nil {
		return err
	}
	defer bufferpool.Return(payload)

	if header.BodyType != protocol.BodyTypeConnect {
		return fmt.Errorf("%w: expected %s, got %s", protocol.ErrSessionConnectFail, protocol.BodyTypeConnect, header.BodyType)
	}

	connect, err := s.connect.Decode(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrSessionConnectFail, err)
	}

	sess.claim(connect.ID)

	if !connect.IsValid() {
		return fmt.Errorf("%w: connect carries no session id", protocol.ErrInvalidSessionData)
	}

	if header.SessionID != 0 && header.SessionID != connect.ID {
		return fmt.Errorf("%w: header session %d, connect session %d", protocol.ErrInvalidSessionData, header.SessionID, connect.ID)
	}

	if err := s.register(sess); err != nil {
		return err
	}

	s.publish(sess)

	if !s.registry.Send(ctx, sess, protocol.ConnectResponse{ID: connect.ID, IsActive: true}) {
		return fmt.Errorf("%w: connect response not delivered", protocol.ErrSessionConnectFail)
	}

	return nil
}

// reject tells the peer why its handshake failed. Delivery is best effort;
// the connection is closed either way.
func (s *TCPServer) reject(sess *Session, cause error) {
	ctx, cancel := context.WithTimeout(sess.ctx, presenceTimeout)
	defer cancel()

	code := protocol.CodeOf(cause)
	if code == protocol.ErrorCodeInternal {
		code = protocol.ErrorCodeSessionConnectFail
	}

	resp := protocol.ConnectResponse{ID: sess.ID(), IsActive: false}
	if err := s.connectResponse.WritePacket(ctx, sess, resp, code); err != nil {
		sess.logger.Debug("handshake rejection not delivered", logger.Field{Key: "error", Value: err.Error()})
	}
}

// receiveLoop reads and dispatches frames until an outcome other than
// Continue. Every frame's header must carry the session's own id.
func (s *TCPServer) receiveLoop(sess *Session) handler.Outcome {
	lastPublish := time.Now()

	for {
		header, payload, err := s.readFrame(sess.ctx, sess)
		if err != nil {
			return s.readOutcome(sess, err)
		}

		if header.SessionID != sess.ID() {
			bufferpool.Return(payload)
			return handler.Fatal(fmt.Errorf("%w: frame for session %d on session %d", protocol.ErrInvalidSessionData, header.SessionID, sess.ID()))
		}

		start := time.Now()
		outcome := s.registry.Dispatch(sess.ctx, sess, header, payload)
		bufferpool.Return(payload)
		s.metrics.message(header.BodyType, time.Since(start))

		if outcome.Kind != handler.KindContinue {
			return outcome
		}

		if ttl := s.config.PresenceTTL; ttl > 0 && time.Since(lastPublish) > ttl/2 {
			s.publish(sess)
			lastPublish = time.Now()
		}
	}
}

// readOutcome classifies a failed read. Closes the peer or the server asked
// for are ordinary disconnects; anything else is fatal.
func (s *TCPServer) readOutcome(sess *Session, err error) handler.Outcome {
	switch {
	case errors.Is(err, protocol.ErrGracefulDisconnect):
		return handler.Disconnect("remote closed connection")
	case errors.Is(err, protocol.ErrDisconnectRequested):
		return handler.Disconnect("disconnect requested")
	case errors.Is(err, ErrServerStopped):
		return handler.Disconnect("server stopped")
	case errors.Is(err, protocol.ErrSessionNotConnected):
		return handler.Disconnect("session no longer connected")
	case errors.Is(err, protocol.ErrDuplicateSession):
		return handler.Disconnect("replaced by a newer connection")
	default:
		return handler.Fatal(err)
	}
}
