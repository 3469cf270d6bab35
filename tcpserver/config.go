package tcpserver

import "time"

// Config holds the transport and session limits of a TCPServer.
type Config struct {
	// Name identifies the server in logs and presence records.
	Name string
	// Addr is the "host:port" to listen on.
	Addr string
	// HandshakeTimeout bounds the time from accept to a confirmed session.
	HandshakeTimeout time.Duration
	// ReadTimeout closes sessions idle for longer than this; 0 disables it.
	ReadTimeout time.Duration
	// WriteTimeout bounds each frame write; 0 disables it.
	WriteTimeout time.Duration
	// MaxPayloadBytes rejects headers announcing larger payloads.
	MaxPayloadBytes uint32
	// MaxConnections caps concurrently open connections; 0 means unlimited.
	MaxConnections int
	// PresenceTTL is the lifetime of presence records, refreshed while the
	// session is active; 0 means records never expire.
	PresenceTTL time.Duration
}

// DefaultConfig returns a Config suitable for local use on addr.
//
// Parameters:
//   - addr: The "host:port" to listen on
//
// Returns:
//   - A Config with defaults: HandshakeTimeout 5s, ReadTimeout 0,
//     WriteTimeout 10s, MaxPayloadBytes 64KiB, MaxConnections 0, PresenceTTL 0
func DefaultConfig(addr string) Config {
	return Config{
		Name:             "tcpsession",
		Addr:             addr,
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      0,
		WriteTimeout:     10 * time.Second,
		MaxPayloadBytes:  64 * 1024,
		MaxConnections:   0,
		PresenceTTL:      0,
	}
}
