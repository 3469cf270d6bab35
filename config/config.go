// Package config loads sessiond settings from a TOML file and environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/protocol"
	"github.com/cyberinferno/go-tcpsession/tcpserver"
)

// EnvPrefix prefixes every environment override, e.g. TCPSESSION_SERVER_ADDR.
const EnvPrefix = "TCPSESSION_"

// Presence backends.
const (
	PresenceMemory = "memory"
	PresenceRedis  = "redis"
)

// Config is the complete sessiond configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" envPrefix:"SERVER_"`
	Admin    AdminConfig    `toml:"admin" envPrefix:"ADMIN_"`
	Log      LogConfig      `toml:"log" envPrefix:"LOG_"`
	Presence PresenceConfig `toml:"presence" envPrefix:"PRESENCE_"`
}

// ServerConfig configures the TCP listener and session limits.
type ServerConfig struct {
	Name             string        `toml:"name" env:"NAME"`
	Addr             string        `toml:"addr" env:"ADDR"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	ReadTimeout      time.Duration `toml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout     time.Duration `toml:"write_timeout" env:"WRITE_TIMEOUT"`
	MaxPayloadBytes  uint32        `toml:"max_payload_bytes" env:"MAX_PAYLOAD_BYTES"`
	MaxConnections   int           `toml:"max_connections" env:"MAX_CONNECTIONS"`
}

// AdminConfig configures the HTTP admin surface.
type AdminConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Addr    string `toml:"addr" env:"ADDR"`
}

// LogConfig configures logging. An empty Dir logs to the console.
type LogConfig struct {
	Level string `toml:"level" env:"LEVEL"`
	Dir   string `toml:"dir" env:"DIR"`
}

// PresenceConfig selects and configures the presence directory.
type PresenceConfig struct {
	Backend       string        `toml:"backend" env:"BACKEND"`
	TTL           time.Duration `toml:"ttl" env:"TTL"`
	RedisAddr     string        `toml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `toml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `toml:"redis_db" env:"REDIS_DB"`
	RedisPrefix   string        `toml:"redis_prefix" env:"REDIS_PREFIX"`
}

// Default returns the configuration used when no file or override sets a
// value.
func Default() Config {
	srv := tcpserver.DefaultConfig(":7000")

	return Config{
		Server: ServerConfig{
			Name:             "sessiond",
			Addr:             srv.Addr,
			HandshakeTimeout: srv.HandshakeTimeout,
			ReadTimeout:      srv.ReadTimeout,
			WriteTimeout:     srv.WriteTimeout,
			MaxPayloadBytes:  srv.MaxPayloadBytes,
			MaxConnections:   srv.MaxConnections,
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    "127.0.0.1:7001",
		},
		Log: LogConfig{
			Level: "info",
		},
		Presence: PresenceConfig{
			Backend:     PresenceMemory,
			TTL:         0,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "tcpsession:session:",
		},
	}
}

// Load builds a Config from defaults, then the TOML file at path (skipped
// when path is empty), then TCPSESSION_* environment variables, and
// validates the result.
//
// Parameters:
//   - path: TOML file to read; may be empty
//
// Returns:
//   - The merged configuration
//   - An error if the file cannot be decoded, an override cannot be parsed,
//     or the result is invalid
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}

		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return Config{}, fmt.Errorf("load config: unknown keys %s", strings.Join(keys, ", "))
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ParseEnv applies TCPSESSION_* environment overrides to target. Variables
// that are not set leave the current values untouched.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = append(errs, fmt.Errorf("server.addr: %w", err))
	}

	if c.Server.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("server.handshake_timeout must be positive"))
	}

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}

	if c.Server.MaxPayloadBytes == 0 || c.Server.MaxPayloadBytes > protocol.MaxPayloadLength {
		errs = append(errs, fmt.Errorf("server.max_payload_bytes must be between 1 and %d", protocol.MaxPayloadLength))
	}

	if c.Server.MaxConnections < 0 {
		errs = append(errs, errors.New("server.max_connections must not be negative"))
	}

	if c.Admin.Enabled {
		if _, _, err := net.SplitHostPort(c.Admin.Addr); err != nil {
			errs = append(errs, fmt.Errorf("admin.addr: %w", err))
		}
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	switch c.Presence.Backend {
	case PresenceMemory:
	case PresenceRedis:
		if c.Presence.RedisAddr == "" {
			errs = append(errs, errors.New("presence.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("presence.backend %q is not %q or %q", c.Presence.Backend, PresenceMemory, PresenceRedis))
	}

	if c.Presence.TTL < 0 {
		errs = append(errs, errors.New("presence.ttl must not be negative"))
	}

	return errors.Join(errs...)
}

// TCPServer converts the server section to a tcpserver.Config.
func (c Config) TCPServer() tcpserver.Config {
	return tcpserver.Config{
		Name:             c.Server.Name,
		Addr:             c.Server.Addr,
		HandshakeTimeout: c.Server.HandshakeTimeout,
		ReadTimeout:      c.Server.ReadTimeout,
		WriteTimeout:     c.Server.WriteTimeout,
		MaxPayloadBytes:  c.Server.MaxPayloadBytes,
		MaxConnections:   c.Server.MaxConnections,
		PresenceTTL:      c.Presence.TTL,
	}
}
