// Package logger provides a structured logging interface with zerolog-backed
// implementations, including optional daily file rotation for persistent logs.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field represents a key-value pair for structured log output.
// Use Fields with Logger methods to attach contextual data to log entries.
type Field struct {
	Key   string
	Value any
}

// Logger is the structured logger shared by the server, client and admin
// surfaces. Sessions derive their own Logger with With so every entry carries
// the connection and session ids.
type Logger interface {
	// Trace logs per-frame protocol detail. It is normally filtered out.
	Trace(msg string, fields ...Field)
	// Debug logs session lifecycle detail such as scheduled disconnects.
	Debug(msg string, fields ...Field)
	// Info logs accepted sessions, ended sessions and server state changes.
	Info(msg string, fields ...Field)
	// Warn logs rejected handshakes and recoverable protocol violations.
	Warn(msg string, fields ...Field)
	// Error logs failures that end a session or the server.
	Error(msg string, fields ...Field)

	// With returns a new Logger that includes the given fields in all
	// subsequent log entries. The original Logger is unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach, such as the session or connection id
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger

	// Close releases the log file, if any. It is safe to call multiple times.
	Close() error
}

// ParseLevel converts a configuration string into a zerolog level. The empty
// string maps to info.
//
// Parameters:
//   - raw: Level name such as "trace", "debug", "info", "warn", "error" or "disabled"
//
// Returns:
//   - The matching zerolog.Level
//   - An error if raw is not a recognised level name
func ParseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, nil
	case "disabled", "off", "none":
		return zerolog.Disabled, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", raw)
	}

	return lvl, nil
}

// zerologLogger is the zerolog-based implementation of Logger.
type zerologLogger struct {
	logger         zerolog.Logger
	fileWriter     *DailyFileWriter
	ownsFileWriter bool
}

// NewZerologLogger builds a Logger that wraps the given zerolog.Logger,
// adding a service name and timestamp to all entries and filtering by level.
//
// Parameters:
//   - l: The zerolog.Logger to wrap
//   - serviceName: Name of the service, added as a field to every log entry
//   - level: Minimum level to log (e.g. zerolog.InfoLevel). zerolog.TraceLevel
//     also lowers zerolog's global level to trace for the rest of the process.
//
// Returns:
//   - A Logger that writes through the given zerolog instance
func NewZerologLogger(l zerolog.Logger, serviceName string, level zerolog.Level) Logger {
	return &zerologLogger{
		logger: withLevel(l.With().Str("service", serviceName).Timestamp().Logger(), level),
	}
}

// withLevel applies level to l. zerolog drops anything below its
// process-wide level, which defaults to debug, so a trace-level logger lowers
// that floor to trace. Loggers built here keep filtering on their own level;
// only zerolog loggers created elsewhere in the process see the lower floor.
func withLevel(l zerolog.Logger, level zerolog.Level) zerolog.Logger {
	if level < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
	}

	return l.Level(level)
}

// NewConsoleLogger builds a human-readable Logger writing to w, for
// interactive use of the command-line tools. Like NewZerologLogger, a trace
// level lowers zerolog's global level.
func NewConsoleLogger(w io.Writer, serviceName string, level zerolog.Level) Logger {
	return NewZerologLogger(zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}), serviceName, level)
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return &zerologLogger{logger: zerolog.Nop()}
}

// NewZerologFileLogger creates a Logger that writes JSON entries to both
// stdout and daily-rotated log files in logDir named {serviceName}_{date}.log.
//
// Parameters:
//   - serviceName: Name of the service, used in log entries and file names
//   - logDir: Directory for log files; created if it does not exist
//   - level: Minimum level to log (e.g. zerolog.InfoLevel)
//
// Returns:
//   - A Logger that writes to stdout and rotating files
//   - An error if logDir cannot be created or the first file cannot be opened
func NewZerologFileLogger(serviceName string, logDir string, level zerolog.Level) (Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	fileWriter, err := NewDailyFileWriter(serviceName, logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create file writer: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, fileWriter)
	return &zerologLogger{
		logger:         withLevel(zerolog.New(multi).With().Str("service", serviceName).Timestamp().Logger(), level),
		fileWriter:     fileWriter,
		ownsFileWriter: true,
	}, nil
}

// Trace implements Logger.
func (z *zerologLogger) Trace(msg string, fields ...Field) {
	z.logger.Trace().Fields(toMap(fields)).Msg(msg)
}

// Debug implements Logger.
func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

// Info implements Logger.
func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

// Warn implements Logger.
func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

// Error implements Logger.
func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

// With implements Logger.
func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		logger:     z.logger.With().Fields(toMap(fields)).Logger(),
		fileWriter: z.fileWriter,
	}
}

// Rotate forces the file writer onto a fresh file. It is a no-op for loggers
// without a file writer.
func (z *zerologLogger) Rotate() error {
	if z.fileWriter == nil {
		return nil
	}

	return z.fileWriter.ForceRotate()
}

// Close implements Logger.
func (z *zerologLogger) Close() error {
	if z.fileWriter != nil && z.ownsFileWriter {
		return z.fileWriter.Close()
	}

	return nil
}

// toMap converts a slice of Field into a map for zerolog.
func toMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}
