package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"trace":    zerolog.TraceLevel,
		"DEBUG":    zerolog.DebugLevel,
		" info ":   zerolog.InfoLevel,
		"warn":     zerolog.WarnLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"off":      zerolog.Disabled,
	}

	for raw, want := range cases {
		got, err := ParseLevel(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestZerologLogger_fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf), "svc", zerolog.TraceLevel)

	l.With(Field{Key: "session", Value: 42}).Trace("frame read", Field{Key: "body_type", Value: "CONNECT"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace", entry["level"])
	assert.Equal(t, "svc", entry["service"])
	assert.Equal(t, float64(42), entry["session"])
	assert.Equal(t, "CONNECT", entry["body_type"])
	assert.Equal(t, "frame read", entry["message"])
}

func TestZerologLogger_levelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf), "svc", zerolog.InfoLevel)

	l.Trace("hidden")
	l.Debug("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestZerologLogger_traceFloor(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var buf bytes.Buffer
	NewZerologLogger(zerolog.New(&buf), "svc", zerolog.InfoLevel)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel(), "non-trace levels leave the global floor alone")

	NewZerologLogger(zerolog.New(&buf), "svc", zerolog.TraceLevel)
	assert.Equal(t, zerolog.TraceLevel, zerolog.GlobalLevel())

	debug := NewZerologLogger(zerolog.New(&buf), "svc", zerolog.DebugLevel)
	debug.Trace("hidden")
	assert.Zero(t, buf.Len(), "own level still filters after the floor dropped")
}

func TestNewNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.With(Field{Key: "k", Value: 1}).Error("dropped")
	})
	assert.NoError(t, l.Close())
}

func TestDailyFileWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDailyFileWriter("svc", dir)
	require.NoError(t, err)

	day := time.Date(2026, 1, 2, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return day }
	require.NoError(t, w.ForceRotate())

	t.Run("writes to dated file", func(t *testing.T) {
		_, err := w.Write([]byte("one\n"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "svc_2026-01-02.log"), w.CurrentLogFile())
	})

	t.Run("switches file on new day", func(t *testing.T) {
		day = day.Add(2 * time.Minute)
		_, err := w.Write([]byte("two\n"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "svc_2026-01-03.log"), w.CurrentLogFile())

		data, err := os.ReadFile(filepath.Join(dir, "svc_2026-01-02.log"))
		require.NoError(t, err)
		assert.Equal(t, "one\n", string(data))
	})

	t.Run("close is idempotent and blocks writes", func(t *testing.T) {
		require.NoError(t, w.Close())
		require.NoError(t, w.Close())
		_, err := w.Write([]byte("three\n"))
		assert.Error(t, err)
		assert.Empty(t, w.CurrentLogFile())
	})
}

func TestNewZerologFileLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l, err := NewZerologFileLogger("svc", dir, zerolog.InfoLevel)
	require.NoError(t, err)

	l.Info("hello")
	require.NoError(t, l.(*zerologLogger).Rotate())
	require.NoError(t, l.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
