package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-tcpsession/config"
	"github.com/cyberinferno/go-tcpsession/handler"
	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/presence"
	"github.com/cyberinferno/go-tcpsession/tcpserver"
)

func TestRunProbe(t *testing.T) {
	log := logger.NewNopLogger()
	registry, err := handler.NewDefaultRegistry(log)
	require.NoError(t, err)

	srv, err := tcpserver.NewTCPServer(tcpserver.DefaultConfig("127.0.0.1:0"), registry, log)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	err = runProbe(context.Background(), probeOptions{
		addr:    srv.Addr().String(),
		id:      42,
		text:    "hello",
		pings:   2,
		timeout: 2 * time.Second,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRunProbe_refused(t *testing.T) {
	err := runProbe(context.Background(), probeOptions{
		addr:    "127.0.0.1:1",
		id:      42,
		timeout: 200 * time.Millisecond,
	})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	t.Run("console", func(t *testing.T) {
		log, err := newLogger(config.Default())
		require.NoError(t, err)
		assert.NoError(t, log.Close())
	})

	t.Run("file", func(t *testing.T) {
		cfg := config.Default()
		cfg.Log.Dir = t.TempDir()

		log, err := newLogger(cfg)
		require.NoError(t, err)
		_, ok := log.(interface{ Rotate() error })
		assert.True(t, ok)
		assert.NoError(t, log.Close())
	})
}

func TestNewPresenceStore_memory(t *testing.T) {
	store, closeStore, err := newPresenceStore(context.Background(), config.Default().Presence)
	require.NoError(t, err)
	defer closeStore()

	_, ok := store.(*presence.MemoryStore)
	assert.True(t, ok)
}
