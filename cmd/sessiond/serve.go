package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-tcpsession/admin"
	"github.com/cyberinferno/go-tcpsession/config"
	"github.com/cyberinferno/go-tcpsession/handler"
	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/presence"
	"github.com/cyberinferno/go-tcpsession/tcpserver"
)

const metricsNamespace = "tcpsession"

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		Long: `Run the TCP session server, and the admin HTTP server when enabled.

Settings come from defaults, then the TOML file given with --config, then
TCPSESSION_* environment variables. SIGHUP rotates the log file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")

	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	registry, err := handler.NewDefaultRegistry(log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, closeStore, err := newPresenceStore(ctx, cfg.Presence)
	if err != nil {
		return err
	}
	defer closeStore()

	srv, err := tcpserver.NewTCPServer(cfg.TCPServer(), registry, log,
		tcpserver.WithPresence(store),
		tcpserver.WithMetrics(tcpserver.NewMetrics(reg, metricsNamespace)),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})

	if cfg.Admin.Enabled {
		adminSrv := admin.NewServer(cfg.Admin.Addr, store, srv, reg, log)
		g.Go(func() error {
			return adminSrv.Serve(gctx)
		})
	}

	if rotator, ok := log.(interface{ Rotate() error }); ok && cfg.Log.Dir != "" {
		g.Go(func() error {
			rotateOnHangup(gctx, rotator, log)
			return nil
		})
	}

	return g.Wait()
}

func newLogger(cfg config.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	if cfg.Log.Dir == "" {
		return logger.NewConsoleLogger(os.Stdout, cfg.Server.Name, level), nil
	}

	return logger.NewZerologFileLogger(cfg.Server.Name, cfg.Log.Dir, level)
}

func newPresenceStore(ctx context.Context, cfg config.PresenceConfig) (presence.Store, func(), error) {
	if cfg.Backend != config.PresenceRedis {
		return presence.NewMemoryStore(time.Minute), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect presence redis %s: %w", cfg.RedisAddr, err)
	}

	return presence.NewRedisStore(client, cfg.RedisPrefix), func() { _ = client.Close() }, nil
}

func rotateOnHangup(ctx context.Context, rotator interface{ Rotate() error }, log logger.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := rotator.Rotate(); err != nil {
				log.Error("log rotation failed", logger.Field{Key: "error", Value: err.Error()})
				continue
			}
			log.Info("log file rotated")
		}
	}
}
