package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attendance-bridge/internal/api"
	"attendance-bridge/internal/config"
	"attendance-bridge/internal/events"
	"attendance-bridge/internal/logging"
	"attendance-bridge/internal/monitor"
	"attendance-bridge/internal/protocol"
	"attendance-bridge/internal/registry"
	"attendance-bridge/internal/relay"
	"attendance-bridge/internal/store"
	syncengine "attendance-bridge/internal/sync"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge: background monitoring plus the HTTP/streaming API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := logging.Initialize(cfg.LogLevel)
	if cfg.LogFile != "" {
		if err := logging.SetupFileLogging(logger, cfg.LogFile); err != nil {
			logger.WithError(err).Warn("Failed to set up file logging, using stdout")
		}
	}
	logger.WithField("listen_addr", cfg.ListenAddr).Info("Bridge starting up")

	db, err := store.Open(store.Config{
		Driver: cfg.DatabaseDriver,
		Path:   cfg.DatabasePath,
		DSN:    cfg.DatabaseDSN,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	opts := protocol.Options{
		ConnectTimeout: cfg.ConnectTimeoutDuration(),
		ReadTimeout:    cfg.ReadTimeoutDuration(),
	}
	conns := registry.New(opts, cfg.ConnectAttempts, cfg.ConnectBackoffDuration(), logger)

	bus := events.New(cfg.EventBufferSize, logger)
	defer bus.Close()

	engine := syncengine.New(db, conns, bus, time.Duration(cfg.CheckpointDefaultDays)*24*time.Hour, logger)

	coordinator := monitor.New(db, conns, bus, monitor.Settings{
		PollInterval: cfg.PollIntervalDuration(),
		RetryWait:    cfg.PollRetryWaitDuration(),
		Strategy:     cfg.MonitorStrategy,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisRelay *relay.RedisRelay
	if cfg.RedisEnabled {
		redisRelay, err = relay.New(relay.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
		}, bus, logger)
		if err != nil {
			return err
		}
		redisRelay.Start(ctx)
	}

	if cfg.AutoStartMonitor {
		if err := coordinator.StartAll(); err != nil {
			logger.WithError(err).Warn("Failed to auto-start fleet monitoring")
		}
	}

	server := api.NewServer(cfg.ListenAddr, engine, coordinator, db, bus, logger)

	// Cancel on SIGINT/SIGTERM; the server drains, then background
	// components stop in dependency order.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
		cancel()
	}()

	err = server.Start(ctx)

	coordinator.StopAll()
	if redisRelay != nil {
		redisRelay.Close()
	}
	conns.EvictAll()

	logger.Info("Bridge shutdown complete")
	return err
}
