package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"attendance-bridge/internal/config"
	"attendance-bridge/internal/events"
	"attendance-bridge/internal/logging"
	"attendance-bridge/internal/protocol"
	"attendance-bridge/internal/registry"
	"attendance-bridge/internal/store"
	syncengine "attendance-bridge/internal/sync"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync [device-id]",
	Short: "Run a one-shot reconciliation and print the result",
	Long: `Reconciles attendance records from the fleet (or a single device when a
device id is given) and prints the outcome as JSON. Intended for cron
jobs and manual backfills; the serve command keeps its own schedule.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(args)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger := logging.Initialize(cfg.LogLevel)

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
	defer conns.EvictAll()

	bus := events.New(cfg.EventBufferSize, logger)
	defer bus.Close()

	engine := syncengine.New(db, conns, bus, time.Duration(cfg.CheckpointDefaultDays)*24*time.Hour, logger)

	ctx := context.Background()
	var result interface{}
	if len(args) == 1 {
		result, err = engine.SyncDevice(ctx, args[0])
	} else {
		result, err = engine.SyncAll(ctx)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
