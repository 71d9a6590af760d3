package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/switchyard-dev/switchyard/internal/agent"
	"github.com/switchyard-dev/switchyard/internal/db"
	"github.com/switchyard-dev/switchyard/internal/gateway"
	"github.com/switchyard-dev/switchyard/internal/notify"
	"github.com/switchyard-dev/switchyard/internal/relay"
	"github.com/switchyard-dev/switchyard/internal/supervisor"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Switchyard gateway",
		Long:  "Starts the gateway: HTTP API, terminal relays, agent supervision, and background sweeps. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port > 0 {
		cfg.Gateway.Port = port
	}

	gormDB, err := openDB(cfg)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	registry := agent.NewRegistry(cfg.Agents.Binaries)
	sup := supervisor.New(gormDB, registry, supervisor.Options{
		Grace: time.Duration(cfg.Agents.GraceSecs) * time.Second,
	})
	relays := relay.NewManager(gormDB, sup, relay.Options{
		SnapshotBytes: cfg.Relay.SnapshotBytes,
	})
	notifier, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return err
	}

	gw, err := gateway.New(gateway.Options{
		ID:       cfg.Gateway.ID,
		Config:   cfg,
		DB:       gormDB,
		Sup:      sup,
		Relays:   relays,
		Notifier: notifier,
		Out:      out,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = gw.Start(ctx)
	fmt.Fprintln(out, "Gateway stopped.")
	return err
}
