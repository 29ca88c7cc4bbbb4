package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/edisonsu0623/krunker-game-backend/config"
	"github.com/edisonsu0623/krunker-game-backend/domain/room"
	"github.com/edisonsu0623/krunker-game-backend/server"
	"github.com/edisonsu0623/krunker-game-backend/telemetry"
)

// Set at build time.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "arena",
		Short:         "Authoritative session server for the arena shooter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		config.Exitf("Error: %s", err)
	}
}

func serveCmd() *cobra.Command {
	var addr string
	var staticDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("static") {
				cfg.StaticDir = staticDir
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides ARENA_ADDR)")
	cmd.Flags().StringVar(&staticDir, "static", "", "directory with the browser client (overrides ARENA_STATIC_DIR)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func run(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.SetupTracing(ctx, "arena", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("tracing shutdown", slog.String("error", err.Error()))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.New(registry)

	hub := server.NewHub(logger, metrics, cfg.SendBuffer)
	coordinator := room.NewCoordinator(
		room.WithPublisher(hub),
		room.WithLogger(logger),
		room.WithMetrics(metrics),
		room.WithMaxPlayers(cfg.MaxPlayers),
		room.WithRespawnDelay(cfg.RespawnDelay),
	)
	go coordinator.Run(ctx)

	srv := server.New(coordinator, hub, server.Options{
		Logger:       logger,
		Metrics:      metrics,
		Gatherer:     registry,
		ReadTimeout:  cfg.ReadTimeout,
		PingInterval: cfg.PingInterval,
		StaticDir:    cfg.StaticDir,
	})

	logger.Info("arena server starting",
		slog.String("version", version),
		slog.String("addr", cfg.Addr),
	)
	err = srv.ListenAndServe(ctx, cfg.Addr)
	coordinator.Stop()
	<-coordinator.Done()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("server closed")
	return nil
}
