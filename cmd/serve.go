package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/finquery/finquery/internal/api"
	"github.com/finquery/finquery/internal/app"
	"github.com/finquery/finquery/internal/config"
	"github.com/finquery/finquery/internal/log"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"listen address as host:port; overrides the configured address")
	rootCmd.AddCommand(serveCmd)
}

// runServe initializes the application and serves HTTP until SIGINT or
// SIGTERM arrives.
func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	})
	slog.SetDefault(logger)

	addr := cfg.Addr()
	if serveAddr != "" {
		if err := validateAddr(serveAddr); err != nil {
			return fmt.Errorf("invalid address %q: %w", serveAddr, err)
		}
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mode := "manual"
	if cfg.AI.Enabled {
		mode = "agent"
	}
	logger.Info("starting finquery",
		"version", Version,
		"mode", mode,
		"mcp_server", cfg.MCP.ServerURL,
	)

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	scfg := api.ServerConfig{
		Logger:      logger,
		Chat:        a.Chat,
		Sessions:    a.Sessions,
		Prompts:     a.Prompts,
		Market:      a.Market,
		MarketURL:   cfg.MCP.ServerURL,
		Cache:       a.Cache,
		CORSOrigins: cfg.Server.CORSOrigins,
		Version:     Version,
	}
	// Assigned only when present; a typed nil would read as configured.
	if a.Agent != nil {
		scfg.Agent = a.Agent
	}

	srv, err := api.NewServer(scfg)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	return srv.Run(ctx, addr)
}
