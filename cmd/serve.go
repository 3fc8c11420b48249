package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coursechat/coursechat/api"
	"github.com/coursechat/coursechat/internal/app"
	"github.com/coursechat/coursechat/internal/config"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the HTTP API server. Documents under the configured docs
path are ingested at startup; already-known courses are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting coursechat", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	// Startup ingestion is best effort: a bad docs directory should not
	// keep the API from serving the courses already in the store.
	if result, err := a.Ingester.IngestDirectory(ctx, cfg.DocsPath); err != nil {
		logger.Warn("startup ingestion failed", "path", cfg.DocsPath, "error", err)
	} else {
		logger.Info("startup ingestion complete",
			"added", result.CoursesAdded,
			"skipped", result.CoursesSkipped,
			"failed", result.FilesFailed,
			"chunks", result.ChunksAdded,
			"duration", result.Duration,
		)
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}

	server := api.NewServer(a.RAG, a.Pool, logger)
	return server.Run(ctx, addr)
}
