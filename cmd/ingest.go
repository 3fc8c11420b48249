package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coursechat/coursechat/internal/app"
	"github.com/coursechat/coursechat/internal/config"
)

// timeRound trims sub-10ms noise from printed durations.
const timeRound = 10 * time.Millisecond

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest course documents into the vector store",
	Long: `Reads course documents from the given directory (default: the
configured docs path), chunks them and stores title and content
embeddings. Courses already in the store are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		return runIngest(path)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(path string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if path == "" {
		path = cfg.DocsPath
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	result, err := a.Ingester.IngestDirectory(ctx, path)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", path, err)
	}

	fmt.Printf("Ingested %d courses (%d chunks) from %s in %s\n",
		result.CoursesAdded, result.ChunksAdded, path, result.Duration.Round(timeRound))
	if result.CoursesSkipped > 0 {
		fmt.Printf("Skipped %d courses already in the store\n", result.CoursesSkipped)
	}
	if result.FilesFailed > 0 {
		fmt.Printf("Failed to process %d files (see logs)\n", result.FilesFailed)
	}
	return nil
}
