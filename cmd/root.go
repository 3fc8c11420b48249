// Package cmd provides the coursechat CLI commands.
//
// Commands:
//   - serve: HTTP API server with startup document ingestion
//   - ingest: load course documents into the vector store
//   - ask: answer a single question from the terminal
//   - courses: show catalog analytics
//   - version: show version information
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/coursechat/coursechat/internal/log"
)

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:   "coursechat",
	Short: "Course materials Q&A service",
	Long: `coursechat answers questions about course materials using
semantic search over ingested documents and a tool-calling model.

Run 'coursechat serve' to start the HTTP API, or 'coursechat ask' for
a one-shot question from the terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	cobra.OnInitialize(initLogger)
}

// initLogger installs the process-wide logger. Runs after flag parsing
// so --debug is honored; the DEBUG env var works as a fallback.
func initLogger() {
	level := slog.LevelInfo
	if debugFlag || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{Level: level}))
}
