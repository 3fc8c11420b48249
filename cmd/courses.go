package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coursechat/coursechat/internal/app"
	"github.com/coursechat/coursechat/internal/config"
)

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "Show catalog analytics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCourses()
	},
}

func init() {
	rootCmd.AddCommand(coursesCmd)
}

func runCourses() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	stats, err := a.RAG.CourseAnalytics(ctx)
	if err != nil {
		return fmt.Errorf("reading catalog: %w", err)
	}

	fmt.Printf("Courses: %d\n", stats.TotalCourses)
	fmt.Printf("Lessons: %d\n", stats.TotalLessons)
	for _, title := range stats.CourseTitles {
		fmt.Printf("  - %s\n", title)
	}
	return nil
}
