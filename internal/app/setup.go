package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/coursechat/coursechat/db"
	"github.com/coursechat/coursechat/internal/chunker"
	"github.com/coursechat/coursechat/internal/config"
	"github.com/coursechat/coursechat/internal/ingest"
	"github.com/coursechat/coursechat/internal/orchestrator"
	"github.com/coursechat/coursechat/internal/rag"
	"github.com/coursechat/coursechat/internal/session"
	"github.com/coursechat/coursechat/internal/store"
	"github.com/coursechat/coursechat/internal/tool"
)

// Model request pacing. The orchestrator makes up to maxRounds+1 calls
// per query; the burst lets a single query proceed without waiting.
const (
	modelRequestInterval = time.Second
	modelRequestBurst    = 4
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.Pool = pool

	g, embedder, err := provideEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g
	a.Embedder = embedder

	a.Store = store.New(store.NewQuerier(pool), pool, embedder, logger)
	a.Sessions = session.New(session.NewQuerier(pool), pool, cfg.HistoryWindow, logger)
	a.Ingester = ingest.New(a.Store, chunker.New(cfg.ChunkSize, cfg.ChunkOverlap), logger)
	a.Registry = tool.NewRegistry(logger, tool.NewSearchTool(a.Store, logger))

	model, err := orchestrator.NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"), cfg.ModelName)
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	a.Orchestrator = orchestrator.New(model, a.Registry, logger,
		orchestrator.WithMaxRounds(cfg.MaxRounds),
		orchestrator.WithRateLimiter(rate.NewLimiter(rate.Every(modelRequestInterval), modelRequestBurst)),
	)

	a.RAG = rag.New(a.Sessions, a.Orchestrator, a.Store, logger)

	return a, nil
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideEmbedder initializes Genkit with the Gemini plugin and looks
// up the configured embedder. GEMINI_API_KEY is read by the plugin.
func provideEmbedder(ctx context.Context, cfg *config.Config) (*genkit.Genkit, ai.Embedder, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, nil, errors.New("initializing genkit with gemini provider")
	}

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	return g, embedder, nil
}
