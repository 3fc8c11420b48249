// Package app assembles the application: configuration, database,
// embedder, stores, tool registry, orchestrator and ingester. Commands
// call Setup once and work against the returned App.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursechat/coursechat/internal/config"
	"github.com/coursechat/coursechat/internal/ingest"
	"github.com/coursechat/coursechat/internal/orchestrator"
	"github.com/coursechat/coursechat/internal/rag"
	"github.com/coursechat/coursechat/internal/session"
	"github.com/coursechat/coursechat/internal/store"
	"github.com/coursechat/coursechat/internal/tool"
)

// App holds the initialized application components.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool     *pgxpool.Pool
	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	Store    *store.Store
	Sessions *session.Store
	Registry *tool.Registry
	Ingester *ingest.Ingester

	Orchestrator *orchestrator.Orchestrator
	RAG          *rag.System

	dbCleanup func()
}

// Close releases all resources held by the application.
func (a *App) Close() error {
	if a.dbCleanup != nil {
		a.dbCleanup()
		a.dbCleanup = nil
	}
	return nil
}
