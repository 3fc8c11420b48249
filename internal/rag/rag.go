// Package rag wires sessions, the vector store, the tool registry and
// the orchestrator into the course Q&A facade the API and CLI consume.
package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/coursechat/coursechat/internal/course"
	"github.com/coursechat/coursechat/internal/session"
	"github.com/coursechat/coursechat/internal/tool"
)

// SessionStore is the session behavior the facade depends on.
type SessionStore interface {
	GetOrCreate(ctx context.Context, sessionID string) (uuid.UUID, error)
	History(ctx context.Context, id uuid.UUID) ([]session.Message, error)
	AppendExchange(ctx context.Context, id uuid.UUID, userMsg, assistantMsg string) error
}

// Answerer runs one query through the model/tool loop.
type Answerer interface {
	Answer(ctx context.Context, query string, history []session.Message) (string, []tool.Source, error)
}

// Catalog is the course catalog slice used for analytics.
type Catalog interface {
	ListCourses(ctx context.Context) ([]course.Course, error)
	CourseCount(ctx context.Context) (int, error)
}

// QueryResult is one answered query.
type QueryResult struct {
	Answer    string
	Sources   []tool.Source
	SessionID string
}

// Analytics summarizes the loaded catalog.
type Analytics struct {
	TotalCourses int
	CourseTitles []string
	TotalLessons int
}

// System is the assembled Q&A service.
type System struct {
	sessions SessionStore
	answerer Answerer
	catalog  Catalog
	logger   *slog.Logger
}

// New assembles a System.
func New(sessions SessionStore, answerer Answerer, catalog Catalog, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	return &System{
		sessions: sessions,
		answerer: answerer,
		catalog:  catalog,
		logger:   logger,
	}
}

// Query answers one user query within a session. An empty or unknown
// sessionID starts a fresh session; the returned SessionID is the one
// the exchange was recorded under. When the model fails terminally the
// session history is left untouched and the error is returned.
func (s *System) Query(ctx context.Context, query, sessionID string) (*QueryResult, error) {
	id, err := s.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}

	history, err := s.sessions.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	answer, sources, err := s.answerer.Answer(ctx, query, history)
	if err != nil {
		return nil, fmt.Errorf("answering query: %w", err)
	}

	// The answer is already produced; a history write failure is worth
	// a log line, not a failed request.
	if err := s.sessions.AppendExchange(ctx, id, query, answer); err != nil {
		s.logger.Warn("failed to record exchange", "session", id, "error", err)
	}

	return &QueryResult{
		Answer:    answer,
		Sources:   sources,
		SessionID: id.String(),
	}, nil
}

// NewSession creates an empty session and returns its identifier.
func (s *System) NewSession(ctx context.Context) (string, error) {
	id, err := s.sessions.GetOrCreate(ctx, "")
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return id.String(), nil
}

// CourseAnalytics reports catalog totals for the API and CLI.
func (s *System) CourseAnalytics(ctx context.Context) (*Analytics, error) {
	count, err := s.catalog.CourseCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting courses: %w", err)
	}

	courses, err := s.catalog.ListCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing courses: %w", err)
	}

	analytics := &Analytics{TotalCourses: count}
	for _, c := range courses {
		analytics.CourseTitles = append(analytics.CourseTitles, c.Title)
		analytics.TotalLessons += len(c.Lessons)
	}
	return analytics, nil
}
