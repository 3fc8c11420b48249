// Package store implements the dual-collection vector store for course
// materials on PostgreSQL + pgvector.
//
// Two logically separate collections are kept write-consistent:
//
//   - courses: one row per course (title, instructor, lessons), with a
//     title embedding used for fuzzy course-name resolution
//   - course_chunks: one row per content chunk, searched by cosine
//     similarity with optional course/lesson filters
//
// A foreign key from course_chunks to courses guarantees a chunk can
// never exist without its catalog entry; AddCourse writes both
// collections inside one transaction.
//
// Store is safe for concurrent use by multiple goroutines.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"

	"github.com/coursechat/coursechat/internal/course"
)

// Sentinel errors. Wrapped errors carry detail; check with errors.Is.
var (
	// ErrEmbedding indicates embedding computation failed.
	ErrEmbedding = errors.New("embedding failed")

	// ErrSearch indicates the store itself failed; distinct from the
	// legitimate empty-result case, which is a nil slice and nil error.
	ErrSearch = errors.New("search failed")

	// ErrCourseNotFound indicates no catalog entry matched.
	ErrCourseNotFound = errors.New("course not found")
)

// searchTimeout bounds a single vector search, embedding included.
const searchTimeout = 10 * time.Second

// Store manages the two course collections and their embeddings.
type Store struct {
	querier  Querier
	pool     *pgxpool.Pool // nil in unit tests; disables transactional writes
	embedder ai.Embedder
	logger   *slog.Logger
}

// New creates a Store.
//
// Example (production):
//
//	store.New(store.NewQuerier(pool), pool, embedder, logger)
//
// Example (testing):
//
//	store.New(mockQuerier, nil, mockEmbedder, log.NewNop())
func New(querier Querier, pool *pgxpool.Pool, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		querier:  querier,
		pool:     pool,
		embedder: embedder,
		logger:   logger,
	}
}

// embed computes the embedding vector for text. The embedder is treated
// as a pure function of its input for a fixed model version, so callers
// may re-embed identical text freely. The output dimensionality is
// pinned to VectorDimension; without it the model returns its native
// width, which the vector(768) columns reject.
func (s *Store) embed(ctx context.Context, text string) (*pgvector.Vector, error) {
	dim := int32(VectorDimension)
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrEmbedding)
	}
	v := pgvector.NewVector(resp.Embeddings[0].Embedding)
	return &v, nil
}

// AddCourse writes a course's catalog entry and all its content chunks.
// Both collections are updated in a single transaction so a course is
// never present in one without the other. A chunk whose embedding fails
// is skipped with a log line; the rest of the course still loads.
func (s *Store) AddCourse(ctx context.Context, c course.Course, chunks []course.Chunk) error {
	if c.Title == "" {
		return fmt.Errorf("course title is required")
	}

	titleEmbedding, err := s.embed(ctx, c.Title)
	if err != nil {
		return fmt.Errorf("embedding course title %q: %w", c.Title, err)
	}

	lessonsJSON, err := json.Marshal(c.Lessons)
	if err != nil {
		return fmt.Errorf("marshaling lessons for %q: %w", c.Title, err)
	}

	// Embed chunk content before opening the transaction; embedding is
	// the slow network-bound part and must not hold a database tx open.
	type embeddedChunk struct {
		chunk     course.Chunk
		embedding *pgvector.Vector
	}
	embedded := make([]embeddedChunk, 0, len(chunks))
	for _, ch := range chunks {
		v, err := s.embed(ctx, ch.Content)
		if err != nil {
			s.logger.Warn("skipping chunk with failed embedding",
				"course", ch.CourseTitle,
				"lesson", ch.LessonNumber,
				"chunk", ch.ChunkIndex,
				"error", err)
			continue
		}
		embedded = append(embedded, embeddedChunk{chunk: ch, embedding: v})
	}

	writeAll := func(q Querier) error {
		if err := q.UpsertCourse(ctx, UpsertCourseParams{
			Title:      c.Title,
			Instructor: c.Instructor,
			Link:       c.Link,
			Lessons:    lessonsJSON,
			Embedding:  titleEmbedding,
		}); err != nil {
			return fmt.Errorf("upserting course %q: %w", c.Title, err)
		}
		for _, ec := range embedded {
			if err := q.UpsertChunk(ctx, UpsertChunkParams{
				ID:           ec.chunk.ID(),
				CourseTitle:  ec.chunk.CourseTitle,
				LessonNumber: ec.chunk.LessonNumber,
				ChunkIndex:   ec.chunk.ChunkIndex,
				Content:      ec.chunk.Content,
				Embedding:    ec.embedding,
			}); err != nil {
				return fmt.Errorf("upserting chunk %s: %w", ec.chunk.ID(), err)
			}
		}
		return nil
	}

	// Without a pool (mock-backed tests) write non-transactionally.
	if s.pool == nil {
		if err := writeAll(s.querier); err != nil {
			return err
		}
		s.logger.Debug("added course", "title", c.Title, "chunks", len(embedded))
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			s.logger.Debug("transaction rollback (may be already committed)", "error", err)
		}
	}()

	if err := writeAll(NewTxQuerier(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing course %q: %w", c.Title, err)
	}

	s.logger.Debug("added course", "title", c.Title, "chunks", len(embedded))
	return nil
}

// HasCourse reports whether a catalog entry with the title exists.
// Re-running ingestion for a known title is keyed off this check.
func (s *Store) HasCourse(ctx context.Context, title string) (bool, error) {
	_, err := s.querier.GetCourseByTitle(ctx, title)
	if errors.Is(err, ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up course %q: %w", title, err)
	}
	return true, nil
}

// Search runs a semantic query against the content collection.
// Results are ranked by descending similarity; ties break on chunk
// index ascending. An empty or filter-miss collection returns a nil
// slice and nil error — store failures return ErrSearch instead.
//
// Example:
//
//	results, err := s.Search(ctx, "what is tool use",
//	    store.WithCourse("Intro to X"), store.WithLesson(2))
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	embedding, err := s.embed(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.querier.SearchChunks(queryCtx, SearchChunksParams{
		QueryEmbedding: embedding,
		CourseTitle:    cfg.course,
		LessonNumber:   cfg.lesson,
		ResultLimit:    cfg.topK,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearch, err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			Chunk: course.Chunk{
				CourseTitle:  row.CourseTitle,
				LessonNumber: row.LessonNumber,
				ChunkIndex:   row.ChunkIndex,
				Content:      row.Content,
			},
			Similarity: row.Similarity,
		})
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results, nil
}

// ResolveCourseName resolves a possibly-partial course name to the
// canonical catalog title. Exact titles short-circuit; otherwise the
// nearest catalog embedding wins. Returns ErrCourseNotFound when the
// catalog is empty.
func (s *Store) ResolveCourseName(ctx context.Context, name string) (string, error) {
	if _, err := s.querier.GetCourseByTitle(ctx, name); err == nil {
		return name, nil
	} else if !errors.Is(err, ErrNoRows) {
		return "", fmt.Errorf("%w: %w", ErrSearch, err)
	}

	embedding, err := s.embed(ctx, name)
	if err != nil {
		return "", fmt.Errorf("embedding course name: %w", err)
	}

	row, err := s.querier.NearestCourse(ctx, embedding)
	if errors.Is(err, ErrNoRows) {
		return "", ErrCourseNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSearch, err)
	}

	s.logger.Debug("resolved course name",
		"input", name, "title", row.Title, "similarity", row.Similarity)
	return row.Title, nil
}

// Course returns the full catalog entry for a canonical title,
// including lesson metadata and links.
func (s *Store) Course(ctx context.Context, title string) (*course.Course, error) {
	row, err := s.querier.GetCourseByTitle(ctx, title)
	if errors.Is(err, ErrNoRows) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting course %q: %w", title, err)
	}
	return decodeCourseRow(row)
}

// ListCourses returns all catalog entries ordered by title.
func (s *Store) ListCourses(ctx context.Context) ([]course.Course, error) {
	rows, err := s.querier.ListCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing courses: %w", err)
	}

	courses := make([]course.Course, 0, len(rows))
	for _, row := range rows {
		c, err := decodeCourseRow(row)
		if err != nil {
			s.logger.Warn("skipping undecodable catalog row", "title", row.Title, "error", err)
			continue
		}
		courses = append(courses, *c)
	}
	return courses, nil
}

// CourseCount returns the number of catalog entries.
func (s *Store) CourseCount(ctx context.Context) (int, error) {
	count, err := s.querier.CountCourses(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting courses: %w", err)
	}
	return int(count), nil
}

// RemoveCourse deletes a course and, via cascade, all its chunks.
func (s *Store) RemoveCourse(ctx context.Context, title string) error {
	if err := s.querier.DeleteCourse(ctx, title); err != nil {
		return fmt.Errorf("deleting course %q: %w", title, err)
	}
	s.logger.Debug("removed course", "title", title)
	return nil
}

func decodeCourseRow(row CourseRow) (*course.Course, error) {
	c := &course.Course{
		Title:      row.Title,
		Instructor: row.Instructor,
		Link:       row.Link,
	}
	if len(row.Lessons) > 0 {
		if err := json.Unmarshal(row.Lessons, &c.Lessons); err != nil {
			return nil, fmt.Errorf("unmarshaling lessons for %q: %w", row.Title, err)
		}
	}
	return c, nil
}
