package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// UpsertCourseParams holds one catalog row. Lessons is the JSON-encoded
// lesson list; the embedding is computed from the course title so the
// catalog doubles as the fuzzy name-resolution index.
type UpsertCourseParams struct {
	Title      string
	Instructor string
	Link       string
	Lessons    []byte
	Embedding  *pgvector.Vector
}

// CourseRow is one catalog row as stored.
type CourseRow struct {
	Title      string
	Instructor string
	Link       string
	Lessons    []byte
}

// UpsertChunkParams holds one content row.
type UpsertChunkParams struct {
	ID           string
	CourseTitle  string
	LessonNumber int
	ChunkIndex   int
	Content      string
	Embedding    *pgvector.Vector
}

// SearchChunksParams filters a content search. Empty CourseTitle
// matches all courses; LessonNumber -1 matches all lessons.
type SearchChunksParams struct {
	QueryEmbedding *pgvector.Vector
	CourseTitle    string
	LessonNumber   int
	ResultLimit    int
}

// SearchChunksRow is one content search hit.
type SearchChunksRow struct {
	CourseTitle  string
	LessonNumber int
	ChunkIndex   int
	Content      string
	Similarity   float32
}

// NearestCourseRow is the best catalog match for a query embedding.
type NearestCourseRow struct {
	Title      string
	Similarity float32
}

// Querier defines the database operations needed by Store. The
// interface is defined here, by the consumer, so tests can substitute
// a mock without a database.
type Querier interface {
	UpsertCourse(ctx context.Context, arg UpsertCourseParams) error
	GetCourseByTitle(ctx context.Context, title string) (CourseRow, error)
	ListCourses(ctx context.Context) ([]CourseRow, error)
	CountCourses(ctx context.Context) (int64, error)
	NearestCourse(ctx context.Context, embedding *pgvector.Vector) (NearestCourseRow, error)
	UpsertChunk(ctx context.Context, arg UpsertChunkParams) error
	SearchChunks(ctx context.Context, arg SearchChunksParams) ([]SearchChunksRow, error)
	DeleteCourse(ctx context.Context, title string) error
}

// ErrNoRows is returned by lookups that match nothing. Callers decide
// whether that is an error or an empty result.
var ErrNoRows = errors.New("no rows")

// queries is the pgx-backed Querier. It works against either a pool or
// a transaction through the rowQuerier seam.
type queries struct {
	db rowQuerier
}

// rowQuerier is the subset of pgx operations used by queries; both
// *pgxpool.Pool and pgx.Tx satisfy it.
type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewQuerier creates a pgx-backed Querier over a connection pool.
func NewQuerier(pool *pgxpool.Pool) Querier {
	return &queries{db: pool}
}

// NewTxQuerier creates a Querier bound to a transaction, so catalog and
// content writes can share one atomic commit.
func NewTxQuerier(tx pgx.Tx) Querier {
	return &queries{db: tx}
}

const upsertCourseSQL = `
INSERT INTO courses (title, instructor, link, lessons, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (title) DO UPDATE
SET instructor = EXCLUDED.instructor,
    link = EXCLUDED.link,
    lessons = EXCLUDED.lessons,
    embedding = EXCLUDED.embedding`

func (q *queries) UpsertCourse(ctx context.Context, arg UpsertCourseParams) error {
	_, err := q.db.Exec(ctx, upsertCourseSQL,
		arg.Title, arg.Instructor, arg.Link, arg.Lessons, arg.Embedding)
	return err
}

const getCourseByTitleSQL = `
SELECT title, instructor, link, lessons
FROM courses
WHERE title = $1`

func (q *queries) GetCourseByTitle(ctx context.Context, title string) (CourseRow, error) {
	var row CourseRow
	err := q.db.QueryRow(ctx, getCourseByTitleSQL, title).
		Scan(&row.Title, &row.Instructor, &row.Link, &row.Lessons)
	if errors.Is(err, pgx.ErrNoRows) {
		return CourseRow{}, ErrNoRows
	}
	return row, err
}

const listCoursesSQL = `
SELECT title, instructor, link, lessons
FROM courses
ORDER BY title`

func (q *queries) ListCourses(ctx context.Context) ([]CourseRow, error) {
	rows, err := q.db.Query(ctx, listCoursesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CourseRow
	for rows.Next() {
		var row CourseRow
		if err := rows.Scan(&row.Title, &row.Instructor, &row.Link, &row.Lessons); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const countCoursesSQL = `SELECT COUNT(*) FROM courses`

func (q *queries) CountCourses(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countCoursesSQL).Scan(&count)
	return count, err
}

const nearestCourseSQL = `
SELECT title, 1 - (embedding <=> $1) AS similarity
FROM courses
ORDER BY embedding <=> $1
LIMIT 1`

func (q *queries) NearestCourse(ctx context.Context, embedding *pgvector.Vector) (NearestCourseRow, error) {
	var row NearestCourseRow
	err := q.db.QueryRow(ctx, nearestCourseSQL, embedding).
		Scan(&row.Title, &row.Similarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return NearestCourseRow{}, ErrNoRows
	}
	return row, err
}

const upsertChunkSQL = `
INSERT INTO course_chunks (id, course_title, lesson_number, chunk_index, content, embedding)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET content = EXCLUDED.content,
    embedding = EXCLUDED.embedding`

func (q *queries) UpsertChunk(ctx context.Context, arg UpsertChunkParams) error {
	_, err := q.db.Exec(ctx, upsertChunkSQL,
		arg.ID, arg.CourseTitle, arg.LessonNumber, arg.ChunkIndex, arg.Content, arg.Embedding)
	return err
}

// searchChunksSQL ranks by cosine distance ascending; ties break on the
// original chunk index ascending so ranking is deterministic.
const searchChunksSQL = `
SELECT course_title, lesson_number, chunk_index, content,
       1 - (embedding <=> $1) AS similarity
FROM course_chunks
WHERE ($2::text = '' OR course_title = $2)
  AND ($3::int = -1 OR lesson_number = $3)
ORDER BY embedding <=> $1 ASC, chunk_index ASC
LIMIT $4`

func (q *queries) SearchChunks(ctx context.Context, arg SearchChunksParams) ([]SearchChunksRow, error) {
	rows, err := q.db.Query(ctx, searchChunksSQL,
		arg.QueryEmbedding, arg.CourseTitle, arg.LessonNumber, arg.ResultLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchChunksRow
	for rows.Next() {
		var row SearchChunksRow
		if err := rows.Scan(&row.CourseTitle, &row.LessonNumber,
			&row.ChunkIndex, &row.Content, &row.Similarity); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const deleteCourseSQL = `DELETE FROM courses WHERE title = $1`

func (q *queries) DeleteCourse(ctx context.Context, title string) error {
	_, err := q.db.Exec(ctx, deleteCourseSQL, title)
	return err
}
