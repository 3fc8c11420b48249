// Package ingest loads course documents from disk into the vector
// store: parse, chunk, embed, upsert. One malformed file never aborts
// a folder run.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/coursechat/coursechat/internal/chunker"
	"github.com/coursechat/coursechat/internal/course"
)

// Store is the slice of the vector store the ingester needs.
type Store interface {
	HasCourse(ctx context.Context, title string) (bool, error)
	AddCourse(ctx context.Context, c course.Course, chunks []course.Chunk) error
}

// supportedExtensions are the course document types we read.
var supportedExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// Result summarizes one folder ingestion run.
type Result struct {
	CoursesAdded   int
	CoursesSkipped int
	FilesFailed    int
	ChunksAdded    int
	Duration       time.Duration
}

// Ingester loads course documents into a Store.
type Ingester struct {
	store   Store
	chunker *chunker.Chunker
	logger  *slog.Logger
}

// New creates an Ingester.
func New(store Store, ck *chunker.Chunker, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: store, chunker: ck, logger: logger}
}

// IngestDirectory loads every supported course document in dir,
// non-recursively, in name order. Parse and store failures are
// isolated per file: the failure is logged and counted, and the run
// continues.
func (in *Ingester) IngestDirectory(ctx context.Context, dir string) (*Result, error) {
	start := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading course folder %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	result := &Result{}
	for _, entry := range entries {
		if entry.IsDir() || !supportedExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		added, chunks, err := in.IngestFile(ctx, path)
		if err != nil {
			in.logger.Warn("skipping course document", "file", path, "error", err)
			result.FilesFailed++
			continue
		}
		if added {
			result.CoursesAdded++
			result.ChunksAdded += chunks
		} else {
			result.CoursesSkipped++
		}
	}

	result.Duration = time.Since(start)
	in.logger.Info("ingestion finished",
		"dir", dir,
		"added", result.CoursesAdded,
		"skipped", result.CoursesSkipped,
		"failed", result.FilesFailed,
		"chunks", result.ChunksAdded,
		"duration", result.Duration)
	return result, nil
}

// IngestFile loads one course document. A course whose title already
// exists in the store is skipped (added=false), making re-ingestion of
// a folder idempotent.
func (in *Ingester) IngestFile(ctx context.Context, path string) (added bool, chunks int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return false, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	doc, err := course.Parse(f)
	if err != nil {
		return false, 0, fmt.Errorf("parsing %s: %w", path, err)
	}

	exists, err := in.store.HasCourse(ctx, doc.Course.Title)
	if err != nil {
		return false, 0, err
	}
	if exists {
		in.logger.Debug("course already ingested", "title", doc.Course.Title)
		return false, 0, nil
	}

	courseChunks := in.chunkDocument(doc)
	if err := in.store.AddCourse(ctx, doc.Course, courseChunks); err != nil {
		return false, 0, fmt.Errorf("storing course %q: %w", doc.Course.Title, err)
	}

	in.logger.Info("ingested course",
		"title", doc.Course.Title,
		"lessons", len(doc.Lessons),
		"chunks", len(courseChunks))
	return true, len(courseChunks), nil
}

// chunkDocument chunks every lesson and prefixes each chunk with its
// course and lesson attribution, so a chunk retrieved in isolation
// still tells the model where it came from.
func (in *Ingester) chunkDocument(doc *course.Document) []course.Chunk {
	var all []course.Chunk
	for _, lesson := range doc.Lessons {
		chunks := in.chunker.ChunkLesson(doc.Course.Title, lesson.Lesson.Number, lesson.Text)
		for i := range chunks {
			chunks[i].Content = fmt.Sprintf("Course %s Lesson %d content: %s",
				doc.Course.Title, lesson.Lesson.Number, chunks[i].Content)
		}
		all = append(all, chunks...)
	}
	return all
}
