package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"

	"github.com/coursechat/coursechat/internal/course"
)

// mockEmbedder implements ai.Embedder for testing.
type mockEmbedder struct {
	embedErr    error     // error to return
	returnEmpty bool      // return an empty embedding
	embeddings  []float32 // custom embedding to return
	callCount   int
	lastInput   string
	allOptions  []any // Options of every request, in call order
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(r api.Registry) {}

func (m *mockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	m.allOptions = append(m.allOptions, req.Options)
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		m.lastInput = req.Input[0].Content[0].Text
	}
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.returnEmpty {
		return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: []float32{}}}}, nil
	}
	embedding := m.embeddings
	if embedding == nil {
		embedding = []float32{0.1, 0.2, 0.3}
	}
	return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: embedding}}}, nil
}

// mockQuerier implements Querier for testing.
type mockQuerier struct {
	upsertCourseErr error
	getCourseErr    error
	upsertChunkErr  error
	searchErr       error
	nearestErr      error
	listErr         error
	countErr        error
	deleteErr       error

	getCourseResult CourseRow
	searchResults   []SearchChunksRow
	nearestResult   NearestCourseRow
	listResults     []CourseRow
	countResult     int64

	upsertCourseCalls int
	upsertChunkCalls  int
	searchCalls       int
	nearestCalls      int
	deleteCalls       int

	lastUpsertCourse UpsertCourseParams
	lastUpsertChunk  UpsertChunkParams
	lastSearch       SearchChunksParams
	lastDeleted      string
}

func (m *mockQuerier) UpsertCourse(ctx context.Context, arg UpsertCourseParams) error {
	m.upsertCourseCalls++
	m.lastUpsertCourse = arg
	return m.upsertCourseErr
}

func (m *mockQuerier) GetCourseByTitle(ctx context.Context, title string) (CourseRow, error) {
	if m.getCourseErr != nil {
		return CourseRow{}, m.getCourseErr
	}
	return m.getCourseResult, nil
}

func (m *mockQuerier) ListCourses(ctx context.Context) ([]CourseRow, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.listResults, nil
}

func (m *mockQuerier) CountCourses(ctx context.Context) (int64, error) {
	return m.countResult, m.countErr
}

func (m *mockQuerier) NearestCourse(ctx context.Context, embedding *pgvector.Vector) (NearestCourseRow, error) {
	m.nearestCalls++
	if m.nearestErr != nil {
		return NearestCourseRow{}, m.nearestErr
	}
	return m.nearestResult, nil
}

func (m *mockQuerier) UpsertChunk(ctx context.Context, arg UpsertChunkParams) error {
	m.upsertChunkCalls++
	m.lastUpsertChunk = arg
	return m.upsertChunkErr
}

func (m *mockQuerier) SearchChunks(ctx context.Context, arg SearchChunksParams) ([]SearchChunksRow, error) {
	m.searchCalls++
	m.lastSearch = arg
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.searchResults, nil
}

func (m *mockQuerier) DeleteCourse(ctx context.Context, title string) error {
	m.deleteCalls++
	m.lastDeleted = title
	return m.deleteErr
}

func testCourse() course.Course {
	return course.Course{
		Title:      "Building Search Systems",
		Link:       "https://example.com/course",
		Instructor: "Ada Lovelace",
		Lessons: []course.Lesson{
			{Number: 0, Title: "Introduction", Link: "https://example.com/lesson-0"},
			{Number: 1, Title: "Indexing", Link: "https://example.com/lesson-1"},
		},
	}
}

func testChunks() []course.Chunk {
	return []course.Chunk{
		{CourseTitle: "Building Search Systems", LessonNumber: 0, ChunkIndex: 0, Content: "Welcome to the course."},
		{CourseTitle: "Building Search Systems", LessonNumber: 1, ChunkIndex: 0, Content: "Indexing is the heart of search."},
	}
}

func TestAddCourse(t *testing.T) {
	querier := &mockQuerier{}
	embedder := &mockEmbedder{}
	s := New(querier, nil, embedder, nil)

	err := s.AddCourse(context.Background(), testCourse(), testChunks())
	if err != nil {
		t.Fatalf("AddCourse failed: %v", err)
	}

	if querier.upsertCourseCalls != 1 {
		t.Errorf("upsertCourseCalls = %d, want 1", querier.upsertCourseCalls)
	}
	if querier.upsertChunkCalls != 2 {
		t.Errorf("upsertChunkCalls = %d, want 2", querier.upsertChunkCalls)
	}
	// Title embedding plus one embedding per chunk.
	if embedder.callCount != 3 {
		t.Errorf("embedder calls = %d, want 3", embedder.callCount)
	}

	var lessons []course.Lesson
	if err := json.Unmarshal(querier.lastUpsertCourse.Lessons, &lessons); err != nil {
		t.Fatalf("lessons payload does not decode: %v", err)
	}
	if len(lessons) != 2 || lessons[1].Title != "Indexing" {
		t.Errorf("unexpected lessons payload: %+v", lessons)
	}
	if querier.lastUpsertChunk.ID != "Building Search Systems-1-0" {
		t.Errorf("last chunk ID = %q", querier.lastUpsertChunk.ID)
	}
}

func TestAddCourseEmptyTitle(t *testing.T) {
	s := New(&mockQuerier{}, nil, &mockEmbedder{}, nil)

	if err := s.AddCourse(context.Background(), course.Course{}, nil); err == nil {
		t.Fatal("expected error for empty title")
	}
}

func TestAddCourseTitleEmbeddingFailure(t *testing.T) {
	querier := &mockQuerier{}
	embedder := &mockEmbedder{embedErr: errors.New("quota exceeded")}
	s := New(querier, nil, embedder, nil)

	err := s.AddCourse(context.Background(), testCourse(), testChunks())
	if !errors.Is(err, ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
	if querier.upsertCourseCalls != 0 {
		t.Error("course must not be written when its title embedding fails")
	}
}

func TestAddCourseSkipsEmptyChunkEmbedding(t *testing.T) {
	// First call (title) succeeds, chunk calls return empty embeddings:
	// the course entry still loads, the chunks are skipped.
	querier := &mockQuerier{}
	embedder := &flakyEmbedder{failAfter: 1}
	s := New(querier, nil, embedder, nil)

	if err := s.AddCourse(context.Background(), testCourse(), testChunks()); err != nil {
		t.Fatalf("AddCourse failed: %v", err)
	}
	if querier.upsertCourseCalls != 1 {
		t.Error("catalog entry should still be written")
	}
	if querier.upsertChunkCalls != 0 {
		t.Errorf("upsertChunkCalls = %d, want 0", querier.upsertChunkCalls)
	}
}

// flakyEmbedder succeeds for the first failAfter calls, then errors.
type flakyEmbedder struct {
	failAfter int
	calls     int
}

func (f *flakyEmbedder) Name() string { return "flaky-embedder" }

func (f *flakyEmbedder) Register(r api.Registry) {}

func (f *flakyEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	f.calls++
	if f.calls > f.failAfter {
		return nil, errors.New("transient failure")
	}
	return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: []float32{0.1, 0.2}}}}, nil
}

func TestSearch(t *testing.T) {
	querier := &mockQuerier{
		searchResults: []SearchChunksRow{
			{CourseTitle: "Building Search Systems", LessonNumber: 1, ChunkIndex: 0, Content: "Indexing is the heart of search.", Similarity: 0.92},
			{CourseTitle: "Building Search Systems", LessonNumber: 0, ChunkIndex: 0, Content: "Welcome to the course.", Similarity: 0.55},
		},
	}
	embedder := &mockEmbedder{}
	s := New(querier, nil, embedder, nil)

	results, err := s.Search(context.Background(), "how does indexing work")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Similarity < results[1].Similarity {
		t.Error("results not ordered by descending similarity")
	}
	if results[0].Chunk.Content != "Indexing is the heart of search." {
		t.Errorf("unexpected top result: %q", results[0].Chunk.Content)
	}
	if embedder.lastInput != "how does indexing work" {
		t.Errorf("query not embedded verbatim: %q", embedder.lastInput)
	}

	// Default search config.
	if querier.lastSearch.ResultLimit != 5 {
		t.Errorf("default limit = %d, want 5", querier.lastSearch.ResultLimit)
	}
	if querier.lastSearch.CourseTitle != "" || querier.lastSearch.LessonNumber != -1 {
		t.Errorf("default filters not neutral: %+v", querier.lastSearch)
	}
}

func TestSearchWithOptions(t *testing.T) {
	querier := &mockQuerier{}
	s := New(querier, nil, &mockEmbedder{}, nil)

	_, err := s.Search(context.Background(), "query",
		WithTopK(3), WithCourse("Building Search Systems"), WithLesson(1))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if querier.lastSearch.ResultLimit != 3 {
		t.Errorf("limit = %d, want 3", querier.lastSearch.ResultLimit)
	}
	if querier.lastSearch.CourseTitle != "Building Search Systems" {
		t.Errorf("course filter = %q", querier.lastSearch.CourseTitle)
	}
	if querier.lastSearch.LessonNumber != 1 {
		t.Errorf("lesson filter = %d", querier.lastSearch.LessonNumber)
	}
}

func TestSearchEmptyResultIsNotError(t *testing.T) {
	s := New(&mockQuerier{}, nil, &mockEmbedder{}, nil)

	results, err := s.Search(context.Background(), "nothing matches this")
	if err != nil {
		t.Fatalf("empty result must not be an error, got: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results, got %v", results)
	}
}

func TestSearchStoreFailure(t *testing.T) {
	querier := &mockQuerier{searchErr: errors.New("connection refused")}
	s := New(querier, nil, &mockEmbedder{}, nil)

	_, err := s.Search(context.Background(), "query")
	if !errors.Is(err, ErrSearch) {
		t.Fatalf("err = %v, want ErrSearch", err)
	}
}

func TestSearchEmbeddingFailure(t *testing.T) {
	embedder := &mockEmbedder{returnEmpty: true}
	querier := &mockQuerier{}
	s := New(querier, nil, embedder, nil)

	_, err := s.Search(context.Background(), "query")
	if !errors.Is(err, ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
	if querier.searchCalls != 0 {
		t.Error("store must not be queried when embedding fails")
	}
}

func TestResolveCourseNameExactMatch(t *testing.T) {
	querier := &mockQuerier{
		getCourseResult: CourseRow{Title: "Building Search Systems"},
	}
	s := New(querier, nil, &mockEmbedder{}, nil)

	title, err := s.ResolveCourseName(context.Background(), "Building Search Systems")
	if err != nil {
		t.Fatalf("ResolveCourseName failed: %v", err)
	}
	if title != "Building Search Systems" {
		t.Errorf("title = %q", title)
	}
	if querier.nearestCalls != 0 {
		t.Error("exact match must not fall through to vector search")
	}
}

func TestResolveCourseNameFuzzyMatch(t *testing.T) {
	querier := &mockQuerier{
		getCourseErr:  ErrNoRows,
		nearestResult: NearestCourseRow{Title: "Building Search Systems", Similarity: 0.81},
	}
	s := New(querier, nil, &mockEmbedder{}, nil)

	title, err := s.ResolveCourseName(context.Background(), "search systems")
	if err != nil {
		t.Fatalf("ResolveCourseName failed: %v", err)
	}
	if title != "Building Search Systems" {
		t.Errorf("title = %q", title)
	}
	if querier.nearestCalls != 1 {
		t.Errorf("nearestCalls = %d, want 1", querier.nearestCalls)
	}
}

func TestResolveCourseNameEmptyCatalog(t *testing.T) {
	querier := &mockQuerier{getCourseErr: ErrNoRows, nearestErr: ErrNoRows}
	s := New(querier, nil, &mockEmbedder{}, nil)

	_, err := s.ResolveCourseName(context.Background(), "anything")
	if !errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("err = %v, want ErrCourseNotFound", err)
	}
}

func TestHasCourse(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    bool
		wantErr bool
	}{
		{name: "exists", err: nil, want: true},
		{name: "missing", err: ErrNoRows, want: false},
		{name: "store failure", err: errors.New("boom"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&mockQuerier{getCourseErr: tt.err}, nil, &mockEmbedder{}, nil)

			got, err := s.HasCourse(context.Background(), "Title")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("HasCourse failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCourseDecodesLessons(t *testing.T) {
	lessons, _ := json.Marshal([]course.Lesson{{Number: 1, Title: "Indexing"}})
	querier := &mockQuerier{
		getCourseResult: CourseRow{Title: "Building Search Systems", Lessons: lessons},
	}
	s := New(querier, nil, &mockEmbedder{}, nil)

	c, err := s.Course(context.Background(), "Building Search Systems")
	if err != nil {
		t.Fatalf("Course failed: %v", err)
	}
	if len(c.Lessons) != 1 || c.Lessons[0].Title != "Indexing" {
		t.Errorf("lessons not decoded: %+v", c.Lessons)
	}
}

func TestCourseNotFound(t *testing.T) {
	s := New(&mockQuerier{getCourseErr: ErrNoRows}, nil, &mockEmbedder{}, nil)

	_, err := s.Course(context.Background(), "Missing")
	if !errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("err = %v, want ErrCourseNotFound", err)
	}
}

func TestListCoursesSkipsBadRows(t *testing.T) {
	good, _ := json.Marshal([]course.Lesson{{Number: 0, Title: "Intro"}})
	querier := &mockQuerier{
		listResults: []CourseRow{
			{Title: "Good", Lessons: good},
			{Title: "Bad", Lessons: []byte("{not json")},
		},
	}
	s := New(querier, nil, &mockEmbedder{}, nil)

	courses, err := s.ListCourses(context.Background())
	if err != nil {
		t.Fatalf("ListCourses failed: %v", err)
	}
	if len(courses) != 1 || courses[0].Title != "Good" {
		t.Errorf("unexpected courses: %+v", courses)
	}
}

func TestCourseCount(t *testing.T) {
	s := New(&mockQuerier{countResult: 4}, nil, &mockEmbedder{}, nil)

	count, err := s.CourseCount(context.Background())
	if err != nil {
		t.Fatalf("CourseCount failed: %v", err)
	}
	if count != 4 {
		t.Errorf("count = %d, want 4", count)
	}
}

func TestRemoveCourse(t *testing.T) {
	querier := &mockQuerier{}
	s := New(querier, nil, &mockEmbedder{}, nil)

	if err := s.RemoveCourse(context.Background(), "Building Search Systems"); err != nil {
		t.Fatalf("RemoveCourse failed: %v", err)
	}
	if querier.lastDeleted != "Building Search Systems" {
		t.Errorf("deleted %q", querier.lastDeleted)
	}
}

func TestSearchOptionsClampInvalidValues(t *testing.T) {
	querier := &mockQuerier{}
	s := New(querier, nil, &mockEmbedder{}, nil)

	if _, err := s.Search(context.Background(), "q", WithTopK(0), WithLesson(-5)); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if querier.lastSearch.ResultLimit != 5 {
		t.Errorf("limit = %d, want default 5", querier.lastSearch.ResultLimit)
	}
	if querier.lastSearch.LessonNumber != -1 {
		t.Errorf("lesson = %d, want neutral -1", querier.lastSearch.LessonNumber)
	}
}

// Every embedding request must pin the output width to the pgvector
// column width; gemini-embedding-001 otherwise returns its native
// 3072-dim vectors, which vector(768) columns reject.
func TestEmbedRequestsPinOutputDimensionality(t *testing.T) {
	querier := &mockQuerier{}
	embedder := &mockEmbedder{}
	s := New(querier, nil, embedder, nil)

	c := course.Course{Title: "Building Search Systems", Instructor: "A. Turing"}
	chunks := []course.Chunk{
		{CourseTitle: c.Title, LessonNumber: 1, ChunkIndex: 0, Content: "Indexing."},
	}
	if err := s.AddCourse(context.Background(), c, chunks); err != nil {
		t.Fatalf("AddCourse failed: %v", err)
	}
	if _, err := s.Search(context.Background(), "indexing"); err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(embedder.allOptions) != 3 {
		t.Fatalf("got %d embed calls, want 3 (title, chunk, query)", len(embedder.allOptions))
	}
	for i, opts := range embedder.allOptions {
		cfg, ok := opts.(*genai.EmbedContentConfig)
		if !ok {
			t.Fatalf("embed call %d: Options = %T, want *genai.EmbedContentConfig", i, opts)
		}
		if cfg.OutputDimensionality == nil {
			t.Fatalf("embed call %d: OutputDimensionality not set", i)
		}
		if *cfg.OutputDimensionality != VectorDimension {
			t.Errorf("embed call %d: OutputDimensionality = %d, want %d",
				i, *cfg.OutputDimensionality, VectorDimension)
		}
	}
}

func TestChunkIDFormat(t *testing.T) {
	ch := course.Chunk{CourseTitle: "T", LessonNumber: 2, ChunkIndex: 7}
	if got := ch.ID(); !strings.HasPrefix(got, "T-2-") || got != "T-2-7" {
		t.Errorf("ID = %q, want T-2-7", got)
	}
}
