package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/coursechat/coursechat/internal/course"
	"github.com/coursechat/coursechat/internal/store"
)

// SearchToolName is the function name declared to the model.
const SearchToolName = "search_course_content"

// SearchStore is the slice of the vector store the search tool needs.
type SearchStore interface {
	Search(ctx context.Context, query string, opts ...store.SearchOption) ([]store.Result, error)
	ResolveCourseName(ctx context.Context, name string) (string, error)
	Course(ctx context.Context, title string) (*course.Course, error)
}

// SearchTool searches course content with optional course and lesson
// filters. Course names are resolved fuzzily against the catalog; a
// name that resolves to nothing degrades to an unfiltered search with
// an advisory note, rather than an empty answer.
type SearchTool struct {
	store  SearchStore
	logger *slog.Logger
}

// NewSearchTool creates the course content search tool.
func NewSearchTool(s SearchStore, logger *slog.Logger) *SearchTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchTool{store: s, logger: logger}
}

// Name implements Tool.
func (t *SearchTool) Name() string { return SearchToolName }

// Declaration implements Tool.
func (t *SearchTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        SearchToolName,
		Description: "Search course materials with smart course name matching and optional lesson filtering",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"query": {
					Type:        genai.TypeString,
					Description: "What to search for in the course content",
				},
				"course_name": {
					Type:        genai.TypeString,
					Description: "Course title, full or partial (e.g. 'MCP', 'Introduction')",
				},
				"lesson_number": {
					Type:        genai.TypeInteger,
					Description: "Specific lesson number to search within (e.g. 1, 2, 3)",
				},
			},
			Required: []string{"query"},
		},
	}
}

// Execute implements Tool.
func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (string, []Source, error) {
	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return "", nil, fmt.Errorf("missing required argument %q", "query")
	}

	courseName := stringArg(args, "course_name")
	lessonNumber, hasLesson := intArg(args, "lesson_number")

	var note string
	opts := []store.SearchOption{}
	if courseName != "" {
		resolved, err := t.store.ResolveCourseName(ctx, courseName)
		switch {
		case errors.Is(err, store.ErrCourseNotFound):
			// Searching everything beats returning nothing.
			note = fmt.Sprintf("No course matching '%s' was found; searched all courses instead.\n\n", courseName)
		case err != nil:
			return "", nil, fmt.Errorf("resolving course name: %w", err)
		default:
			opts = append(opts, store.WithCourse(resolved))
		}
	}
	if hasLesson {
		opts = append(opts, store.WithLesson(lessonNumber))
	}

	results, err := t.store.Search(ctx, query, opts...)
	if err != nil {
		return "", nil, fmt.Errorf("searching course content: %w", err)
	}
	if len(results) == 0 {
		return note + emptyResultMessage(courseName, lessonNumber, hasLesson), nil, nil
	}

	return note + t.formatResults(ctx, results), t.collectSources(ctx, results), nil
}

// formatResults renders result blocks with a bracketed attribution
// header, the format the model is prompted to cite from.
func (t *SearchTool) formatResults(ctx context.Context, results []store.Result) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		header := fmt.Sprintf("[%s - Lesson %d]", r.Chunk.CourseTitle, r.Chunk.LessonNumber)
		blocks = append(blocks, header+"\n"+r.Chunk.Content)
	}
	return strings.Join(blocks, "\n\n")
}

// collectSources builds one source per result, annotated with the
// lesson link when the catalog knows it. Link lookups are best-effort.
func (t *SearchTool) collectSources(ctx context.Context, results []store.Result) []Source {
	catalog := make(map[string]*course.Course)
	sources := make([]Source, 0, len(results))

	for _, r := range results {
		src := Source{
			CourseTitle:  r.Chunk.CourseTitle,
			LessonNumber: r.Chunk.LessonNumber,
		}

		c, ok := catalog[r.Chunk.CourseTitle]
		if !ok {
			var err error
			c, err = t.store.Course(ctx, r.Chunk.CourseTitle)
			if err != nil {
				t.logger.Debug("catalog lookup failed for source link",
					"course", r.Chunk.CourseTitle, "error", err)
				c = nil
			}
			catalog[r.Chunk.CourseTitle] = c
		}
		if c != nil {
			if lesson := c.Lesson(r.Chunk.LessonNumber); lesson != nil && lesson.Link != "" {
				src.Link = lesson.Link
			} else {
				src.Link = c.Link
			}
		}

		sources = append(sources, src)
	}
	return sources
}

func emptyResultMessage(courseName string, lesson int, hasLesson bool) string {
	msg := "No relevant content found"
	if courseName != "" {
		msg += fmt.Sprintf(" in course '%s'", courseName)
	}
	if hasLesson {
		msg += fmt.Sprintf(" in lesson %d", lesson)
	}
	return msg + "."
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// intArg reads an integer argument. JSON numbers arrive as float64;
// some models send integers as strings, so both are accepted.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}
