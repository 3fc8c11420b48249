// Package tool defines the function-calling tools the model may invoke
// and the registry that dispatches calls to them.
package tool

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Tool is one model-invocable function. Execute returns the text fed
// back to the model plus the sources that produced it; errors are
// converted to text results by the registry so a failed tool call
// never aborts a conversation.
type Tool interface {
	// Name returns the function name declared to the model.
	Name() string

	// Declaration returns the function schema for the model.
	Declaration() *genai.FunctionDeclaration

	// Execute runs the tool with the model-supplied arguments.
	Execute(ctx context.Context, args map[string]any) (string, []Source, error)
}

// Source identifies the course material behind a tool result.
// LessonNumber is -1 when the source is course-level.
type Source struct {
	CourseTitle  string
	LessonNumber int
	Link         string
}

// String renders the citation shown to users.
func (s Source) String() string {
	if s.LessonNumber < 0 {
		return s.CourseTitle
	}
	return fmt.Sprintf("%s - Lesson %d", s.CourseTitle, s.LessonNumber)
}

type sourceKey struct {
	course string
	lesson int
}

// Sources accumulates tool-result sources across the rounds of one
// request, preserving call order and dropping duplicates of the same
// course/lesson pair.
//
// The zero value is ready to use. Not safe for concurrent use; each
// request owns its own accumulator.
type Sources struct {
	seen  map[sourceKey]struct{}
	items []Source
}

// Add appends sources not already present.
func (l *Sources) Add(sources ...Source) {
	if l.seen == nil {
		l.seen = make(map[sourceKey]struct{})
	}
	for _, s := range sources {
		key := sourceKey{course: s.CourseTitle, lesson: s.LessonNumber}
		if _, ok := l.seen[key]; ok {
			continue
		}
		l.seen[key] = struct{}{}
		l.items = append(l.items, s)
	}
}

// Items returns the accumulated sources in first-seen order.
func (l *Sources) Items() []Source {
	return l.items
}
