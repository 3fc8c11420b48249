package course

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Sentinel errors for document parsing.
var (
	// ErrEmptyDocument indicates the source contained no usable text.
	ErrEmptyDocument = errors.New("empty course document")

	// ErrMissingTitle indicates the document has no "Course Title:" header.
	ErrMissingTitle = errors.New("course document missing title")
)

// Header prefixes of the course document format. Matching is
// case-insensitive on the key, and values are trimmed.
const (
	titlePrefix      = "course title:"
	linkPrefix       = "course link:"
	instructorPrefix = "course instructor:"
	lessonLinkPrefix = "lesson link:"
)

// lessonMarker matches a lesson heading such as "Lesson 2: Tool Use".
var lessonMarker = regexp.MustCompile(`^Lesson\s+(\d+)\s*:\s*(.*)$`)

// LessonText pairs a parsed lesson with its raw body text, ready for
// chunking. The parser never chunks; that is the chunker's job.
type LessonText struct {
	Lesson Lesson
	Text   string
}

// Document is the parse result for one course document.
type Document struct {
	Course  Course
	Lessons []LessonText
}

// Parse reads a course document and returns its course metadata and
// per-lesson text. Header lines may appear in any order before the
// first lesson marker; text before the first marker that is not a
// header is treated as lesson 0 with the course title as lesson title,
// so documents without explicit lesson structure still ingest.
func Parse(r io.Reader) (*Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	doc := &Document{}
	var current *LessonText
	var body strings.Builder

	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(body.String())
		doc.Lessons = append(doc.Lessons, *current)
		current = nil
		body.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)

		switch {
		case current == nil && strings.HasPrefix(lower, titlePrefix):
			doc.Course.Title = strings.TrimSpace(trimmed[len(titlePrefix):])
			continue
		case current == nil && strings.HasPrefix(lower, linkPrefix):
			doc.Course.Link = strings.TrimSpace(trimmed[len(linkPrefix):])
			continue
		case current == nil && strings.HasPrefix(lower, instructorPrefix):
			doc.Course.Instructor = strings.TrimSpace(trimmed[len(instructorPrefix):])
			continue
		}

		if m := lessonMarker.FindStringSubmatch(trimmed); m != nil {
			flush()
			number, err := strconv.Atoi(m[1])
			if err != nil {
				// Unreachable given the regexp, but keep the parser total.
				return nil, fmt.Errorf("parsing lesson number %q: %w", m[1], err)
			}
			current = &LessonText{Lesson: Lesson{Number: number, Title: strings.TrimSpace(m[2])}}
			continue
		}

		if current != nil && strings.HasPrefix(lower, lessonLinkPrefix) && current.Lesson.Link == "" {
			current.Lesson.Link = strings.TrimSpace(trimmed[len(lessonLinkPrefix):])
			continue
		}

		if current == nil {
			if trimmed == "" {
				continue
			}
			// Preamble text without a lesson marker: treat the whole
			// remainder as a single implicit lesson 0.
			current = &LessonText{Lesson: Lesson{Number: 0, Title: doc.Course.Title}}
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading course document: %w", err)
	}
	flush()

	if doc.Course.Title == "" {
		return nil, ErrMissingTitle
	}
	if len(doc.Lessons) == 0 {
		return nil, ErrEmptyDocument
	}

	for _, lt := range doc.Lessons {
		doc.Course.Lessons = append(doc.Course.Lessons, lt.Lesson)
	}
	return doc, nil
}
