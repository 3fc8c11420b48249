// Package chunker splits lesson text into overlapping, embeddable
// chunks. Splitting prefers sentence boundaries near the target size
// over hard character cuts; the overlap is carried verbatim from the
// tail of the previous chunk so consecutive chunks share an exact text
// span.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/coursechat/coursechat/internal/course"
)

// sentenceSplitter matches sentence-like spans ending in ., ! or ?.
var sentenceSplitter = regexp.MustCompile(`[^.!?]+[.!?]+`)

// whitespaceRun collapses runs of whitespace (including newlines) so
// chunk text is a single normalized line.
var whitespaceRun = regexp.MustCompile(`\s+`)

// Chunker produces course.Chunk values from lesson text. The zero
// value is not useful; use New.
type Chunker struct {
	size    int // target chunk length in bytes
	overlap int // bytes carried from the previous chunk's tail
}

// New creates a Chunker with the given target size and overlap.
// Out-of-range values fall back to the conventional 800/100 defaults.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = 800
	}
	if overlap < 0 || overlap >= size {
		overlap = 100
	}
	return &Chunker{size: size, overlap: overlap}
}

// ChunkLesson splits one lesson's raw text into ordered chunks tagged
// with the course title and lesson number. Chunking is deterministic:
// identical input always yields an identical chunk sequence.
//
// Empty or whitespace-only text yields zero chunks, not an error, so
// ingestion can continue with the remaining lessons. A lesson shorter
// than the target size yields exactly one chunk with no overlap.
// Overlap never crosses a lesson boundary because each call starts
// from a clean state.
func (c *Chunker) ChunkLesson(courseTitle string, lessonNumber int, text string) []course.Chunk {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []course.Chunk
	pos := 0
	carry := ""

	for pos < len(sentences) {
		var b strings.Builder
		b.WriteString(carry)

		appended := 0
		for pos < len(sentences) {
			s := sentences[pos]
			sep := 0
			if b.Len() > 0 {
				sep = 1
			}
			if b.Len() > 0 && b.Len()+sep+len(s) > c.size {
				break
			}
			if sep == 1 {
				b.WriteString(" ")
			}
			b.WriteString(s)
			pos++
			appended++
		}

		// A sentence longer than the remaining budget is still taken
		// whole: oversized chunks beat mid-sentence cuts.
		if appended == 0 && pos < len(sentences) {
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString(sentences[pos])
			pos++
		}

		content := b.String()
		chunks = append(chunks, course.Chunk{
			CourseTitle:  courseTitle,
			LessonNumber: lessonNumber,
			ChunkIndex:   len(chunks),
			Content:      content,
		})

		if pos >= len(sentences) {
			break
		}
		carry = c.tail(content)
	}

	return chunks
}

// tail returns the trailing overlap span of content. The cut is moved
// forward to the next rune start when it would land mid-rune, so the
// carried span can be slightly shorter than the configured overlap for
// multi-byte text, never longer.
func (c *Chunker) tail(content string) string {
	if c.overlap == 0 || len(content) <= c.overlap {
		return ""
	}
	cut := len(content) - c.overlap
	for cut < len(content) && !utf8.RuneStart(content[cut]) {
		cut++
	}
	return content[cut:]
}

// splitSentences normalizes whitespace and splits text on sentence
// terminators. Text without terminators becomes a single sentence.
func splitSentences(text string) []string {
	normalized := strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	if normalized == "" {
		return nil
	}

	spans := sentenceSplitter.FindAllStringIndex(normalized, -1)
	if len(spans) == 0 {
		return []string{normalized}
	}

	sentences := make([]string, 0, len(spans)+1)
	for _, span := range spans {
		if s := strings.TrimSpace(normalized[span[0]:span[1]]); s != "" {
			sentences = append(sentences, s)
		}
	}
	// Trailing text without a terminator is kept as a final sentence.
	if rest := strings.TrimSpace(normalized[spans[len(spans)-1][1]:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}
