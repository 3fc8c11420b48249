package store

import "github.com/coursechat/coursechat/internal/course"

// VectorDimension is the width of the pgvector embedding columns.
// gemini-embedding-001 output is truncated to this many dimensions;
// see the course_chunks and courses migrations.
const VectorDimension = 768

// Result is a single content search hit with its similarity score.
type Result struct {
	Chunk      course.Chunk
	Similarity float32 // cosine similarity (0-1)
}

// SearchOption configures content search using the functional options
// pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK   int
	course string // canonical course title; "" = all courses
	lesson int    // lesson number; -1 = all lessons
}

// WithTopK sets the maximum number of results. Default is 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithCourse restricts search to one course, identified by its
// canonical title.
func WithCourse(title string) SearchOption {
	return func(c *searchConfig) {
		c.course = title
	}
}

// WithLesson restricts search to one lesson number. Negative values
// are ignored and leave the search unfiltered.
func WithLesson(number int) SearchOption {
	return func(c *searchConfig) {
		if number >= 0 {
			c.lesson = number
		}
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:   5,
		lesson: -1,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
