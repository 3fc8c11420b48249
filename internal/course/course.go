// Package course defines the course-materials data model and the parser
// for the course document format.
//
// A course document is a UTF-8 text file with a metadata header followed
// by lesson sections:
//
//	Course Title: Building Towards Computer Use
//	Course Link: https://example.com/course
//	Course Instructor: Colt Steele
//
//	Lesson 0: Introduction
//	Lesson Link: https://example.com/lesson0
//	<lesson text...>
//
//	Lesson 1: ...
//
// Courses are immutable after ingestion; the title is the unique
// display key across the whole corpus.
package course

import "fmt"

// Course is one ingested course with its ordered lessons.
type Course struct {
	Title      string   `json:"title"`
	Link       string   `json:"link,omitempty"`
	Instructor string   `json:"instructor,omitempty"`
	Lessons    []Lesson `json:"lessons"`
}

// Lesson is a numbered section within a course. Number is unique within
// its course but carries no global meaning.
type Lesson struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Link   string `json:"link,omitempty"`
}

// Chunk is a bounded span of lesson text, independently embeddable and
// retrievable. CourseTitle is a back-reference, not ownership.
type Chunk struct {
	CourseTitle  string
	LessonNumber int
	ChunkIndex   int
	Content      string
}

// ID returns the stable identifier for the chunk, unique across the
// content collection.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s-%d-%d", c.CourseTitle, c.LessonNumber, c.ChunkIndex)
}

// Lesson returns the lesson with the given number, or nil.
func (c *Course) Lesson(number int) *Lesson {
	for i := range c.Lessons {
		if c.Lessons[i].Number == number {
			return &c.Lessons[i]
		}
	}
	return nil
}
