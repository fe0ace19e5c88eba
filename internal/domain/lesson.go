package domain

import (
	"context"
	"fmt"
)

// LessonType content kind of a lesson, decides how consumption is tracked
type LessonType string

// lesson content types
const (
	LessonVideo LessonType = "video"
	LessonAudio LessonType = "audio"
	LessonPDF   LessonType = "pdf"
	LessonScorm LessonType = "scorm"
	LessonQuiz  LessonType = "quiz"
	LessonText  LessonType = "text"
)

// IsMedia reports whether the lesson is played back on a timeline
func (lt LessonType) IsMedia() bool {
	return lt == LessonVideo || lt == LessonAudio
}

// ScormVersion RTE dialect of a SCORM package
type ScormVersion string

// supported SCORM versions
const (
	Scorm12   ScormVersion = "1.2"
	Scorm2004 ScormVersion = "2004"
)

// Lesson one playable unit inside a module
type Lesson struct {
	ID             string       `json:"id" validate:"required"`
	Title          string       `json:"title"`
	Type           LessonType   `json:"type" validate:"required,oneof=video audio pdf scorm quiz text"`
	ContentURL     string       `json:"content_url,omitempty"`
	ScormPackageID string       `json:"scorm_package_id,omitempty"`
	ScormVersion   ScormVersion `json:"scorm_version,omitempty" validate:"omitempty,oneof=1.2 2004"`
	AssessmentID   string       `json:"assessment_id,omitempty"`
	// TotalPages page count of a PDF lesson, zero when unknown
	TotalPages int `json:"total_pages,omitempty"`
	// DurationSeconds media length, used to turn fractions into resume positions
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Module ordered group of lessons
type Module struct {
	ID           string    `json:"id" validate:"required"`
	Title        string    `json:"title"`
	Lessons      []*Lesson `json:"lessons" validate:"dive"`
	AssessmentID string    `json:"assessment_id,omitempty"`
}

// Course read-only catalog entry, immutable during a playback session.
// Declaration order of modules and lessons defines the unlock chain.
type Course struct {
	ID      string    `json:"id" validate:"required"`
	Title   string    `json:"title"`
	Modules []*Module `json:"modules" validate:"dive"`
}

// LessonRef position of a lesson inside a course
type LessonRef struct {
	Module int `json:"module"`
	Lesson int `json:"lesson"`
}

func (r LessonRef) String() string {
	return fmt.Sprintf("(%d,%d)", r.Module, r.Lesson)
}

// FindLesson locate lesson by id
func (c *Course) FindLesson(lessonID string) (*Lesson, LessonRef, bool) {
	for mi, m := range c.Modules {
		for li, l := range m.Lessons {
			if l.ID == lessonID {
				return l, LessonRef{mi, li}, true
			}
		}
	}
	return nil, LessonRef{}, false
}

// LessonCount total number of lessons in the course
func (c *Course) LessonCount() int {
	n := 0
	for _, m := range c.Modules {
		n += len(m.Lessons)
	}
	return n
}

// CourseRepository catalog storage
type CourseRepository interface {
	GetCourse(ctx context.Context, courseID string) (*Course, error)
}

// CourseUseCase catalog lookup for session bootstrap
type CourseUseCase interface {
	GetCourse(ctx context.Context, courseID string) (*Course, error)
}
