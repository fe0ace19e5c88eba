package domain

import (
	"context"
	"sort"
	"time"
)

// CompletionThreshold percentage at which a tracked lesson counts as completed,
// also the percentage a quiz's preceding lesson must reach
const CompletionThreshold = 95.0

// LessonProgress consumption state of one lesson.
//
// CompletionPercentage never decreases and IsCompleted never reverts once set.
type LessonProgress struct {
	LessonID             string    `json:"lesson_id"`
	CompletionPercentage float64   `json:"completion_percentage"`
	IsCompleted          bool      `json:"is_completed"`
	CurrentPosition      float64   `json:"current_position"` // seconds or page number
	SuspendData          string    `json:"suspend_data,omitempty"`
	LastAccessedAt       time.Time `json:"last_accessed_at"`
	Passed               *bool     `json:"passed,omitempty"`
	Score                *float64  `json:"score,omitempty"`
	Attempts             int       `json:"attempts,omitempty"`
	// SeenPages distinct PDF pages ever seen, ascending
	SeenPages []int `json:"seen_pages,omitempty"`
}

// Clone deep copy
func (lp LessonProgress) Clone() LessonProgress {
	if lp.Passed != nil {
		v := *lp.Passed
		lp.Passed = &v
	}
	if lp.Score != nil {
		v := *lp.Score
		lp.Score = &v
	}
	if lp.SeenPages != nil {
		lp.SeenPages = append([]int(nil), lp.SeenPages...)
	}
	return lp
}

// UnionPages merge page sets into one ascending set without duplicates
func UnionPages(sets ...[]int) []int {
	seen := make(map[int]struct{})
	for _, set := range sets {
		for _, p := range set {
			seen[p] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// MergeLessonProgress combine two observations of the same lesson.
//
// The result keeps the highest percentage, sticky completion and the union of
// seen pages; cursor and
// suspend data come from the most recently accessed side (b on ties).
// Merge is what makes replayed writes idempotent.
func MergeLessonProgress(a, b LessonProgress) LessonProgress {
	out := b.Clone()
	if a.LessonID != "" && out.LessonID == "" {
		out.LessonID = a.LessonID
	}
	if a.CompletionPercentage > out.CompletionPercentage {
		out.CompletionPercentage = a.CompletionPercentage
	}
	out.IsCompleted = a.IsCompleted || b.IsCompleted
	if a.LastAccessedAt.After(b.LastAccessedAt) {
		out.CurrentPosition = a.CurrentPosition
		out.SuspendData = a.SuspendData
		out.LastAccessedAt = a.LastAccessedAt
	}
	switch {
	case a.Passed != nil && *a.Passed:
		v := true
		out.Passed = &v
	case out.Passed == nil && a.Passed != nil:
		v := *a.Passed
		out.Passed = &v
	}
	if a.Score != nil && (out.Score == nil || *a.Score > *out.Score) {
		v := *a.Score
		out.Score = &v
	}
	if a.Attempts > out.Attempts {
		out.Attempts = a.Attempts
	}
	out.SeenPages = UnionPages(a.SeenPages, b.SeenPages)
	return out
}

// ProgressMap lesson progress keyed by lesson id
type ProgressMap map[string]LessonProgress

// Get returns stored progress or a zeroed entry for lessonID
func (pm ProgressMap) Get(lessonID string) LessonProgress {
	if lp, ok := pm[lessonID]; ok {
		return lp
	}
	return LessonProgress{LessonID: lessonID}
}

// Clone deep copy
func (pm ProgressMap) Clone() ProgressMap {
	out := make(ProgressMap, len(pm))
	for k, v := range pm {
		out[k] = v.Clone()
	}
	return out
}

// CourseProgressSnapshot aggregate progress of a learner in a course
type CourseProgressSnapshot struct {
	CourseID  string `json:"course_id"`
	LearnerID string `json:"learner_id,omitempty"`
	// CompletionPercentage derived from LessonProgress, never written directly
	CompletionPercentage float64     `json:"completion_percentage"`
	LessonProgress       ProgressMap `json:"lesson_progress"`
}

// Derive recompute CompletionPercentage as completed lessons over course lessons
func (s *CourseProgressSnapshot) Derive(course *Course) {
	total := course.LessonCount()
	if total == 0 {
		s.CompletionPercentage = 0
		return
	}
	done := 0
	for _, m := range course.Modules {
		for _, l := range m.Lessons {
			if s.LessonProgress.Get(l.ID).IsCompleted {
				done++
			}
		}
	}
	s.CompletionPercentage = float64(done) / float64(total) * 100
}

// ProgressDelta outbound progress write for one lesson
type ProgressDelta struct {
	CourseID  string `json:"course_id" validate:"required"`
	LearnerID string `json:"learner_id" validate:"required"`
	LessonProgress
}

// ProgressRepository progress store
type ProgressRepository interface {
	GetLessonProgress(ctx context.Context, learnerID, courseID string) ([]*LessonProgress, error)
	// MergeLessonProgress apply p on top of the stored row with MergeLessonProgress semantics
	MergeLessonProgress(ctx context.Context, learnerID, courseID string, p LessonProgress) error
}

// ProgressUseCase progress store operations exposed to sessions and REST
type ProgressUseCase interface {
	GetSnapshot(ctx context.Context, learnerID, courseID string) (*CourseProgressSnapshot, error)
	ApplyDeltas(ctx context.Context, deltas []ProgressDelta) error
}
