// Package gate decides which lessons of a course a learner may open.
//
// Everything here is a pure function of the course and the progress map, so
// the lock state is recomputed from scratch after every progress change.
package gate

import (
	"fmt"

	"github.com/pot-code/course-playback/internal/domain"
)

// LessonLock lock decision for one lesson
type LessonLock struct {
	Ref      domain.LessonRef `json:"ref"`
	LessonID string           `json:"lesson_id"`
	Locked   bool             `json:"locked"`
	Reason   string           `json:"reason,omitempty"`
}

// AssessmentLock lock decision for a module level assessment
type AssessmentLock struct {
	ModuleID     string `json:"module_id"`
	AssessmentID string `json:"assessment_id"`
	Locked       bool   `json:"locked"`
	Reason       string `json:"reason,omitempty"`
}

// LockState lock decisions for a whole course, lessons in course order
type LockState struct {
	Lessons     []LessonLock     `json:"lessons"`
	Assessments []AssessmentLock `json:"assessments,omitempty"`
	index       map[string]int
}

// Lesson lock entry of lessonID
func (s *LockState) Lesson(lessonID string) (LessonLock, bool) {
	i, ok := s.index[lessonID]
	if !ok {
		return LessonLock{}, false
	}
	return s.Lessons[i], true
}

// At lock entry at a course position
func (s *LockState) At(ref domain.LessonRef) (LessonLock, bool) {
	for _, l := range s.Lessons {
		if l.Ref == ref {
			return l, true
		}
	}
	return LessonLock{}, false
}

// Unlocked ids of all accessible lessons, in course order
func (s *LockState) Unlocked() []string {
	var ids []string
	for _, l := range s.Lessons {
		if !l.Locked {
			ids = append(ids, l.LessonID)
		}
	}
	return ids
}

type position struct {
	ref    domain.LessonRef
	lesson *domain.Lesson
}

// Compute lock state of every lesson and module assessment in course
func Compute(course *domain.Course, progress domain.ProgressMap) *LockState {
	state := &LockState{index: make(map[string]int)}

	var prev *position
	// nearest preceding lesson that is not a quiz
	var prevContent *position
	for mi, m := range course.Modules {
		for li, l := range m.Lessons {
			ref := domain.LessonRef{Module: mi, Lesson: li}
			entry := LessonLock{Ref: ref, LessonID: l.ID}
			entry.Locked, entry.Reason = lessonLock(l, prev, prevContent, progress)

			state.index[l.ID] = len(state.Lessons)
			state.Lessons = append(state.Lessons, entry)

			prev = &position{ref, l}
			if l.Type != domain.LessonQuiz {
				prevContent = prev
			}
		}
		if m.AssessmentID != "" {
			state.Assessments = append(state.Assessments, assessmentLock(m, prev, progress))
		}
	}
	return state
}

func lessonLock(l *domain.Lesson, prev, prevContent *position, progress domain.ProgressMap) (bool, string) {
	if prev == nil {
		return false, ""
	}
	pp := progress.Get(prev.lesson.ID)
	if !pp.IsCompleted {
		return true, fmt.Sprintf("complete %q %s first", prev.lesson.Title, prev.ref)
	}
	if l.Type == domain.LessonQuiz && prevContent != nil {
		cp := progress.Get(prevContent.lesson.ID)
		if cp.CompletionPercentage < domain.CompletionThreshold {
			return true, fmt.Sprintf("%q %s is at %.0f%%, the quiz needs %.0f%%",
				prevContent.lesson.Title, prevContent.ref, cp.CompletionPercentage, domain.CompletionThreshold)
		}
	}
	return false, ""
}

// assessmentLock a module assessment opens once every lesson of the module is
// completed and its last content lesson reached the threshold. last is the
// final lesson seen so far in course order.
func assessmentLock(m *domain.Module, last *position, progress domain.ProgressMap) AssessmentLock {
	entry := AssessmentLock{ModuleID: m.ID, AssessmentID: m.AssessmentID}
	if len(m.Lessons) == 0 {
		if last != nil && !progress.Get(last.lesson.ID).IsCompleted {
			entry.Locked = true
			entry.Reason = fmt.Sprintf("complete %q %s first", last.lesson.Title, last.ref)
		}
		return entry
	}

	var content *domain.Lesson
	for _, l := range m.Lessons {
		if !progress.Get(l.ID).IsCompleted {
			entry.Locked = true
			entry.Reason = fmt.Sprintf("complete every lesson of module %q first", m.Title)
			return entry
		}
		if l.Type != domain.LessonQuiz {
			content = l
		}
	}
	if content != nil {
		if pct := progress.Get(content.ID).CompletionPercentage; pct < domain.CompletionThreshold {
			entry.Locked = true
			entry.Reason = fmt.Sprintf("%q is at %.0f%%, the assessment needs %.0f%%",
				content.Title, pct, domain.CompletionThreshold)
		}
	}
	return entry
}

// CanAccess nil when lessonID is unlocked, *domain.GateViolation otherwise
func CanAccess(course *domain.Course, progress domain.ProgressMap, lessonID string) error {
	return Compute(course, progress).Check(lessonID)
}

// Check nil when lessonID is unlocked in this state
func (s *LockState) Check(lessonID string) error {
	entry, ok := s.Lesson(lessonID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrLessonNotFound, lessonID)
	}
	if entry.Locked {
		return &domain.GateViolation{LessonID: lessonID, Ref: entry.Ref, Reason: entry.Reason}
	}
	return nil
}
