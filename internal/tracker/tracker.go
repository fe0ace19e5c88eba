package tracker

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/pot-code/course-playback/internal/domain"
)

// DefaultVisibilityThreshold share of a PDF page that must be on screen to count as seen
const DefaultVisibilityThreshold = 0.7

const epsilon = 1e-9

// Delta result of one observation
type Delta struct {
	LessonID string
	Before   domain.LessonProgress
	After    domain.LessonProgress
	// Changed any field of After differs from Before
	Changed bool
	// Completed this observation flipped IsCompleted to true
	Completed bool
}

// Tracker reduces content observations into LessonProgress updates.
//
// It holds no progress state, the caller owns the progress map; PDF pages
// seen so far travel in LessonProgress.SeenPages.
type Tracker struct {
	visibilityThreshold float64
	now                 func() time.Time
}

// Option tracker option
type Option func(*Tracker)

// WithVisibilityThreshold override the PDF page visibility threshold
func WithVisibilityThreshold(ratio float64) Option {
	return func(t *Tracker) {
		t.visibilityThreshold = ratio
	}
}

// WithClock override the time source used for signals without a timestamp
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// New create a Tracker
func New(options ...Option) *Tracker {
	t := &Tracker{
		visibilityThreshold: DefaultVisibilityThreshold,
		now:                 time.Now,
	}
	for _, o := range options {
		o(t)
	}
	return t
}

// Observe apply sig to prev and return the resulting delta.
//
// A *domain.PolicySeekViolation is returned together with an unchanged delta
// when a seek goes past the watched high-water mark.
func (t *Tracker) Observe(prev domain.LessonProgress, lesson *domain.Lesson, sig Signal) (Delta, error) {
	before := prev.Clone()
	before.LessonID = lesson.ID
	next := before.Clone()

	at := sig.observedAt()
	if at.IsZero() {
		at = t.now()
	}
	at = at.UTC()

	var err error
	switch s := sig.(type) {
	case PlayheadSignal:
		if err = expect(lesson, domain.LessonVideo, domain.LessonAudio); err == nil {
			f := clampFraction(s.Fraction)
			raise(&next, f*100)
			touch(&next, at, seconds(lesson, f, s.Seconds))
		}
	case EndedSignal:
		if err = expect(lesson, domain.LessonVideo, domain.LessonAudio); err == nil {
			raise(&next, 100)
			next.IsCompleted = true
			touch(&next, at, lesson.DurationSeconds)
		}
	case SeekSignal:
		if err = expect(lesson, domain.LessonVideo, domain.LessonAudio); err == nil {
			f := clampFraction(s.Fraction)
			if !before.IsCompleted && f*100 > before.CompletionPercentage+epsilon {
				allowed := before.CompletionPercentage / 100
				return Delta{LessonID: lesson.ID, Before: before, After: before.Clone()}, &domain.PolicySeekViolation{
					LessonID:        lesson.ID,
					Requested:       f,
					SnapBackTo:      allowed,
					SnapBackSeconds: allowed * lesson.DurationSeconds,
				}
			}
			touch(&next, at, seconds(lesson, f, s.Seconds))
		}
	case PageVisibilitySignal:
		if err = expect(lesson, domain.LessonPDF); err == nil {
			err = t.observePages(&next, lesson, s, at)
		}
	case ScormSignal:
		if err = expect(lesson, domain.LessonScorm); err == nil {
			if s.Score != nil {
				raise(&next, *s.Score)
			}
			if s.Completed {
				raise(&next, 100)
				next.IsCompleted = true
			}
			if s.SuspendData != nil && !at.Before(next.LastAccessedAt) {
				next.SuspendData = *s.SuspendData
			}
			touch(&next, at, next.CurrentPosition)
		}
	case QuizResultSignal:
		if err = expect(lesson, domain.LessonQuiz); err == nil {
			next.Attempts++
			passed := s.Passed || (next.Passed != nil && *next.Passed)
			next.Passed = &passed
			score := clamp(s.Percentage, 0, 100)
			if next.Score == nil || score > *next.Score {
				next.Score = &score
			}
			raise(&next, 100)
			next.IsCompleted = true
			touch(&next, at, next.CurrentPosition)
		}
	case FractionSignal:
		if err = expect(lesson, domain.LessonText); err == nil {
			f := clampFraction(s.Fraction)
			raise(&next, f*100)
			touch(&next, at, f)
		}
	case MarkCompleteSignal:
		if err = expect(lesson, domain.LessonText); err == nil {
			raise(&next, 100)
			next.IsCompleted = true
			touch(&next, at, 1)
		}
	default:
		err = fmt.Errorf("tracker: unknown signal %T", sig)
	}
	if err != nil {
		return Delta{LessonID: lesson.ID, Before: before, After: before.Clone()}, err
	}

	// a SCORM score is not a consumption measure, only the RTE status completes it
	if lesson.Type != domain.LessonScorm && next.CompletionPercentage >= domain.CompletionThreshold {
		next.IsCompleted = true
	}
	return Delta{
		LessonID:  lesson.ID,
		Before:    before,
		After:     next,
		Changed:   !reflect.DeepEqual(before, next),
		Completed: !before.IsCompleted && next.IsCompleted,
	}, nil
}

func (t *Tracker) observePages(next *domain.LessonProgress, lesson *domain.Lesson, s PageVisibilitySignal, at time.Time) error {
	total := s.TotalPages
	if total <= 0 {
		total = lesson.TotalPages
	}
	if total <= 0 {
		return fmt.Errorf("tracker: pdf lesson %s has no page count", lesson.ID)
	}

	var visible []int
	cursor := 0
	for _, pv := range s.Pages {
		if pv.Page < 1 || pv.Page > total || pv.Ratio < t.visibilityThreshold {
			continue
		}
		visible = append(visible, pv.Page)
		if pv.Page > cursor {
			cursor = pv.Page
		}
	}
	next.SeenPages = domain.UnionPages(next.SeenPages, visible)
	seen := 0
	for _, p := range next.SeenPages {
		if p <= total {
			seen++
		}
	}
	raise(next, float64(seen*100)/float64(total))
	if cursor > 0 {
		touch(next, at, float64(cursor))
	}
	return nil
}

func expect(lesson *domain.Lesson, types ...domain.LessonType) error {
	for _, lt := range types {
		if lesson.Type == lt {
			return nil
		}
	}
	return fmt.Errorf("%w: lesson %s is %s", domain.ErrLessonTypeMismatch, lesson.ID, lesson.Type)
}

// raise percentage high-water mark, never lowers it
func raise(p *domain.LessonProgress, pct float64) {
	pct = roundPercentage(clamp(pct, 0, 100))
	if pct > p.CompletionPercentage {
		p.CompletionPercentage = pct
	}
}

// touch move the resume cursor unless the observation is older than the last one
func touch(p *domain.LessonProgress, at time.Time, position float64) {
	if at.Before(p.LastAccessedAt) {
		return
	}
	p.CurrentPosition = position
	p.LastAccessedAt = at
}

func seconds(lesson *domain.Lesson, fraction, reported float64) float64 {
	if reported > 0 {
		return reported
	}
	return fraction * lesson.DurationSeconds
}

// roundPercentage drop float noise such as 0.55*100 = 55.00000000000001
func roundPercentage(pct float64) float64 {
	return math.Round(pct*1e6) / 1e6
}

func clampFraction(f float64) float64 {
	return clamp(f, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
