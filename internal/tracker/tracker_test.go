package tracker

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/pot-code/course-playback/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0    = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	video = &domain.Lesson{ID: "v1", Type: domain.LessonVideo, DurationSeconds: 200}
	pdf   = &domain.Lesson{ID: "p1", Type: domain.LessonPDF, TotalPages: 10}
	quiz  = &domain.Lesson{ID: "q1", Type: domain.LessonQuiz}
	scorm = &domain.Lesson{ID: "s1", Type: domain.LessonScorm, ScormVersion: domain.Scorm2004}
	text  = &domain.Lesson{ID: "t1", Type: domain.LessonText}
)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func TestVideoPercentageIsHighWaterMark(t *testing.T) {
	tests := []struct {
		name      string
		fractions []float64
	}{
		{"increasing", []float64{0.1, 0.2, 0.5}},
		{"seek back", []float64{0.6, 0.3, 0.4}},
		{"duplicates", []float64{0.3, 0.3, 0.3}},
		{"out of range", []float64{-0.5, 1.7}},
		{"single", []float64{0.42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			p := domain.LessonProgress{}
			max, last := 0.0, 0.0
			for i, f := range tt.fractions {
				d, err := tr.Observe(p, video, PlayheadSignal{Fraction: f, At: at(i)})
				require.NoError(t, err)
				assert.GreaterOrEqual(t, d.After.CompletionPercentage, last, "percentage must not decrease")
				p = d.After
				last = p.CompletionPercentage
				if f > max {
					max = f
				}
			}
			if max > 1 {
				max = 1
			}
			assert.InDelta(t, max*100, p.CompletionPercentage, 1e-9)
		})
	}
}

func TestCompletionIsSticky(t *testing.T) {
	tr := New()
	rnd := rand.New(rand.NewSource(42))
	p := domain.LessonProgress{}
	completed := false
	for i := 0; i < 500; i++ {
		var sig Signal
		// shuffled timestamps emulate out-of-order delivery
		ts := at(rnd.Intn(100))
		switch rnd.Intn(4) {
		case 0:
			sig = SeekSignal{Fraction: rnd.Float64(), At: ts}
		case 1:
			sig = EndedSignal{At: ts}
		default:
			sig = PlayheadSignal{Fraction: rnd.Float64(), At: ts}
		}
		d, _ := tr.Observe(p, video, sig)
		if completed {
			require.True(t, d.After.IsCompleted, "completion reverted at step %d", i)
		}
		completed = d.After.IsCompleted
		p = d.After
	}
}

func TestVideoCompletesAtThreshold(t *testing.T) {
	tr := New()
	d, err := tr.Observe(domain.LessonProgress{}, video, PlayheadSignal{Fraction: 0.94, At: at(1)})
	require.NoError(t, err)
	assert.False(t, d.After.IsCompleted)

	d, err = tr.Observe(d.After, video, PlayheadSignal{Fraction: 0.96, At: at(2)})
	require.NoError(t, err)
	assert.True(t, d.After.IsCompleted)
	assert.True(t, d.Completed)
	assert.InDelta(t, 96, d.After.CompletionPercentage, 1e-9)
}

func TestEndedForcesFullCompletion(t *testing.T) {
	tr := New()
	d, err := tr.Observe(domain.LessonProgress{CompletionPercentage: 40}, video, EndedSignal{At: at(1)})
	require.NoError(t, err)
	assert.Equal(t, 100.0, d.After.CompletionPercentage)
	assert.True(t, d.After.IsCompleted)
	assert.Equal(t, 200.0, d.After.CurrentPosition)
}

func TestSeekAheadIsViolation(t *testing.T) {
	tr := New()
	prev := domain.LessonProgress{LessonID: "v1", CompletionPercentage: 30, CurrentPosition: 60, LastAccessedAt: at(0)}

	d, err := tr.Observe(prev, video, SeekSignal{Fraction: 0.8, At: at(1)})
	var violation *domain.PolicySeekViolation
	require.True(t, errors.As(err, &violation))
	assert.InDelta(t, 0.3, violation.SnapBackTo, 1e-9)
	assert.InDelta(t, 60, violation.SnapBackSeconds, 1e-9)
	assert.False(t, d.Changed)
	assert.Equal(t, prev, d.After)

	d, err = tr.Observe(prev, video, SeekSignal{Fraction: 0.1, At: at(2)})
	require.NoError(t, err)
	assert.Equal(t, 30.0, d.After.CompletionPercentage)
	assert.InDelta(t, 20, d.After.CurrentPosition, 1e-9)
}

func TestSeekFreeOnceCompleted(t *testing.T) {
	tr := New()
	prev := domain.LessonProgress{CompletionPercentage: 95, IsCompleted: true}
	_, err := tr.Observe(prev, video, SeekSignal{Fraction: 0.99, At: at(1)})
	assert.NoError(t, err)
}

func TestStaleSignalDoesNotMoveCursor(t *testing.T) {
	tr := New()
	prev := domain.LessonProgress{CompletionPercentage: 50, CurrentPosition: 100, LastAccessedAt: at(10)}
	d, err := tr.Observe(prev, video, PlayheadSignal{Fraction: 0.7, At: at(5)})
	require.NoError(t, err)
	assert.InDelta(t, 70, d.After.CompletionPercentage, 1e-9)
	assert.Equal(t, 100.0, d.After.CurrentPosition)
	assert.Equal(t, at(10), d.After.LastAccessedAt)
}

func TestPDFDistinctPages(t *testing.T) {
	tr := New()
	var pages []PageVisibility
	for i := 1; i <= 9; i++ {
		pages = append(pages, PageVisibility{Page: i, Ratio: 0.9})
	}
	d, err := tr.Observe(domain.LessonProgress{}, pdf, PageVisibilitySignal{Pages: pages, At: at(1)})
	require.NoError(t, err)
	assert.Equal(t, 90.0, d.After.CompletionPercentage)
	assert.False(t, d.After.IsCompleted)

	// revisiting pages adds nothing
	d, err = tr.Observe(d.After, pdf, PageVisibilitySignal{Pages: pages[:3], At: at(2)})
	require.NoError(t, err)
	assert.Equal(t, 90.0, d.After.CompletionPercentage)

	d, err = tr.Observe(d.After, pdf, PageVisibilitySignal{Pages: []PageVisibility{{Page: 10, Ratio: 0.75}}, At: at(3)})
	require.NoError(t, err)
	assert.Equal(t, 100.0, d.After.CompletionPercentage)
	assert.True(t, d.After.IsCompleted)
	assert.Equal(t, 10.0, d.After.CurrentPosition)
}

func TestPDFResumesSeenPages(t *testing.T) {
	prior := domain.LessonProgress{
		LessonID:             "p1",
		CompletionPercentage: 90,
		SeenPages:            []int{1, 2, 3, 4, 5, 6, 7, 8, 9},
		LastAccessedAt:       at(1),
	}

	// a fresh tracker, as in a new session
	d, err := New().Observe(prior, pdf, PageVisibilitySignal{Pages: []PageVisibility{{Page: 10, Ratio: 1}}, At: at(60)})
	require.NoError(t, err)
	assert.Equal(t, 100.0, d.After.CompletionPercentage)
	assert.True(t, d.After.IsCompleted)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, d.After.SeenPages)
	assert.Len(t, d.Before.SeenPages, 9, "prior progress is not mutated")
}

func TestPercentageHasNoFloatNoise(t *testing.T) {
	tr := New()
	d, err := tr.Observe(domain.LessonProgress{}, video, PlayheadSignal{Fraction: 0.55, At: at(1)})
	require.NoError(t, err)
	assert.Equal(t, 55.0, d.After.CompletionPercentage)

	d, err = tr.Observe(domain.LessonProgress{}, text, FractionSignal{Fraction: 0.95, At: at(1)})
	require.NoError(t, err)
	assert.Equal(t, 95.0, d.After.CompletionPercentage)
	assert.True(t, d.After.IsCompleted)
}

func TestPDFVisibilityThreshold(t *testing.T) {
	tr := New()
	d, err := tr.Observe(domain.LessonProgress{}, pdf, PageVisibilitySignal{
		Pages: []PageVisibility{{Page: 1, Ratio: 0.69}, {Page: 2, Ratio: 0.7}, {Page: 42, Ratio: 1}},
		At:    at(1),
	})
	require.NoError(t, err)
	assert.Equal(t, 10.0, d.After.CompletionPercentage)
}

func TestPDFWithoutPageCount(t *testing.T) {
	tr := New()
	_, err := tr.Observe(domain.LessonProgress{}, &domain.Lesson{ID: "p2", Type: domain.LessonPDF},
		PageVisibilitySignal{Pages: []PageVisibility{{Page: 1, Ratio: 1}}})
	assert.Error(t, err)
}

func TestQuizCompletesRegardlessOfResult(t *testing.T) {
	tr := New()
	d, err := tr.Observe(domain.LessonProgress{}, quiz, QuizResultSignal{Passed: false, Percentage: 40, At: at(1)})
	require.NoError(t, err)
	assert.True(t, d.After.IsCompleted)
	assert.Equal(t, 100.0, d.After.CompletionPercentage)
	require.NotNil(t, d.After.Passed)
	assert.False(t, *d.After.Passed)
	assert.Equal(t, 1, d.After.Attempts)

	d, err = tr.Observe(d.After, quiz, QuizResultSignal{Passed: true, Percentage: 80, At: at(2)})
	require.NoError(t, err)
	assert.True(t, *d.After.Passed)
	assert.Equal(t, 80.0, *d.After.Score)

	d, err = tr.Observe(d.After, quiz, QuizResultSignal{Passed: false, Percentage: 10, At: at(3)})
	require.NoError(t, err)
	assert.True(t, *d.After.Passed, "a pass is kept for certificates")
	assert.Equal(t, 80.0, *d.After.Score)
	assert.Equal(t, 3, d.After.Attempts)
}

func TestScormScoreDoesNotComplete(t *testing.T) {
	tr := New()
	score := 97.0
	d, err := tr.Observe(domain.LessonProgress{}, scorm, ScormSignal{Score: &score, At: at(1)})
	require.NoError(t, err)
	assert.Equal(t, 97.0, d.After.CompletionPercentage)
	assert.False(t, d.After.IsCompleted)

	bookmark := "page=7"
	d, err = tr.Observe(d.After, scorm, ScormSignal{Completed: true, SuspendData: &bookmark, At: at(2)})
	require.NoError(t, err)
	assert.True(t, d.After.IsCompleted)
	assert.Equal(t, 100.0, d.After.CompletionPercentage)
	assert.Equal(t, "page=7", d.After.SuspendData)
}

func TestTextLesson(t *testing.T) {
	tr := New()
	d, err := tr.Observe(domain.LessonProgress{}, text, FractionSignal{Fraction: 0.5, At: at(1)})
	require.NoError(t, err)
	assert.Equal(t, 50.0, d.After.CompletionPercentage)

	d, err = tr.Observe(d.After, text, MarkCompleteSignal{At: at(2)})
	require.NoError(t, err)
	assert.True(t, d.After.IsCompleted)
}

func TestSignalTypeMismatch(t *testing.T) {
	tr := New()
	_, err := tr.Observe(domain.LessonProgress{}, pdf, PlayheadSignal{Fraction: 0.5})
	assert.True(t, errors.Is(err, domain.ErrLessonTypeMismatch))
}
