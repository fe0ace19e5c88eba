package xapi

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pot-code/course-playback/internal/domain"
)

// ActivityType object type of lesson statements
const ActivityType = "Activity"

// Emitter builds statements for one learner. Every statement is new and is
// never touched again once returned.
type Emitter struct {
	actorID      string
	activityBase string
	newID        func() string
	now          func() time.Time
}

// Option emitter option
type Option func(*Emitter)

// WithIDGenerator override statement id generation
func WithIDGenerator(gen func() string) Option {
	return func(e *Emitter) {
		e.newID = gen
	}
}

// WithClock override statement timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) {
		e.now = now
	}
}

// NewEmitter create an Emitter for actorID, lesson IRIs are rooted at activityBase
func NewEmitter(actorID, activityBase string, options ...Option) *Emitter {
	e := &Emitter{
		actorID:      actorID,
		activityBase: strings.TrimRight(activityBase, "/"),
		newID:        func() string { return uuid.New().String() },
		now:          time.Now,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// ObjectID activity IRI of a lesson
func (e *Emitter) ObjectID(lesson *domain.Lesson) string {
	return e.activityBase + "/lessons/" + lesson.ID
}

// Launched lesson was opened
func (e *Emitter) Launched(lesson *domain.Lesson) domain.XapiStatement {
	return e.statement(domain.VerbLaunched, lesson, nil)
}

// Progressed heartbeat while content is being consumed
func (e *Emitter) Progressed(lesson *domain.Lesson, p domain.LessonProgress, elapsed time.Duration) domain.XapiStatement {
	scaled := p.CompletionPercentage / 100
	return e.statement(domain.VerbProgressed, lesson, &domain.StatementResult{
		Duration: FormatDuration(elapsed),
		Scaled:   &scaled,
	})
}

// Completed lesson reached completion
func (e *Emitter) Completed(lesson *domain.Lesson, elapsed time.Duration) domain.XapiStatement {
	completion := true
	return e.statement(domain.VerbCompleted, lesson, &domain.StatementResult{
		Duration:   FormatDuration(elapsed),
		Completion: &completion,
	})
}

// QuizResult passed or failed statement for a graded attempt
func (e *Emitter) QuizResult(lesson *domain.Lesson, passed bool, percentage float64) domain.XapiStatement {
	verb := domain.VerbFailed
	if passed {
		verb = domain.VerbPassed
	}
	completion := true
	scaled := clampScaled(percentage / 100)
	return e.statement(verb, lesson, &domain.StatementResult{
		Completion: &completion,
		Success:    &passed,
		Scaled:     &scaled,
	})
}

func (e *Emitter) statement(verb domain.Verb, lesson *domain.Lesson, result *domain.StatementResult) domain.XapiStatement {
	return domain.XapiStatement{
		ID:         e.newID(),
		ActorID:    e.actorID,
		Verb:       verb,
		VerbIRI:    verb.IRI(),
		ObjectID:   e.ObjectID(lesson),
		ObjectType: ActivityType,
		Timestamp:  e.now().UTC(),
		Result:     result,
	}
}

func clampScaled(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
