package progress

import (
	"context"
	"fmt"

	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/infrastructure/logging"
	"github.com/pot-code/course-playback/internal/infrastructure/validate"
	"go.elastic.co/apm"
	"go.uber.org/zap"
)

// ProgressUseCaseImpl progress store with merge semantics
type ProgressUseCaseImpl struct {
	ProgressRepository domain.ProgressRepository
	CourseUseCase      domain.CourseUseCase
	Validator          validate.Validator
}

var _ domain.ProgressUseCase = &ProgressUseCaseImpl{}

// NewProgressUseCase ...
func NewProgressUseCase(
	ProgressRepository domain.ProgressRepository,
	CourseUseCase domain.CourseUseCase,
	Validator validate.Validator,
) *ProgressUseCaseImpl {
	return &ProgressUseCaseImpl{ProgressRepository, CourseUseCase, Validator}
}

// GetSnapshot stored progress of a learner with the derived course completion.
// Rows of lessons no longer in the course are ignored.
func (pu *ProgressUseCaseImpl) GetSnapshot(ctx context.Context, learnerID, courseID string) (*domain.CourseProgressSnapshot, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "ProgressUseCaseImpl.GetSnapshot", "service")
	defer apmSpan.End()

	course, err := pu.CourseUseCase.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	rows, err := pu.ProgressRepository.GetLessonProgress(ctx, learnerID, courseID)
	if err != nil {
		return nil, fmt.Errorf("load lesson progress: %w", err)
	}

	snapshot := &domain.CourseProgressSnapshot{
		CourseID:       courseID,
		LearnerID:      learnerID,
		LessonProgress: make(domain.ProgressMap, len(rows)),
	}
	for _, lp := range rows {
		if _, _, ok := course.FindLesson(lp.LessonID); !ok {
			continue
		}
		snapshot.LessonProgress[lp.LessonID] = *lp
	}
	snapshot.Derive(course)
	return snapshot, nil
}

// ApplyDeltas merge every delta into the store. The whole batch is rejected
// with domain.ErrInvalidPayload when any delta is malformed, before anything is written.
func (pu *ProgressUseCaseImpl) ApplyDeltas(ctx context.Context, deltas []domain.ProgressDelta) error {
	apmSpan, ctx := apm.StartSpan(ctx, "ProgressUseCaseImpl.ApplyDeltas", "service")
	defer apmSpan.End()

	for i := range deltas {
		d := &deltas[i]
		errs := pu.Validator.Struct(d)
		errs = append(errs, pu.Validator.Empty("lesson_id", d.LessonID)...)
		if d.CompletionPercentage < 0 || d.CompletionPercentage > 100 {
			errs = append(errs, validate.NewFieldError("completion_percentage",
				fmt.Sprintf("completion_percentage %.2f is out of range", d.CompletionPercentage)))
		}
		if err := validate.AsError(errs); err != nil {
			return err
		}
	}

	logger := logging.ExtractLoggerFromContext(ctx)
	for _, d := range deltas {
		if err := pu.ProgressRepository.MergeLessonProgress(ctx, d.LearnerID, d.CourseID, d.LessonProgress); err != nil {
			return fmt.Errorf("merge progress of lesson %s: %w", d.LessonID, err)
		}
		logger.Debug("progress merged",
			zap.String("learner.id", d.LearnerID),
			zap.String("lesson.id", d.LessonID),
			zap.Float64("progress.percentage", d.CompletionPercentage),
			zap.Bool("progress.completed", d.IsCompleted))
	}
	return nil
}
