package course

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/infrastructure/driver"
	"github.com/pot-code/course-playback/internal/infrastructure/logging"
	"github.com/pot-code/course-playback/internal/infrastructure/validate"
	"go.elastic.co/apm"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "course:"

// CourseUseCaseImpl catalog lookups, cached in the kv store
type CourseUseCaseImpl struct {
	CourseRepository domain.CourseRepository
	Cache            driver.KeyValueDB
	CacheTTL         time.Duration
	Validator        validate.Validator
}

var _ domain.CourseUseCase = &CourseUseCaseImpl{}

// NewCourseUseCase cache may be nil
func NewCourseUseCase(
	CourseRepository domain.CourseRepository,
	Cache driver.KeyValueDB,
	CacheTTL time.Duration,
	Validator validate.Validator,
) *CourseUseCaseImpl {
	return &CourseUseCaseImpl{CourseRepository, Cache, CacheTTL, Validator}
}

// GetCourse load and validate a course. The course is immutable while a
// session plays it, so the cached copy is served until it expires.
func (cu *CourseUseCaseImpl) GetCourse(ctx context.Context, courseID string) (*domain.Course, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "CourseUseCaseImpl.GetCourse", "service")
	defer apmSpan.End()

	logger := logging.ExtractLoggerFromContext(ctx)
	key := cacheKeyPrefix + courseID
	if cu.Cache != nil {
		if raw, err := cu.Cache.Get(key); err == nil {
			course := new(domain.Course)
			if err := json.Unmarshal([]byte(raw), course); err == nil {
				return course, nil
			}
			logger.Warn("discarding unreadable cached course", zap.String("course.id", courseID))
		}
	}

	course, err := cu.CourseRepository.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if errs := cu.Validator.Struct(course); len(errs) > 0 {
		reasons := make([]string, 0, len(errs))
		for _, fe := range errs {
			reasons = append(reasons, fe.Domain+": "+fe.Reason)
		}
		return nil, fmt.Errorf("%w %s: %s", domain.ErrMalformedCourse, courseID, strings.Join(reasons, "; "))
	}

	if cu.Cache != nil && cu.CacheTTL > 0 {
		if raw, err := json.Marshal(course); err == nil {
			if err := cu.Cache.SetEX(key, string(raw), cu.CacheTTL); err != nil {
				logger.Warn("failed to cache course", zap.String("course.id", courseID), zap.Error(err))
			}
		}
	}
	return course, nil
}
