package course

import (
	"context"
	"database/sql"

	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/infrastructure/driver"
)

// CourseRepository catalog stored in course, course_module and lesson tables
type CourseRepository struct {
	Conn driver.ITransactionalDB `dep:""`
}

var _ domain.CourseRepository = &CourseRepository{}

// NewCourseRepository create a catalog repository
func NewCourseRepository(Conn driver.ITransactionalDB) *CourseRepository {
	return &CourseRepository{
		Conn: Conn,
	}
}

// GetCourse load a course with its modules and lessons in declaration order
func (repo *CourseRepository) GetCourse(ctx context.Context, courseID string) (*domain.Course, error) {
	conn := repo.Conn
	rows, err := conn.QueryContext(ctx, `
SELECT
    c.title,
    m.id, m.title, m.assessment_id,
    l.id, l.title, l."type", l.content_url, l.scorm_package_id, l.scorm_version,
    l.assessment_id, l.total_pages, l.duration_seconds
FROM
    course c
        LEFT JOIN
    course_module m ON (m.course_id = c.id)
        LEFT JOIN
    lesson l ON (l.module_id = m.id)
WHERE
    c.id = $1
ORDER BY m."position", l."position"
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		course  *domain.Course
		current *domain.Module
	)
	for rows.Next() {
		var (
			title                                      string
			moduleID, moduleTitle, moduleAssessment    sql.NullString
			lessonID, lessonTitle, lessonType          sql.NullString
			contentURL, packageID, version, assessment sql.NullString
			totalPages                                 sql.NullInt64
			duration                                   sql.NullFloat64
		)
		if err := rows.Scan(&title,
			&moduleID, &moduleTitle, &moduleAssessment,
			&lessonID, &lessonTitle, &lessonType, &contentURL, &packageID, &version,
			&assessment, &totalPages, &duration,
		); err != nil {
			return nil, err
		}
		if course == nil {
			course = &domain.Course{ID: courseID, Title: title}
		}
		if !moduleID.Valid {
			continue
		}
		if current == nil || current.ID != moduleID.String {
			current = &domain.Module{
				ID:           moduleID.String,
				Title:        moduleTitle.String,
				AssessmentID: moduleAssessment.String,
			}
			course.Modules = append(course.Modules, current)
		}
		if !lessonID.Valid {
			continue
		}
		current.Lessons = append(current.Lessons, &domain.Lesson{
			ID:              lessonID.String,
			Title:           lessonTitle.String,
			Type:            domain.LessonType(lessonType.String),
			ContentURL:      contentURL.String,
			ScormPackageID:  packageID.String,
			ScormVersion:    domain.ScormVersion(version.String),
			AssessmentID:    assessment.String,
			TotalPages:      int(totalPages.Int64),
			DurationSeconds: duration.Float64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if course == nil {
		return nil, domain.ErrCourseNotFound
	}
	return course, nil
}
