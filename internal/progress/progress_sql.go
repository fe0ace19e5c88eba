package progress

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/infrastructure/driver"
)

// ProgressRepository lesson_progress rows, one per learner, course and lesson
type ProgressRepository struct {
	Conn driver.ITransactionalDB `dep:""`
}

var _ domain.ProgressRepository = &ProgressRepository{}

// NewProgressRepository create a progress repository
func NewProgressRepository(Conn driver.ITransactionalDB) *ProgressRepository {
	return &ProgressRepository{
		Conn: Conn,
	}
}

const selectProgress = `
SELECT
    lesson_id, completion_percentage, is_completed, current_position,
    suspend_data, last_accessed_at, passed, score, attempts, seen_pages
FROM
    lesson_progress
WHERE
    learner_id = $1 AND course_id = $2`

// GetLessonProgress every stored lesson row of a learner in a course
func (repo *ProgressRepository) GetLessonProgress(ctx context.Context, learnerID, courseID string) ([]*domain.LessonProgress, error) {
	rows, err := repo.Conn.QueryContext(ctx, selectProgress, learnerID, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.LessonProgress
	for rows.Next() {
		item, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// MergeLessonProgress lock the stored row, merge p into it and write it back
func (repo *ProgressRepository) MergeLessonProgress(ctx context.Context, learnerID, courseID string, p domain.LessonProgress) error {
	return driver.WithTx(ctx, repo.Conn, &driver.TxOptions{
		Isolation:  sql.LevelReadCommitted,
		AccessMode: driver.AccessReadWrite,
	}, func(tx driver.ITransactionalDB) error {
		rows, err := tx.QueryContext(ctx, selectProgress+` AND lesson_id = $3 FOR UPDATE`, learnerID, courseID, p.LessonID)
		if err != nil {
			return err
		}
		var stored *domain.LessonProgress
		if rows.Next() {
			stored, err = scanProgress(rows)
		} else {
			err = rows.Err()
		}
		rows.Close()
		if err != nil {
			return err
		}

		if stored == nil {
			_, err = tx.ExecContext(ctx, `
INSERT INTO lesson_progress
    (completion_percentage, is_completed, current_position, suspend_data,
     last_accessed_at, passed, score, attempts, seen_pages, learner_id, course_id, lesson_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, progressArgs(learnerID, courseID, p)...)
			return err
		}

		merged := domain.MergeLessonProgress(*stored, p)
		_, err = tx.ExecContext(ctx, `
UPDATE lesson_progress
SET completion_percentage = $1,
    is_completed = $2,
    current_position = $3,
    suspend_data = $4,
    last_accessed_at = $5,
    passed = $6,
    score = $7,
    attempts = $8,
    seen_pages = $9
WHERE learner_id = $10 AND course_id = $11 AND lesson_id = $12`, progressArgs(learnerID, courseID, merged)...)
		return err
	})
}

// progressArgs column values in the order both write statements expect
func progressArgs(learnerID, courseID string, p domain.LessonProgress) []interface{} {
	passed := sql.NullBool{}
	if p.Passed != nil {
		passed = sql.NullBool{Bool: *p.Passed, Valid: true}
	}
	score := sql.NullFloat64{}
	if p.Score != nil {
		score = sql.NullFloat64{Float64: *p.Score, Valid: true}
	}
	accessed := sql.NullTime{}
	if !p.LastAccessedAt.IsZero() {
		accessed = sql.NullTime{Time: p.LastAccessedAt.UTC(), Valid: true}
	}
	return []interface{}{
		p.CompletionPercentage, p.IsCompleted, p.CurrentPosition, p.SuspendData,
		accessed, passed, score, p.Attempts, encodePages(p.SeenPages),
		learnerID, courseID, p.LessonID,
	}
}

func scanProgress(rows driver.ISQLRows) (*domain.LessonProgress, error) {
	var (
		item     domain.LessonProgress
		suspend  sql.NullString
		accessed sql.NullTime
		passed   sql.NullBool
		score    sql.NullFloat64
		attempts sql.NullInt64
		pages    sql.NullString
	)
	if err := rows.Scan(&item.LessonID, &item.CompletionPercentage, &item.IsCompleted, &item.CurrentPosition,
		&suspend, &accessed, &passed, &score, &attempts, &pages); err != nil {
		return nil, err
	}
	seen, err := decodePages(pages.String)
	if err != nil {
		return nil, fmt.Errorf("lesson %s: %w", item.LessonID, err)
	}
	item.SeenPages = seen
	item.SuspendData = suspend.String
	if accessed.Valid {
		item.LastAccessedAt = accessed.Time.UTC()
	}
	if passed.Valid {
		v := passed.Bool
		item.Passed = &v
	}
	if score.Valid {
		v := score.Float64
		item.Score = &v
	}
	item.Attempts = int(attempts.Int64)
	return &item, nil
}

// encodePages store a page set as a comma separated list, NULL when empty
func encodePages(pages []int) sql.NullString {
	if len(pages) == 0 {
		return sql.NullString{}
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return sql.NullString{String: strings.Join(parts, ","), Valid: true}
}

func decodePages(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	pages := make([]int, 0, len(parts))
	for _, part := range parts {
		p, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("malformed seen_pages %q: %w", raw, err)
		}
		pages = append(pages, p)
	}
	return domain.UnionPages(pages), nil
}
