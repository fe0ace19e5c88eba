package statement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgconn"
	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/infrastructure/driver/drivertest"
	"github.com/pot-code/course-playback/internal/infrastructure/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statement(id string, verb domain.Verb) domain.XapiStatement {
	return domain.XapiStatement{
		ID:        id,
		ActorID:   "u1",
		Verb:      verb,
		VerbIRI:   verb.IRI(),
		ObjectID:  "urn:course-playback/courses/c1/lessons/l1",
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSaveSkipsDuplicates(t *testing.T) {
	for name, dup := range map[string]error{
		"mysql":    &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"},
		"postgres": fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"}),
	} {
		t.Run(name, func(t *testing.T) {
			db := drivertest.New()
			db.ExecFunc = func(query string, args []interface{}) (int64, error) {
				if args[0] == "a" {
					return 0, dup
				}
				return 1, nil
			}
			repo := NewStatementRepository(db)

			completion := true
			b := statement("b", domain.VerbCompleted)
			b.Result = &domain.StatementResult{Completion: &completion, Duration: "PT1M"}
			require.NoError(t, repo.SaveStatements(context.Background(), []domain.XapiStatement{
				statement("a", domain.VerbLaunched), b,
			}))

			calls := db.Snapshot()
			require.Len(t, calls, 2)
			assert.Equal(t, sql.NullString{}, calls[0].Args[7])
			assert.Equal(t, sql.NullString{String: `{"duration":"PT1M","completion":true}`, Valid: true}, calls[1].Args[7])
		})
	}
}

func TestSaveStopsOnOtherErrors(t *testing.T) {
	db := drivertest.New()
	db.ExecFunc = func(query string, args []interface{}) (int64, error) {
		return 0, errors.New("connection reset")
	}
	repo := NewStatementRepository(db)

	err := repo.SaveStatements(context.Background(), []domain.XapiStatement{
		statement("a", domain.VerbLaunched), statement("b", domain.VerbLaunched),
	})
	assert.EqualError(t, err, "connection reset")
	assert.Len(t, db.Snapshot(), 1)
}

type memorySink struct {
	saved []domain.XapiStatement
}

func (ms *memorySink) SaveStatements(ctx context.Context, stmts []domain.XapiStatement) error {
	ms.saved = append(ms.saved, stmts...)
	return nil
}

func TestRecordValidates(t *testing.T) {
	sink := new(memorySink)
	uc := NewStatementUseCase(sink, validate.NewValidator("en"))

	good := statement("3f2a3c9e-2d4b-4f6a-9a4e-6a0c1b2d3e4f", domain.VerbProgressed)
	require.NoError(t, uc.Record(context.Background(), []domain.XapiStatement{good}))
	assert.Len(t, sink.saved, 1)

	bad := statement("not-a-uuid", "watched")
	err := uc.Record(context.Background(), []domain.XapiStatement{good, bad})
	assert.True(t, errors.Is(err, domain.ErrInvalidPayload))
	var ve *validate.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Fields, 2)
	assert.Len(t, sink.saved, 1, "rejected batch is not stored")
}
