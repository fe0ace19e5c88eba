package statement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgconn"
	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/infrastructure/driver"
)

const (
	mysqlDuplicateEntry = 1062
	pgUniqueViolation   = "23505"
)

// StatementRepository append-only xapi_statement table keyed by statement id
type StatementRepository struct {
	Conn driver.ITransactionalDB `dep:""`
}

var _ domain.StatementRepository = &StatementRepository{}

// NewStatementRepository create a statement repository
func NewStatementRepository(Conn driver.ITransactionalDB) *StatementRepository {
	return &StatementRepository{
		Conn: Conn,
	}
}

// SaveStatements insert statements one by one. A replayed statement hits the
// primary key and is skipped, the rest of the batch still lands.
func (repo *StatementRepository) SaveStatements(ctx context.Context, stmts []domain.XapiStatement) error {
	conn := repo.Conn
	for _, s := range stmts {
		result := sql.NullString{}
		if s.Result != nil {
			raw, err := json.Marshal(s.Result)
			if err != nil {
				return err
			}
			result = sql.NullString{String: string(raw), Valid: true}
		}
		_, err := conn.ExecContext(ctx, `
INSERT INTO xapi_statement
    (id, actor_id, verb, verb_iri, object_id, object_type, "timestamp", result)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			s.ID, s.ActorID, string(s.Verb), s.VerbIRI, s.ObjectID, s.ObjectType, s.Timestamp.UTC(), result)
		if err != nil && !isDuplicate(err) {
			return err
		}
	}
	return nil
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
