// Package drivertest provides an in-memory driver.ITransactionalDB for repository tests.
package drivertest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/pot-code/course-playback/internal/infrastructure/driver"
)

// Call one recorded statement
type Call struct {
	Query string
	Args  []interface{}
	InTx  bool
}

// DB scripted database. QueryFunc and ExecFunc decide what each statement returns.
type DB struct {
	QueryFunc func(query string, args []interface{}) ([][]interface{}, error)
	ExecFunc  func(query string, args []interface{}) (int64, error)

	mu         sync.Mutex
	Calls      []Call
	Commits    int
	Rollbacks  int
	BeginError error
	// RowsError returned by Rows.Err once the scripted rows are exhausted
	RowsError error
}

var _ driver.ITransactionalDB = &DB{}

// New create an empty DB
func New() *DB {
	return &DB{}
}

func (db *DB) record(query string, args []interface{}, inTx bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.Calls = append(db.Calls, Call{Query: query, Args: args, InTx: inTx})
}

func (db *DB) query(query string, args []interface{}, inTx bool) (driver.ISQLRows, error) {
	db.record(query, args, inTx)
	if db.QueryFunc == nil {
		return &Rows{err: db.RowsError}, nil
	}
	data, err := db.QueryFunc(query, args)
	if err != nil {
		return nil, err
	}
	return &Rows{data: data, err: db.RowsError}, nil
}

func (db *DB) exec(query string, args []interface{}, inTx bool) (sql.Result, error) {
	db.record(query, args, inTx)
	if db.ExecFunc == nil {
		return Result(1), nil
	}
	n, err := db.ExecFunc(query, args)
	return Result(n), err
}

// ExecContext implement driver.ITransactionalDB
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.exec(query, args, false)
}

// QueryContext implement driver.ITransactionalDB
func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (driver.ISQLRows, error) {
	return db.query(query, args, false)
}

// BeginTx implement driver.ITransactionalDB
func (db *DB) BeginTx(ctx context.Context, opts *driver.TxOptions) (driver.ITransactionalDB, error) {
	if db.BeginError != nil {
		return nil, db.BeginError
	}
	return &tx{db}, nil
}

func (db *DB) Commit(ctx context.Context) error   { return nil }
func (db *DB) Rollback(ctx context.Context) error { return nil }
func (db *DB) Close(ctx context.Context) error    { return nil }
func (db *DB) Ping() error                        { return nil }

// Snapshot recorded calls
func (db *DB) Snapshot() []Call {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]Call(nil), db.Calls...)
}

type tx struct {
	db *DB
}

func (t *tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.db.exec(query, args, true)
}

func (t *tx) QueryContext(ctx context.Context, query string, args ...interface{}) (driver.ISQLRows, error) {
	return t.db.query(query, args, true)
}

func (t *tx) BeginTx(ctx context.Context, opts *driver.TxOptions) (driver.ITransactionalDB, error) {
	panic("create transaction inside a transaction")
}

func (t *tx) Commit(ctx context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.Commits++
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.Rollbacks++
	return nil
}

func (t *tx) Close(ctx context.Context) error { return nil }
func (t *tx) Ping() error                     { return nil }

// Result rows affected
type Result int64

// LastInsertId not tracked
func (r Result) LastInsertId() (int64, error) { return 0, nil }

// RowsAffected implement sql.Result
func (r Result) RowsAffected() (int64, error) { return int64(r), nil }

// Rows scripted result set
type Rows struct {
	data [][]interface{}
	i    int
	err  error
}

// Next implement driver.ISQLRows
func (r *Rows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

// Scan assign the current row, sql.Scanner destinations receive the raw value
func (r *Rows) Scan(dest ...interface{}) error {
	row := r.data[r.i-1]
	if len(row) != len(dest) {
		return fmt.Errorf("drivertest: row has %d columns, scanning %d", len(row), len(dest))
	}
	for i, d := range dest {
		v := row[i]
		switch p := d.(type) {
		case sql.Scanner:
			if err := p.Scan(v); err != nil {
				return err
			}
		case *string:
			*p = v.(string)
		case *float64:
			*p = v.(float64)
		case *int:
			*p = v.(int)
		case *bool:
			*p = v.(bool)
		case *time.Time:
			*p = v.(time.Time)
		default:
			return fmt.Errorf("drivertest: unsupported scan destination %T", d)
		}
	}
	return nil
}

// Err implement driver.ISQLRows
func (r *Rows) Err() error {
	if r.i < len(r.data) {
		return nil
	}
	return r.err
}

// Close implement driver.ISQLRows
func (r *Rows) Close() error {
	return nil
}
