package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queries are written once with '?' placeholders; each driver adapter rebinds
// and converts arguments for its database.

type row interface {
	Scan(dest ...any) error
}

type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

type querier interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	QueryRow(ctx context.Context, query string, args ...any) row
	Query(ctx context.Context, query string, args ...any) (rows, error)
}

type tx interface {
	querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type conn interface {
	querier
	Begin(ctx context.Context) (tx, error)
	Ping(ctx context.Context) error
	Close()

	// uniqueViolation reports whether err is a unique index violation on the
	// named column of the nodes table.
	uniqueViolation(err error, column string) bool
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// --- PostgreSQL (pgxpool) ---

type pgxQueryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgxQuerier struct {
	q pgxQueryable
}

func (p pgxQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := p.q.Exec(ctx, rebindDollar(query), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p pgxQuerier) QueryRow(ctx context.Context, query string, args ...any) row {
	return p.q.QueryRow(ctx, rebindDollar(query), args...)
}

func (p pgxQuerier) Query(ctx context.Context, query string, args ...any) (rows, error) {
	return p.q.Query(ctx, rebindDollar(query), args...)
}

type pgxConn struct {
	pgxQuerier
	pool *pgxpool.Pool
}

func newPgxConn(pool *pgxpool.Pool) *pgxConn {
	return &pgxConn{pgxQuerier: pgxQuerier{q: pool}, pool: pool}
}

func (c *pgxConn) Begin(ctx context.Context) (tx, error) {
	t, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return pgxTx{pgxQuerier: pgxQuerier{q: t}, tx: t}, nil
}

func (c *pgxConn) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }
func (c *pgxConn) Close()                         { c.pool.Close() }

func (c *pgxConn) uniqueViolation(err error, column string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == "23505" &&
		pgErr.ConstraintName == "idx_nodes_"+column
}

type pgxTx struct {
	pgxQuerier
	tx pgx.Tx
}

func (t pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// rebindDollar rewrites '?' placeholders as $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// --- SQLite (database/sql) ---

// sqliteTimeLayout is fixed width so stored timestamps compare correctly as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type sqlQueryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqlQuerier struct {
	q sqlQueryable
}

func (s sqlQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.q.ExecContext(ctx, query, sqliteArgs(args)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s sqlQuerier) QueryRow(ctx context.Context, query string, args ...any) row {
	return s.q.QueryRowContext(ctx, query, sqliteArgs(args)...)
}

func (s sqlQuerier) Query(ctx context.Context, query string, args ...any) (rows, error) {
	r, err := s.q.QueryContext(ctx, query, sqliteArgs(args)...)
	if err != nil {
		return nil, err
	}
	return sqlRows{r}, nil
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() { r.Rows.Close() }

type sqlConn struct {
	sqlQuerier
	db *sql.DB
}

func newSQLConn(db *sql.DB) *sqlConn {
	return &sqlConn{sqlQuerier: sqlQuerier{q: db}, db: db}
}

func (c *sqlConn) Begin(ctx context.Context) (tx, error) {
	t, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return sqlTx{sqlQuerier: sqlQuerier{q: t}, tx: t}, nil
}

func (c *sqlConn) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }
func (c *sqlConn) Close()                         { c.db.Close() }

func (c *sqlConn) uniqueViolation(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: nodes."+column)
}

type sqlTx struct {
	sqlQuerier
	tx *sql.Tx
}

func (t sqlTx) Commit(context.Context) error   { return t.tx.Commit() }
func (t sqlTx) Rollback(context.Context) error { return t.tx.Rollback() }

// sqliteArgs converts timestamps and ids to the TEXT forms stored by SQLite.
func sqliteArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case time.Time:
			out[i] = v.UTC().Format(sqliteTimeLayout)
		case *time.Time:
			if v == nil {
				out[i] = nil
			} else {
				out[i] = v.UTC().Format(sqliteTimeLayout)
			}
		case uuid.UUID:
			out[i] = v.String()
		case *uuid.UUID:
			if v == nil {
				out[i] = nil
			} else {
				out[i] = v.String()
			}
		default:
			out[i] = a
		}
	}
	return out
}
