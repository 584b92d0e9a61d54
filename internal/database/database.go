// Package database opens the Postgres pool and provides the small SQL
// helpers the stores share.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type PoolConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// ErrNotConfigured is returned by Connect when no DSN is set; callers run
// their stores in memory mode.
var ErrNotConfigured = errors.New("missing DATABASE_URL or DB_HOST")

func Connect(ctx context.Context, cfg PoolConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, ErrNotConfigured
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Exec runs each statement in order, stopping at the first failure.
func Exec(ctx context.Context, db *sql.DB, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Affected maps a zero-row result to sql.ErrNoRows.
func Affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// NilIfEmpty stores empty strings as NULL.
func NilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Where accumulates AND-ed conditions with numbered placeholders.
type Where struct {
	clauses []string
	args    []any
}

// Arg appends v and returns its placeholder.
func (w *Where) Arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

// Add appends a clause; each %s in format is replaced by a placeholder for
// the matching value.
func (w *Where) Add(format string, vals ...any) *Where {
	ph := make([]any, len(vals))
	for i, v := range vals {
		ph[i] = w.Arg(v)
	}
	w.clauses = append(w.clauses, fmt.Sprintf(format, ph...))
	return w
}

// Raw appends a clause that already carries its placeholders.
func (w *Where) Raw(clause string) *Where {
	w.clauses = append(w.clauses, clause)
	return w
}

// Before restricts to rows older than the keyset cursor.
func (w *Where) Before(ts time.Time, id string) *Where {
	if ts.IsZero() {
		return w
	}
	return w.Add("(created_at, id) < (%s, %s)", ts, id)
}

func (w *Where) SQL() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *Where) Args() []any {
	return w.args
}

// ExplainJSON runs EXPLAIN (FORMAT JSON) for query and returns the raw plan.
func ExplainJSON(ctx context.Context, db *sql.DB, query string, args ...any) ([]byte, error) {
	var plan []byte
	if err := db.QueryRowContext(ctx, "EXPLAIN (ANALYZE FALSE, FORMAT JSON) "+query, args...).Scan(&plan); err != nil {
		return nil, err
	}
	return plan, nil
}
