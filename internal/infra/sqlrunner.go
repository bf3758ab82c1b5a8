package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DefaultQueryTimeout bounds one statement when the caller's context has no
// earlier deadline. Artifact saves run inside a task's persist budget and
// must not hang on a stuck connection.
const DefaultQueryTimeout = 10 * time.Second

// SQLExecutor is the query surface shared by repositories and the credentials store.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ErrSQLMarker is returned for queries without a valid leading marker.
var ErrSQLMarker = errors.New("infra: sql marker missing or invalid")

// SQLRunner executes marker-tagged queries on a pgx pool. Every statement
// is logged by its marker with its duration; failures log at error level.
type SQLRunner struct {
	Pool         *pgxpool.Pool
	Logger       zerolog.Logger
	QueryTimeout time.Duration
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger, QueryTimeout: DefaultQueryTimeout}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	stmt, err := prepare(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	tag, err := r.Pool.Exec(ctx, stmt.body, args...)
	r.done(stmt.marker, "exec", start, err).Int64("rows", tag.RowsAffected()).Send()
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	stmt, err := prepare(query)
	if err != nil {
		return errorRow{err: err}
	}
	ctx, cancel := r.withTimeout(ctx)
	return &loggedRow{
		row:    r.Pool.QueryRow(ctx, stmt.body, args...),
		runner: r,
		marker: stmt.marker,
		start:  time.Now(),
		cancel: cancel,
	}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	stmt, err := prepare(query)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.withTimeout(ctx)
	start := time.Now()
	rows, err := r.Pool.Query(ctx, stmt.body, args...)
	if err != nil {
		cancel()
		r.done(stmt.marker, "query", start, err).Send()
		return nil, err
	}
	return &loggedRows{Rows: rows, runner: r, marker: stmt.marker, start: start, cancel: cancel}, nil
}

func (r *SQLRunner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.QueryTimeout)
}

// done starts the log event of a finished statement. Empty result sets are
// not failures.
func (r *SQLRunner) done(marker, op string, start time.Time, err error) *zerolog.Event {
	ev := r.Logger.Debug()
	if err != nil && !IsNoRows(err) {
		ev = r.Logger.Error().Err(err)
	}
	return ev.Str("sql", marker).Str("op", op).Dur("duration", time.Since(start))
}

type loggedRow struct {
	row    pgx.Row
	runner *SQLRunner
	marker string
	start  time.Time
	cancel context.CancelFunc
}

func (l *loggedRow) Scan(dest ...any) error {
	defer l.cancel()
	err := l.row.Scan(dest...)
	l.runner.done(l.marker, "query_row", l.start, err).Send()
	return err
}

type loggedRows struct {
	pgx.Rows
	runner *SQLRunner
	marker string
	start  time.Time
	cancel context.CancelFunc
	closed bool
}

func (l *loggedRows) Close() {
	l.Rows.Close()
	if l.closed {
		return
	}
	l.closed = true
	l.cancel()
	l.runner.done(l.marker, "query", l.start, l.Rows.Err()).Send()
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

type statement struct {
	marker string
	body   string
}

// prepare splits the leading "--sql <uuid>" marker line from the query body.
func prepare(query string) (statement, error) {
	head, body, _ := strings.Cut(strings.TrimSpace(query), "\n")
	head = strings.TrimSpace(head)
	if !markerRegexp.MatchString(head) {
		return statement{}, ErrSQLMarker
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return statement{}, errors.New("infra: empty sql statement")
	}
	return statement{marker: strings.TrimPrefix(head, "--sql "), body: body}, nil
}

// IsNoRows reports whether err signals an empty result set.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

var _ SQLExecutor = (*SQLRunner)(nil)
