// Package sendlog persists per-recipient dispatch outcomes in Postgres.
// The log is optional: without DATABASE_URL the service runs with Nop.
package sendlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/corvusHold/certmail/internal/sendlog/migrations"
)

// Entry is one recorded send attempt. It never carries credentials.
type Entry struct {
	BatchID   uuid.UUID
	Email     string
	Success   bool
	MessageID string
	Error     string
	Backend   string
	Strategy  string
	CreatedAt time.Time
}

// Stats aggregates outcomes over a period.
type Stats struct {
	Sent   int
	Failed int
}

// Recorder appends batch outcomes.
type Recorder interface {
	Append(ctx context.Context, entries []Entry) error
}

// Reader answers history queries.
type Reader interface {
	ListBatch(ctx context.Context, batchID uuid.UUID) ([]Entry, error)
	StatsSince(ctx context.Context, since time.Time) (Stats, error)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Append(context.Context, []Entry) error { return nil }

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository { return &Repository{pool: pool} }

var columns = []string{"batch_id", "email", "success", "message_id", "error", "backend", "strategy", "created_at"}

// Append writes entries with COPY.
func (r *Repository) Append(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{"send_log"}, columns,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			at := e.CreatedAt
			if at.IsZero() {
				at = time.Now()
			}
			return []any{e.BatchID, e.Email, e.Success, e.MessageID, e.Error, e.Backend, e.Strategy, at.UTC()}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy send_log: %w", err)
	}
	if int(n) != len(entries) {
		return fmt.Errorf("copy send_log: wrote %d of %d rows", n, len(entries))
	}
	return nil
}

// ListBatch returns the entries of one batch in insertion order.
func (r *Repository) ListBatch(ctx context.Context, batchID uuid.UUID) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
SELECT batch_id, email, success, message_id, error, backend, strategy, created_at
FROM send_log WHERE batch_id = $1 ORDER BY id`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.BatchID, &e.Email, &e.Success, &e.MessageID, &e.Error, &e.Backend, &e.Strategy, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StatsSince counts outcomes recorded at or after since.
func (r *Repository) StatsSince(ctx context.Context, since time.Time) (Stats, error) {
	var s Stats
	err := r.pool.QueryRow(ctx, `
SELECT count(*) FILTER (WHERE success), count(*) FILTER (WHERE NOT success)
FROM send_log WHERE created_at >= $1`, since.UTC()).Scan(&s.Sent, &s.Failed)
	return s, err
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

// Migrate applies the embedded migrations. subcmd is up, down or status.
func Migrate(ctx context.Context, db *sql.DB, subcmd string) error {
	goose.SetBaseFS(migrations.Migrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	switch subcmd {
	case "up":
		return goose.UpContext(ctx, db, ".")
	case "down":
		return goose.DownContext(ctx, db, ".")
	case "status":
		return goose.StatusContext(ctx, db, ".")
	default:
		return fmt.Errorf("unsupported migrate subcommand %q", subcmd)
	}
}

// MigrateURL opens databaseURL with the pgx stdlib driver and runs Migrate.
func MigrateURL(ctx context.Context, databaseURL, subcmd string) error {
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is empty")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return Migrate(ctx, db, subcmd)
}
