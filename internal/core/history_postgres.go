package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgx used by PostgresHistory.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

const historySchema = `
CREATE TABLE IF NOT EXISTS conversion_jobs (
	id            TEXT PRIMARY KEY,
	direction     TEXT NOT NULL,
	input         TEXT NOT NULL,
	output        TEXT NOT NULL,
	phase         TEXT NOT NULL,
	row_count     BIGINT NOT NULL DEFAULT 0,
	skipped_count BIGINT NOT NULL DEFAULT 0,
	columns       TEXT[],
	bytes_read    BIGINT NOT NULL DEFAULT 0,
	bytes_written BIGINT NOT NULL DEFAULT 0,
	checksum      TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	error_code    TEXT NOT NULL DEFAULT '',
	client_ip     TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ
);
ALTER TABLE conversion_jobs ADD COLUMN IF NOT EXISTS bytes_read BIGINT NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS conversion_jobs_started_at_idx ON conversion_jobs (started_at DESC);
`

const jobColumns = `id, direction, input, output, phase, row_count, skipped_count, columns,
	bytes_read, bytes_written, checksum, error, error_code, client_ip, started_at, finished_at`

// PostgresHistory stores jobs in the conversion_jobs table.
type PostgresHistory struct {
	db   DBTX
	pool *pgxpool.Pool
}

// NewPostgresHistory creates the table if needed. Close closes pool.
func NewPostgresHistory(ctx context.Context, pool *pgxpool.Pool) (*PostgresHistory, error) {
	h := &PostgresHistory{db: pool, pool: pool}
	if err := h.migrate(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *PostgresHistory) migrate(ctx context.Context) error {
	if _, err := h.db.Exec(ctx, historySchema); err != nil {
		return fmt.Errorf("create conversion_jobs: %w", err)
	}
	return nil
}

func (h *PostgresHistory) Record(ctx context.Context, j Job) error {
	_, err := h.db.Exec(ctx, `
		INSERT INTO conversion_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			phase = EXCLUDED.phase,
			row_count = EXCLUDED.row_count,
			skipped_count = EXCLUDED.skipped_count,
			columns = EXCLUDED.columns,
			bytes_read = EXCLUDED.bytes_read,
			bytes_written = EXCLUDED.bytes_written,
			checksum = EXCLUDED.checksum,
			error = EXCLUDED.error,
			error_code = EXCLUDED.error_code,
			finished_at = EXCLUDED.finished_at`,
		j.ID, string(j.Direction), j.Input, j.Output, string(j.Phase),
		j.Rows, j.Skipped, j.Columns,
		j.BytesRead, j.BytesWritten, j.Checksum, j.Error, j.ErrorCode, j.ClientIP,
		j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", j.ID, err)
	}
	return nil
}

func (h *PostgresHistory) Get(ctx context.Context, id string) (Job, error) {
	row := h.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM conversion_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (h *PostgresHistory) List(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := h.db.Query(ctx,
		`SELECT `+jobColumns+` FROM conversion_jobs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Job, error) {
		return scanJob(r)
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (h *PostgresHistory) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := h.db.Exec(ctx, `
		DELETE FROM conversion_jobs
		WHERE started_at < $1 AND phase IN ($2, $3, $4)`,
		cutoff, string(PhaseCompleted), string(PhaseFailed), string(PhaseCancelled))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (h *PostgresHistory) Close() error {
	if h.pool != nil {
		h.pool.Close()
	}
	return nil
}

func scanJob(row pgx.Row) (Job, error) {
	var (
		j         Job
		direction string
		phase     string
	)
	err := row.Scan(
		&j.ID, &direction, &j.Input, &j.Output, &phase,
		&j.Rows, &j.Skipped, &j.Columns,
		&j.BytesRead, &j.BytesWritten, &j.Checksum, &j.Error, &j.ErrorCode, &j.ClientIP,
		&j.StartedAt, &j.FinishedAt,
	)
	j.Direction = Direction(direction)
	j.Phase = Phase(phase)
	return j, err
}
