// Package archive copies terminal job records into Postgres for inspection
// beyond the store's retention window. Archival is best-effort bookkeeping:
// it runs after the terminal transition and never gates it, and the whole
// package is optional (a nil *Store disables it).
package archive

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose"

	"github.com/you/slotq/internal/domain"
)

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

// InsertTerminal upserts a finished job into the archive table.
func (s *Store) InsertTerminal(ctx context.Context, j *domain.JobRecord) error {
	_, err := s.db.Exec(ctx, `insert into job_archive(
job_id, tenant_id, status, payload, created_at, started_at, completed_at,
processed_count, total_count, successful_count, error_message
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
on conflict (tenant_id, job_id) do update set
status = excluded.status,
completed_at = excluded.completed_at,
processed_count = excluded.processed_count,
successful_count = excluded.successful_count,
error_message = excluded.error_message`,
		j.JobID, j.TenantID, string(j.Status), []byte(j.Payload), j.CreatedAt,
		j.StartedAt, j.CompletedAt, j.ProcessedCount, j.TotalCount,
		j.SuccessfulCount, nullable(j.ErrorMessage),
	)
	return errors.Wrapf(err, "archive job %s", j.JobID)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Migrate brings the archive schema up to date with goose.
func Migrate(dsn, dir string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return errors.Wrap(err, "open archive db")
	}
	defer db.Close()
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return errors.Wrap(goose.Up(db, dir), "run archive migrations")
}
