package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository. The conditional writes
// are the concurrency fence for duplicate queue deliveries, so every
// guarded statement reports ErrConflict when the guard does not match.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// Create inserts a new job record; an existing id is ErrConflict.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	tag, err := r.db.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.UserID,
		job.Status,
		job.Prompt,
		job.Locale,
		nullableBytes(job.SettingsJSON),
		job.TempStorageKey,
		job.FinalStorageKey,
		job.BatchJobID,
		job.ErrorMessage,
		job.ExpiresAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.db.QueryRow(ctx, sqlinline.QSelectJobByID, jobID)
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.Prompt,
		&job.Locale,
		&job.SettingsJSON,
		&job.TempStorageKey,
		&job.FinalStorageKey,
		&job.BatchJobID,
		&job.ErrorMessage,
		&job.ExpiresAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// UpdateFromStatus overwrites the job only while its stored status still
// equals expected. Zero affected rows means another delivery moved the
// job first (or the job vanished): ErrConflict either way.
func (r *JobRepositoryPG) UpdateFromStatus(ctx context.Context, expected domain.JobStatus, job *domain.Job) error {
	tag, err := r.db.Exec(ctx, sqlinline.QUpdateJobFromStatus,
		job.ID,
		expected,
		job.Status,
		job.Prompt,
		job.Locale,
		nullableBytes(job.SettingsJSON),
		job.TempStorageKey,
		job.FinalStorageKey,
		job.BatchJobID,
		job.ErrorMessage,
		job.ExpiresAt,
		job.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
