package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// BatchRepositoryPG implements domain.BatchRepository.
type BatchRepositoryPG struct {
	db infra.SQLExecutor
}

// NewBatchRepository creates a new batch repository backed by PostgreSQL.
func NewBatchRepository(db infra.SQLExecutor) *BatchRepositoryPG {
	return &BatchRepositoryPG{db: db}
}

// Create inserts a new batch record; an existing id is ErrConflict.
func (r *BatchRepositoryPG) Create(ctx context.Context, batch *domain.BatchJob) error {
	tag, err := r.db.Exec(ctx, sqlinline.QInsertBatchJob,
		batch.ID,
		batch.UserID,
		batch.Status,
		batch.TotalCount,
		batch.CompletedCount,
		batch.SharedPrompt,
		batch.ItemPrompts,
		batch.ChildJobIDs,
		batch.ExpiresAt,
		batch.CreatedAt,
		batch.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// GetByID fetches a batch by its identifier.
func (r *BatchRepositoryPG) GetByID(ctx context.Context, batchID string) (*domain.BatchJob, error) {
	row := r.db.QueryRow(ctx, sqlinline.QSelectBatchJobByID, batchID)
	var batch domain.BatchJob
	if err := row.Scan(
		&batch.ID,
		&batch.UserID,
		&batch.Status,
		&batch.TotalCount,
		&batch.CompletedCount,
		&batch.SharedPrompt,
		&batch.ItemPrompts,
		&batch.ChildJobIDs,
		&batch.ExpiresAt,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// AdvanceProgress overwrites the batch only while its stored completed
// count still equals expectedCompleted. A lost guard means a concurrent
// child advanced first; callers re-read and retry on ErrConflict.
func (r *BatchRepositoryPG) AdvanceProgress(ctx context.Context, expectedCompleted int, batch *domain.BatchJob) error {
	tag, err := r.db.Exec(ctx, sqlinline.QAdvanceBatchProgress,
		batch.ID,
		expectedCompleted,
		batch.Status,
		batch.CompletedCount,
		batch.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}
