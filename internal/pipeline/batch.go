package pipeline

import (
	"context"
	"errors"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/lifecycle"
)

// batchAdvanceAttempts bounds the conditional-write retry loop when two
// children of the same batch complete at the same moment.
const batchAdvanceAttempts = 3

// recordBatchProgress increments the owning batch's completed count and,
// exactly on the transition into COMPLETED, dispatches the batch
// notification. Every failure here is logged and swallowed: the child
// job's own completion is the higher-priority invariant.
func (o *Orchestrator) recordBatchProgress(ctx context.Context, job domain.Job, log infra.Logger) {
	log = log.With().Str("batch_id", job.BatchJobID).Logger()

	for attempt := 0; attempt < batchAdvanceAttempts; attempt++ {
		batch, err := o.batches.GetByID(ctx, job.BatchJobID)
		if err != nil {
			log.Error().Err(err).Msg("pipeline: load batch for progress failed")
			return
		}
		progress, err := lifecycle.AdvanceBatch(batch.CompletedCount, batch.TotalCount, 1)
		if err != nil {
			// A duplicate completion signal would overcount; refuse it.
			log.Error().Err(err).Int("completed", batch.CompletedCount).Int("total", batch.TotalCount).Msg("pipeline: batch increment rejected")
			return
		}
		expected := batch.CompletedCount
		batch.CompletedCount = progress.CompletedCount
		batch.Status = progress.Status
		batch.UpdatedAt = o.clock.Now()

		if err := o.batches.AdvanceProgress(ctx, expected, batch); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				// Another child advanced first; re-read and try again.
				continue
			}
			log.Error().Err(err).Msg("pipeline: batch progress write failed")
			return
		}

		log.Info().Int("completed", batch.CompletedCount).Int("total", batch.TotalCount).Msg("pipeline: batch progress advanced")
		if progress.Status == domain.JobStatusCompleted {
			o.dispatch(ctx, batchCompletionNotification(*batch, o.clock.Now()), log)
		}
		return
	}
	log.Error().Msg("pipeline: batch progress retries exhausted")
}
