// Package lifecycle holds the pure state-transition rules for jobs and
// batches. Nothing here performs I/O; time comes from an injected clock
// and callers persist the returned values through the conditional-write
// repositories.
package lifecycle

import (
	"strings"

	"server/internal/domain"
	"server/internal/infra"
)

// Event names carried inside InvalidTransitionError values.
const (
	EventStartProcessing = "START_PROCESSING"
	EventStartEditing    = "START_EDITING"
	EventComplete        = "COMPLETE"
	EventFail            = "FAIL"
)

// NewJob validates input and builds a job in QUEUED. The returned job is
// not persisted; callers write it through JobRepository.Create.
func NewJob(userID, prompt, locale string, settingsJSON []byte, batchJobID string, ids infra.IDGenerator, clock infra.Clock) (domain.Job, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Job{}, domain.NewValidationError("userId", "is required")
	}
	now := clock.Now()
	return domain.Job{
		ID:           ids.NewID(),
		UserID:       userID,
		Status:       domain.JobStatusQueued,
		Prompt:       strings.TrimSpace(prompt),
		Locale:       strings.TrimSpace(locale),
		SettingsJSON: settingsJSON,
		BatchJobID:   batchJobID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NewBatchJob validates input and builds a batch with a zero completed
// count.
func NewBatchJob(userID, sharedPrompt string, itemPrompts []string, totalCount int, ids infra.IDGenerator, clock infra.Clock) (domain.BatchJob, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.BatchJob{}, domain.NewValidationError("userId", "is required")
	}
	if strings.TrimSpace(sharedPrompt) == "" {
		return domain.BatchJob{}, domain.NewValidationError("sharedPrompt", "is required")
	}
	if totalCount <= 0 {
		return domain.BatchJob{}, domain.NewValidationError("totalCount", "must be greater than zero")
	}
	now := clock.Now()
	return domain.BatchJob{
		ID:             ids.NewID(),
		UserID:         userID,
		Status:         domain.JobStatusQueued,
		TotalCount:     totalCount,
		CompletedCount: 0,
		SharedPrompt:   strings.TrimSpace(sharedPrompt),
		ItemPrompts:    itemPrompts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// StartProcessing applies START_PROCESSING. Valid only from QUEUED.
func StartProcessing(job domain.Job, tempKey string, clock infra.Clock) (domain.Job, error) {
	if job.Status != domain.JobStatusQueued {
		return job, &domain.InvalidTransitionError{CurrentState: job.Status, Event: EventStartProcessing}
	}
	if strings.TrimSpace(tempKey) == "" {
		return job, domain.NewValidationError("tempStorageKey", "is required")
	}
	job.Status = domain.JobStatusProcessing
	job.TempStorageKey = tempKey
	job.UpdatedAt = clock.Now()
	return job, nil
}

// StartEditing applies START_EDITING. Valid only from PROCESSING.
func StartEditing(job domain.Job, clock infra.Clock) (domain.Job, error) {
	if job.Status != domain.JobStatusProcessing {
		return job, &domain.InvalidTransitionError{CurrentState: job.Status, Event: EventStartEditing}
	}
	job.Status = domain.JobStatusEditing
	job.UpdatedAt = clock.Now()
	return job, nil
}

// Complete applies COMPLETE. Valid only from EDITING.
func Complete(job domain.Job, finalKey string, clock infra.Clock) (domain.Job, error) {
	if job.Status != domain.JobStatusEditing {
		return job, &domain.InvalidTransitionError{CurrentState: job.Status, Event: EventComplete}
	}
	if strings.TrimSpace(finalKey) == "" {
		return job, domain.NewValidationError("finalStorageKey", "is required")
	}
	job.Status = domain.JobStatusCompleted
	job.FinalStorageKey = finalKey
	job.UpdatedAt = clock.Now()
	return job, nil
}

// Fail applies FAIL. Valid from any non-terminal state; failing an already
// terminal job is an InvalidTransitionError rather than a no-op so that
// double-processing surfaces instead of being absorbed.
func Fail(job domain.Job, reason string, clock infra.Clock) (domain.Job, error) {
	if job.Status.Terminal() {
		return job, &domain.InvalidTransitionError{CurrentState: job.Status, Event: EventFail}
	}
	if strings.TrimSpace(reason) == "" {
		reason = "unknown error"
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = reason
	job.UpdatedAt = clock.Now()
	return job, nil
}
