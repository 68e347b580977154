package lifecycle

import "server/internal/domain"

// BatchProgress is the result of advancing a batch's completed count.
type BatchProgress struct {
	CompletedCount int
	Status         domain.JobStatus
}

// AdvanceBatch computes the new completed count and resulting aggregate
// status for one increment. An increment that would push the count past
// the total is rejected as a validation error; duplicate completion
// signals must not silently corrupt the aggregate.
func AdvanceBatch(completedCount, totalCount, increment int) (BatchProgress, error) {
	if totalCount <= 0 {
		return BatchProgress{}, domain.NewValidationError("totalCount", "must be greater than zero")
	}
	if increment <= 0 {
		increment = 1
	}
	if completedCount < 0 || completedCount > totalCount {
		return BatchProgress{}, domain.NewValidationError("completedCount", "out of range")
	}
	next := completedCount + increment
	if next > totalCount {
		return BatchProgress{}, domain.NewValidationError("completedCount", "increment exceeds total count")
	}
	status := domain.JobStatusProcessing
	if next >= totalCount {
		status = domain.JobStatusCompleted
	}
	return BatchProgress{CompletedCount: next, Status: status}, nil
}
