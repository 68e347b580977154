package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job records. Writes are
// conditional: Create fails with ErrConflict when the id already exists,
// and UpdateFromStatus applies only when the stored record is still in the
// expected prior state (ErrConflict otherwise). That conditional contract
// is the idempotency boundary for duplicate queue deliveries.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	UpdateFromStatus(ctx context.Context, expected JobStatus, job *Job) error
}

// BatchRepository defines persistence for batch records with the same
// conditional-write contract; AdvanceProgress applies only when the stored
// completed count still matches the count the caller read.
type BatchRepository interface {
	Create(ctx context.Context, batch *BatchJob) error
	GetByID(ctx context.Context, batchID string) (*BatchJob, error)
	AdvanceProgress(ctx context.Context, expectedCompleted int, batch *BatchJob) error
}

// ObjectStore abstracts the bucket holding image bytes.
type ObjectStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte, contentType string) error
	Copy(ctx context.Context, srcKey, dstKey string) error
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Notification is the user-facing payload fanned out when a job or batch
// reaches a terminal state. Batch completions put the batch id in JobID.
type Notification struct {
	JobID     string         `json:"jobId"`
	UserID    string         `json:"userId"`
	Status    JobStatus      `json:"status"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NotificationDispatcher fans a notification out to the user. Implemented
// elsewhere; the core only depends on this port.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}
