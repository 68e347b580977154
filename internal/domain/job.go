package domain

import "time"

// JobStatus enumerates job lifecycle states. The literal values are the
// wire/storage representation and must not change.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusEditing    JobStatus = "EDITING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the five known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusEditing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Job encapsulates the lifecycle of one user image submission.
type Job struct {
	ID              string
	UserID          string
	Status          JobStatus
	Prompt          string
	Locale          string
	SettingsJSON    []byte
	TempStorageKey  string
	FinalStorageKey string
	BatchJobID      string
	ErrorMessage    string
	// ExpiresAt feeds the store's retention sweep; the core never
	// interprets it.
	ExpiresAt int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BatchJob groups several jobs submitted together and tracks aggregate
// completion.
type BatchJob struct {
	ID             string
	UserID         string
	Status         JobStatus
	TotalCount     int
	CompletedCount int
	SharedPrompt   string
	ItemPrompts    []string
	ChildJobIDs    []string
	ExpiresAt      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
