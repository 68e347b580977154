package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrValidation        = errors.New("validation")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrProviderFailure   = errors.New("provider failure")
	ErrInternal          = errors.New("internal")
)

// ValidationError reports rejected input to a constructor or pure
// transition. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError reports a lifecycle event applied in a state whose
// guards do not admit it. It carries the state and event so duplicate
// deliveries and sequencing bugs surface with context.
type InvalidTransitionError struct {
	CurrentState JobStatus
	Event        string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: event %s not allowed in state %s", e.Event, e.CurrentState)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ProviderError reports a remote provider call that failed after the
// gateway exhausted its retries. The Retryable flag is interpreted by the
// caller, never by the gateway itself.
type ProviderError struct {
	Provider  string
	Retryable bool
	Cause     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Cause)
}

func (e *ProviderError) Is(target error) bool { return target == ErrProviderFailure }

func (e *ProviderError) Unwrap() error { return e.Cause }
