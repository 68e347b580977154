package provider

import (
	"time"
)

// Outcome is the uniform envelope produced by every gateway invocation.
// It is built fresh per call and never mutated afterwards; failures are
// captured in the envelope instead of surfacing as Go errors.
type Outcome struct {
	Success   bool
	Payload   any
	Elapsed   time.Duration
	Provider  string
	Timestamp string
	Error     string
}

func successOutcome(provider string, payload any, elapsed time.Duration, at time.Time) Outcome {
	return Outcome{
		Success:   true,
		Payload:   payload,
		Elapsed:   elapsed,
		Provider:  provider,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

func failureOutcome(provider, errMsg string, elapsed time.Duration, at time.Time) Outcome {
	return Outcome{
		Success:   false,
		Elapsed:   elapsed,
		Provider:  provider,
		Timestamp: at.UTC().Format(time.RFC3339),
		Error:     errMsg,
	}
}
