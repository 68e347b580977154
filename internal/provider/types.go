// Package provider wraps the remote analysis and editing services behind a
// uniform resilience envelope. Concrete providers are plain implementations
// of small role interfaces; retry, timeout and disable policy live in the
// Gateway decorator rather than in a shared base type.
package provider

import "context"

// AnalysisRequest is the outbound contract of the analysis role.
type AnalysisRequest struct {
	ImageURL string `json:"imageUrl"`
	Prompt   string `json:"prompt"`
}

// EditRequest is the outbound contract of the editing role.
type EditRequest struct {
	ImageURL            string `json:"imageUrl"`
	Analysis            string `json:"analysis"`
	EditingInstructions string `json:"editingInstructions"`
}

// EditResult references the edited image. Remote providers return a URL;
// deterministic providers may return the bytes inline.
type EditResult struct {
	ResultURL string
	Data      []byte
}

// AnalysisProvider produces free-text analysis for an image.
type AnalysisProvider interface {
	Name() string
	Analyze(ctx context.Context, req AnalysisRequest) (string, error)
	Ping(ctx context.Context) error
}

// EditingProvider applies editing instructions to an image.
type EditingProvider interface {
	Name() string
	Edit(ctx context.Context, req EditRequest) (EditResult, error)
	Ping(ctx context.Context) error
}

// Fetcher retrieves image bytes referenced by a provider result.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
