package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Provider names accepted by the registry.
const (
	NameGemini = "gemini"
	NameQwen   = "qwen"
	NameStub   = "stub"
)

// RegistryConfig selects and configures the concrete providers for the two
// roles.
type RegistryConfig struct {
	AnalysisProvider string
	EditingProvider  string

	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	QwenAPIKey  string
	QwenBaseURL string
	QwenModel   string

	HTTPClient *http.Client
}

// Registry binds the analysis and editing roles to concrete providers
// chosen by name. It is an explicit dependency constructed once and passed
// into the pipeline; there is no process-level singleton, so tests build
// isolated instances.
type Registry struct {
	analysis AnalysisProvider
	editing  EditingProvider
}

// NewRegistry resolves both roles. An unknown provider name is a
// construction error.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	var analysis AnalysisProvider
	switch cfg.AnalysisProvider {
	case NameGemini:
		analysis = NewGeminiAnalyzer(GeminiOptions{
			APIKey:     cfg.GeminiAPIKey,
			BaseURL:    cfg.GeminiBaseURL,
			Model:      cfg.GeminiModel,
			HTTPClient: httpClient,
		})
	case NameStub, "":
		analysis = NewStubProvider()
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.AnalysisProvider)
	}

	var editing EditingProvider
	switch cfg.EditingProvider {
	case NameQwen:
		editing = NewQwenEditor(QwenOptions{
			APIKey:     cfg.QwenAPIKey,
			BaseURL:    cfg.QwenBaseURL,
			Model:      cfg.QwenModel,
			HTTPClient: httpClient,
		})
	case NameStub, "":
		editing = NewStubProvider()
	default:
		return nil, fmt.Errorf("unknown editing provider %q", cfg.EditingProvider)
	}

	return &Registry{analysis: analysis, editing: editing}, nil
}

// NewRegistryWithProviders binds pre-built providers directly. Used by
// tests and by callers that construct providers themselves.
func NewRegistryWithProviders(analysis AnalysisProvider, editing EditingProvider) *Registry {
	return &Registry{analysis: analysis, editing: editing}
}

// Analysis returns the bound analysis provider. Calling it on a registry
// that was not built through NewRegistry is a programming error.
func (r *Registry) Analysis() AnalysisProvider {
	if r == nil || r.analysis == nil {
		panic("provider: registry used before construction")
	}
	return r.analysis
}

// Editing returns the bound editing provider.
func (r *Registry) Editing() EditingProvider {
	if r == nil || r.editing == nil {
		panic("provider: registry used before construction")
	}
	return r.editing
}

// Health reports per-role reachability.
type Health struct {
	Analysis bool
	Editing  bool
}

// HealthCheck pings both providers concurrently. A provider that errors or
// panics is reported unhealthy, never propagated.
func (r *Registry) HealthCheck(ctx context.Context) Health {
	var health Health
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		health.Analysis = ping(ctx, r.Analysis().Ping)
	}()
	go func() {
		defer wg.Done()
		health.Editing = ping(ctx, r.Editing().Ping)
	}()
	wg.Wait()
	return health
}

func ping(ctx context.Context, fn func(context.Context) error) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return fn(ctx) == nil
}
