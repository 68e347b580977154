package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// StubProvider is a deterministic in-process implementation of both roles.
// It keeps workers fully operational in local and CI environments where no
// remote credentials exist, and gives tests a predictable provider.
type StubProvider struct{}

// NewStubProvider returns the deterministic provider.
func NewStubProvider() *StubProvider {
	return &StubProvider{}
}

func (s *StubProvider) Name() string { return NameStub }

// Analyze derives a stable analysis text from the request inputs.
func (s *StubProvider) Analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Synthetic analysis %s for prompt %q.", digest(req.ImageURL, req.Prompt), strings.TrimSpace(req.Prompt)), nil
}

// Edit returns a stable PNG payload derived from the request inputs.
func (s *StubProvider) Edit(ctx context.Context, req EditRequest) (EditResult, error) {
	if err := ctx.Err(); err != nil {
		return EditResult{}, err
	}
	tag := digest(req.ImageURL, req.Analysis, req.EditingInstructions)
	return EditResult{
		ResultURL: fmt.Sprintf("stub://edited/%s.png", tag),
		Data:      []byte("stub-edited-image:" + tag),
	}, nil
}

func (s *StubProvider) Ping(ctx context.Context) error { return ctx.Err() }

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:6])
}

var (
	_ AnalysisProvider = (*StubProvider)(nil)
	_ EditingProvider  = (*StubProvider)(nil)
)
