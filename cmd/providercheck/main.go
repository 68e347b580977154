// Command providercheck verifies that the configured analysis and editing
// providers are reachable with the supplied credentials. It is meant for
// deploy-time smoke checks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"server/internal/provider"
)

func main() {
	var timeoutFlag time.Duration
	flag.DurationVar(&timeoutFlag, "timeout", 10*time.Second, "overall ping timeout")
	flag.Parse()

	_ = godotenv.Load()

	// The database requirement does not apply here; read the provider
	// settings straight from the environment.
	cfg := provider.RegistryConfig{
		AnalysisProvider: envOr("ANALYSIS_PROVIDER", provider.NameGemini),
		EditingProvider:  envOr("EDITING_PROVIDER", provider.NameQwen),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:    os.Getenv("GEMINI_BASE_URL"),
		GeminiModel:      os.Getenv("GEMINI_MODEL"),
		QwenAPIKey:       os.Getenv("QWEN_API_KEY"),
		QwenBaseURL:      os.Getenv("QWEN_BASE_URL"),
		QwenModel:        os.Getenv("QWEN_MODEL"),
	}

	registry, err := provider.NewRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "providercheck: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	defer cancel()

	health := registry.HealthCheck(ctx)
	fmt.Printf("analysis (%s): %s\n", registry.Analysis().Name(), verdict(health.Analysis))
	fmt.Printf("editing  (%s): %s\n", registry.Editing().Name(), verdict(health.Editing))
	if !health.Analysis || !health.Editing {
		os.Exit(1)
	}
}

func verdict(ok bool) string {
	if ok {
		return "ok"
	}
	return "unreachable"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
