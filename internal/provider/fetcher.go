package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxFetchBytes bounds a single fetched artifact.
const maxFetchBytes = 32 << 20

// HTTPFetcher downloads provider result artifacts over HTTP.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds a fetcher; a nil client gets a timeout-bounded
// default.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPFetcher{client: client}
}

// Fetch downloads the referenced bytes.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch: status %d for %s", resp.StatusCode, url)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	if len(data) > maxFetchBytes {
		return nil, fmt.Errorf("fetch: artifact exceeds %d bytes", maxFetchBytes)
	}
	return data, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)
