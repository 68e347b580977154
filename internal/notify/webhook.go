// Package notify implements the notification dispatch port. The core only
// depends on domain.NotificationDispatcher; this package supplies a webhook
// transport for deployments and a no-op dispatcher for local runs.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

// WebhookDispatcher POSTs notification payloads as JSON to a configured
// endpoint.
type WebhookDispatcher struct {
	endpoint   string
	httpClient *http.Client
	logger     infra.Logger
}

// NewWebhookDispatcher validates the endpoint up front so a misconfigured
// deployment fails at startup, not on the first completed job.
func NewWebhookDispatcher(endpoint string, httpClient *http.Client, logger infra.Logger) (*WebhookDispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("notify: endpoint is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("notify: invalid endpoint %q", endpoint)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookDispatcher{endpoint: endpoint, httpClient: httpClient, logger: logger}, nil
}

// Dispatch sends one notification.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: status %d", resp.StatusCode)
	}
	d.logger.Debug().Str("job_id", n.JobID).Str("status", string(n.Status)).Msg("notify: dispatched")
	return nil
}

var _ domain.NotificationDispatcher = (*WebhookDispatcher)(nil)

// NopDispatcher logs the notification and drops it.
type NopDispatcher struct {
	Logger infra.Logger
}

func (d NopDispatcher) Dispatch(ctx context.Context, n domain.Notification) error {
	d.Logger.Info().
		Str("job_id", n.JobID).
		Str("user_id", n.UserID).
		Str("status", string(n.Status)).
		Msg("notify: " + n.Message)
	return nil
}

var _ domain.NotificationDispatcher = NopDispatcher{}
