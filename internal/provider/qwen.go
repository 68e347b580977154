package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrMissingQwenAPIKey indicates the editor was configured without
// credentials.
var ErrMissingQwenAPIKey = errors.New("qwen: api key is required")

// QwenOptions configures the DashScope Qwen image editor.
type QwenOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// QwenEditor calls the DashScope image-edit API and returns a reference to
// the edited image.
type QwenEditor struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewQwenEditor constructs an editor with sane defaults.
func NewQwenEditor(opts QwenOptions) *QwenEditor {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 45 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "qwen-image-edit"
	}
	return &QwenEditor{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
	}
}

func (q *QwenEditor) Name() string { return NameQwen }

type qwenEditRequest struct {
	Model string        `json:"model"`
	Input qwenEditInput `json:"input"`
}

type qwenEditInput struct {
	Messages []qwenMessage `json:"messages"`
}

type qwenMessage struct {
	Role    string        `json:"role"`
	Content []qwenContent `json:"content"`
}

type qwenContent struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type qwenEditResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Edit performs one image-edit call. The editing instructions and the
// upstream analysis are concatenated into the user turn.
func (q *QwenEditor) Edit(ctx context.Context, req EditRequest) (EditResult, error) {
	if q.apiKey == "" {
		return EditResult{}, ErrMissingQwenAPIKey
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		return EditResult{}, errors.New("qwen: image url is required")
	}
	instructions := strings.TrimSpace(req.EditingInstructions)
	if instructions == "" {
		return EditResult{}, errors.New("qwen: editing instructions are required")
	}
	text := instructions
	if analysis := strings.TrimSpace(req.Analysis); analysis != "" {
		text = fmt.Sprintf("%s\n\nImage analysis:\n%s", instructions, analysis)
	}

	payload := qwenEditRequest{
		Model: q.model,
		Input: qwenEditInput{
			Messages: []qwenMessage{{
				Role: "user",
				Content: []qwenContent{
					{Image: req.ImageURL},
					{Text: text},
				},
			}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return EditResult{}, fmt.Errorf("qwen: encode request: %w", err)
	}

	endpoint := q.baseURL + "/services/aigc/multimodal-generation/generation"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return EditResult{}, fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+q.apiKey)

	resp, err := q.httpClient.Do(httpReq)
	if err != nil {
		return EditResult{}, fmt.Errorf("qwen: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return EditResult{}, fmt.Errorf("qwen: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return EditResult{}, fmt.Errorf("qwen: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded qwenEditResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return EditResult{}, fmt.Errorf("qwen: decode response: %w", err)
	}
	if decoded.Code != "" {
		return EditResult{}, fmt.Errorf("qwen: %s (%s)", decoded.Message, decoded.Code)
	}
	for _, choice := range decoded.Output.Choices {
		for _, content := range choice.Message.Content {
			if content.Image != "" {
				return EditResult{ResultURL: content.Image}, nil
			}
		}
	}
	return EditResult{}, errors.New("qwen: empty edited image reference")
}

// Ping issues a minimal request to verify credentials are accepted.
func (q *QwenEditor) Ping(ctx context.Context) error {
	if q.apiKey == "" {
		return ErrMissingQwenAPIKey
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+q.apiKey)
	resp, err := q.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("qwen: status %d", resp.StatusCode)
	}
	return nil
}

var _ EditingProvider = (*QwenEditor)(nil)
