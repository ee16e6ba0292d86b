package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domainai "github.com/hybridsec/hybridscan/internal/domain/ai"
	"github.com/hybridsec/hybridscan/internal/domain/findings"
	"github.com/hybridsec/hybridscan/internal/domain/scans"
	"github.com/hybridsec/hybridscan/internal/infra/ai/prompt"
)

const defaultHost = "http://localhost:11434"

const maxTokens = 2048

// Client talks to a local Ollama (or any OpenAI-compatible) chat endpoint.
// No API key is required by default.
type Client struct {
	model   string
	baseURL string
	client  *http.Client
}

func NewClient(host, model string, timeout time.Duration) *Client {
	if host == "" {
		host = defaultHost
	}
	// Normalize URL: strip trailing /, /v1, /v1/chat/completions
	host = strings.TrimRight(host, "/")
	host = strings.TrimSuffix(host, "/v1/chat/completions")
	host = strings.TrimSuffix(host, "/v1")

	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		model:   model,
		baseURL: host + "/v1/chat/completions",
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return "ollama" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Detect(ctx context.Context, src scans.Source) ([]findings.Finding, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.GetSystemPrompt()},
			{Role: "user", Content: prompt.GetUserPrompt(src)},
		},
		MaxTokens: maxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var content string
	err = retryWithBackoff(ctx, 3, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("%w: %v", domainai.ErrUnavailable, err)
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		switch {
		case httpResp.StatusCode == http.StatusTooManyRequests:
			return &retryableError{err: domainai.ErrQuotaExceeded}
		case httpResp.StatusCode >= 500:
			return &retryableError{err: fmt.Errorf("%w: server error (status %d)", domainai.ErrUnavailable, httpResp.StatusCode)}
		case httpResp.StatusCode != http.StatusOK:
			return fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
		}

		var result chatResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
		if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
			return fmt.Errorf("empty content in response")
		}
		content = result.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, err
	}

	return prompt.ParseFindings(content)
}
