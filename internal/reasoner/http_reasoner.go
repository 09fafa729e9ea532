package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPReasoner is the default backing service for Reasoner: a chat-
// completions-style endpoint reached over HTTP with bearer auth. Built on
// an http.Client with a fixed timeout, JSON request/response, bearer
// Authorization header, bounded-read response body, and retry-with-backoff
// on 429/transient failure, trimmed to the single role-scoped Complete
// call Hydra's Reasoner interface needs.
type HTTPReasoner struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int
}

// NewHTTPReasoner builds an HTTPReasoner. apiKey and baseURL empty means
// Available() reports false, degrading every LLM-backed stage off rather
// than failing the process at construction time.
func NewHTTPReasoner(apiKey, baseURL string) *HTTPReasoner {
	return &HTTPReasoner{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      "anthropic/claude-3.5-sonnet",
		httpClient: &http.Client{Timeout: 90 * time.Second},
		maxRetries: 3,
	}
}

func (r *HTTPReasoner) Available() bool {
	return r.apiKey != "" && r.baseURL != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends prompt under role as a system-message-scoped chat
// completion and returns the model's raw text.
func (r *HTTPReasoner) Complete(ctx context.Context, role, prompt string) (string, error) {
	if !r.Available() {
		return "", ErrUnavailable
	}

	reqBody := chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf("You are Hydra's %s reasoning role.", role)},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   4096,
		Temperature: 0.1,
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, retryable, err := r.attempt(ctx, reqBody)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", fmt.Errorf("reasoner: max retries exceeded: %w", lastErr)
}

func (r *HTTPReasoner) attempt(ctx context.Context, reqBody chatRequest) (text string, retryable bool, err error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, fmt.Errorf("reasoner: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("reasoner: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("reasoner: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", true, fmt.Errorf("reasoner: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", true, fmt.Errorf("reasoner: rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("reasoner: request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, fmt.Errorf("reasoner: parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("reasoner: api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("reasoner: no completion returned")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), false, nil
}

var _ Reasoner = (*HTTPReasoner)(nil)
