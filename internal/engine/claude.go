package engine

import (
	"context"
	"fmt"
)

const (
	claudeProvider   = "claude"
	claudeAPIVersion = "2023-06-01"
)

// ClaudeClient implements ModelClient using the Anthropic Messages API.
type ClaudeClient struct {
	cfg clientConfig
}

// NewClaudeClient creates a new Anthropic Claude model client.
func NewClaudeClient(apiKey string, opts ...ClientOption) *ClaudeClient {
	return &ClaudeClient{cfg: newClientConfig(apiKey, "claude-sonnet-4-20250514", "https://api.anthropic.com/v1", opts)}
}

type claudeRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt to the Messages API and returns the first text block.
func (c *ClaudeClient) Complete(ctx context.Context, prompt string) (string, error) {
	body := claudeRequest{
		Model:       c.cfg.model,
		System:      c.cfg.system,
		MaxTokens:   c.cfg.maxTokens,
		Temperature: c.cfg.temperature,
		Messages:    []claudeMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         c.cfg.apiKey,
		"anthropic-version": claudeAPIVersion,
	}

	var resp claudeResponse
	if err := postJSON(ctx, c.cfg.httpClient, claudeProvider, c.cfg.baseURL+"/messages", headers, body, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		// overloaded_error arrives with a 529 and is already classified
		// by postJSON; an error body on a 200 is not worth retrying.
		return "", &ProviderError{Provider: claudeProvider, Err: fmt.Errorf("%s: %s", resp.Error.Type, resp.Error.Message)}
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("%s: %w: no text block (stop reason %q)", claudeProvider, ErrMalformedResponse, resp.StopReason)
}
