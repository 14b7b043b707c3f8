package engine

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const openAIProvider = "openai"

// OpenAIClient implements ModelClient using the OpenAI Chat Completions API.
// It also works with any OpenAI-compatible service by setting a custom base URL.
type OpenAIClient struct {
	cfg    clientConfig
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI model client.
func NewOpenAIClient(apiKey string, opts ...ClientOption) *OpenAIClient {
	cfg := newClientConfig(apiKey, openai.GPT4oMini, "https://api.openai.com/v1", opts)
	oc := openai.DefaultConfig(cfg.apiKey)
	oc.BaseURL = cfg.baseURL
	oc.HTTPClient = cfg.httpClient
	return &OpenAIClient{cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

// Complete sends a prompt and returns the assistant's response text.
// Retries are left to the caller.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.cfg.model,
		Temperature: float32(c.cfg.temperature),
		MaxTokens:   c.cfg.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.cfg.system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w: no choices in response", openAIProvider, ErrMalformedResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := newStatusError(openAIProvider, apiErr.HTTPStatusCode, apiErr.Message)
		pe.Err = err
		return pe
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		pe := newStatusError(openAIProvider, reqErr.HTTPStatusCode, reqErr.Error())
		pe.Err = err
		return pe
	}
	return &ProviderError{Provider: openAIProvider, Transient: IsTransient(err), Err: err}
}
