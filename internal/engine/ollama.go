package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const ollamaProvider = "ollama"

// ollamaTimeout is longer than the hosted default: a local model can take
// a while to load on first use.
const ollamaTimeout = 120 * time.Second

// OllamaClient implements ModelClient using a local Ollama server.
type OllamaClient struct {
	cfg clientConfig
}

// NewOllamaClient creates a client for the Ollama server at baseURL
// (default http://localhost:11434).
func NewOllamaClient(baseURL string, opts ...ClientOption) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	opts = append([]ClientOption{
		WithBaseURL(baseURL),
		WithHTTPClient(&http.Client{Timeout: ollamaTimeout}),
	}, opts...)
	return &OllamaClient{cfg: newClientConfig("", "llama3", baseURL, opts)}
}

type ollamaRequest struct {
	Model   string `json:"model"`
	System  string `json:"system,omitempty"`
	Prompt  string `json:"prompt"`
	Stream  bool   `json:"stream"`
	Format  string `json:"format"`
	Options struct {
		Temperature float64 `json:"temperature"`
		NumPredict  int     `json:"num_predict"`
	} `json:"options"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Complete runs a non-streaming generation in JSON mode.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	body := ollamaRequest{
		Model:  c.cfg.model,
		System: c.cfg.system,
		Prompt: prompt,
		Format: "json",
	}
	body.Options.Temperature = c.cfg.temperature
	body.Options.NumPredict = c.cfg.maxTokens

	var resp ollamaResponse
	if err := postJSON(ctx, c.cfg.httpClient, ollamaProvider, c.cfg.baseURL+"/api/generate", nil, body, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &ProviderError{Provider: ollamaProvider, Err: fmt.Errorf("api error: %s", resp.Error)}
	}
	return resp.Response, nil
}
