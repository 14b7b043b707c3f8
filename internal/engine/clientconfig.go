package engine

import (
	"net/http"
	"strings"
)

// Generation defaults shared by every model client.
const (
	defaultTemperature  = 0.3
	defaultMaxTokens    = 4096
	defaultSystemPrompt = "You are a careful marketing copywriter. Never invent statistics, studies, awards, customer counts or endorsements. Only cite URLs you actually used. Reply with JSON only."
)

// clientConfig is the connection and sampling setup of a model client.
type clientConfig struct {
	apiKey      string
	model       string
	baseURL     string
	system      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// ClientOption configures a model client. The same options apply to every
// backend; a backend ignores the ones it has no use for.
type ClientOption func(*clientConfig)

// WithModel sets the model name.
func WithModel(model string) ClientOption {
	return func(c *clientConfig) { c.model = model }
}

// WithBaseURL overrides the API endpoint. A trailing slash is dropped.
func WithBaseURL(url string) ClientOption {
	return func(c *clientConfig) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the HTTP client (and with it the call timeout).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithSystemPrompt sets the instruction sent ahead of every prompt.
func WithSystemPrompt(s string) ClientOption {
	return func(c *clientConfig) { c.system = s }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ClientOption {
	return func(c *clientConfig) { c.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) ClientOption {
	return func(c *clientConfig) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// newClientConfig applies opts over the backend's endpoint and model defaults.
func newClientConfig(apiKey, model, baseURL string, opts []ClientOption) clientConfig {
	c := clientConfig{
		apiKey:      apiKey,
		model:       model,
		baseURL:     baseURL,
		system:      defaultSystemPrompt,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
