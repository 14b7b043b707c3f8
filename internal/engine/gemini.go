package engine

import (
	"context"
	"fmt"
)

const geminiProvider = "gemini"

// GeminiClient implements ModelClient using the Google Generative AI REST API.
type GeminiClient struct {
	cfg clientConfig
}

// NewGeminiClient creates a new Google Gemini model client.
func NewGeminiClient(apiKey string, opts ...ClientOption) *GeminiClient {
	return &GeminiClient{cfg: newClientConfig(apiKey, "gemini-2.0-flash", "https://generativelanguage.googleapis.com/v1beta", opts)}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature      float64 `json:"temperature"`
		MaxOutputTokens  int     `json:"maxOutputTokens"`
		ResponseMIMEType string  `json:"responseMimeType"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt to generateContent and returns the first candidate's text.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	var body geminiRequest
	if c.cfg.system != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: c.cfg.system}}}
	}
	body.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}
	body.GenerationConfig.Temperature = c.cfg.temperature
	body.GenerationConfig.MaxOutputTokens = c.cfg.maxTokens
	body.GenerationConfig.ResponseMIMEType = "application/json"

	url := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.baseURL, c.cfg.model)
	headers := map[string]string{"x-goog-api-key": c.cfg.apiKey}

	var resp geminiResponse
	if err := postJSON(ctx, c.cfg.httpClient, geminiProvider, url, headers, body, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", newStatusError(geminiProvider, resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%s: %w: no candidates", geminiProvider, ErrMalformedResponse)
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
