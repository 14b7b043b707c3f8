package engine

import (
	"context"

	"github.com/yangwenmai/copydeck/internal/model"
)

// ModelClient abstracts LLM calls. Implementations wrap OpenAI, Claude,
// Gemini, Ollama or a stub.
type ModelClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Prompt is what a stage asks of the provider. The system instruction is
// not part of it: each ModelClient sends its own (see WithSystemPrompt).
type Prompt struct {
	Stage model.StageID
	User  string
}

// Completion is a parsed provider reply.
type Completion struct {
	Text    string              `json:"text"`
	Items   []model.PayloadItem `json:"items"`
	Sources []model.Citation    `json:"sources"`
}

// Provider turns a stage prompt into structured content.
type Provider interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (*Completion, error)
}

// ContentExtractor abstracts web content extraction.
type ContentExtractor interface {
	Extract(ctx context.Context, url string) (*ExtractedContent, error)
}

// ExtractedContent holds the result of content extraction.
type ExtractedContent struct {
	URL            string      `json:"url"`
	Title          string      `json:"title"`
	NormalizedText string      `json:"normalized_text"`
	Meta           ContentMeta `json:"content_meta"`
}

// ContentMeta holds metadata about the extracted content.
type ContentMeta struct {
	Author      string   `json:"author,omitempty"`
	PublishDate string   `json:"publish_date,omitempty"`
	SiteName    string   `json:"site_name,omitempty"`
	Description string   `json:"description,omitempty"`
	Canonical   string   `json:"canonical,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	WordCount   int      `json:"word_count"`
}
