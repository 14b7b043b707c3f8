package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yangwenmai/copydeck/internal/model"
)

// LLMProvider adapts a ModelClient to Provider: it renders the prompt,
// calls the model and parses the JSON reply.
type LLMProvider struct {
	name   string
	client ModelClient
}

// NewLLMProvider wraps client under name (used in logs and errors).
func NewLLMProvider(name string, client ModelClient) *LLMProvider {
	return &LLMProvider{name: name, client: client}
}

// Name implements Provider.
func (p *LLMProvider) Name() string { return p.name }

// Generate implements Provider.
func (p *LLMProvider) Generate(ctx context.Context, prompt Prompt) (*Completion, error) {
	raw, err := p.client.Complete(ctx, prompt.User)
	if err != nil {
		return nil, err
	}
	c, err := ParseCompletion(raw)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", p.name, prompt.Stage, err)
	}
	return c, nil
}

type replyItem struct {
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Sources    []string `json:"sources"`
	SourceURLs []string `json:"source_urls"`
}

type replySource struct {
	URI   string `json:"uri"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

type reply struct {
	Text    *string       `json:"text"`
	Items   []replyItem   `json:"items"`
	Sources []replySource `json:"sources"`
}

// ParseCompletion decodes a model reply of the form
// {"text": "...", "items": [{"title","body","sources"}], "sources": [{"uri","title"}]}.
// Markdown code fences around the JSON are tolerated. A reply with neither
// text nor items is malformed.
func ParseCompletion(raw string) (*Completion, error) {
	body := stripFences(raw)
	var r reply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if (r.Text == nil || strings.TrimSpace(*r.Text) == "") && len(r.Items) == 0 {
		return nil, fmt.Errorf("%w: no text or items", ErrMalformedResponse)
	}

	c := &Completion{Items: []model.PayloadItem{}, Sources: []model.Citation{}}
	if r.Text != nil {
		c.Text = strings.TrimSpace(*r.Text)
	}
	for _, it := range r.Items {
		if strings.TrimSpace(it.Title) == "" && strings.TrimSpace(it.Body) == "" {
			continue
		}
		c.Items = append(c.Items, model.PayloadItem{
			Title:      strings.TrimSpace(it.Title),
			Body:       strings.TrimSpace(it.Body),
			SourceURLs: nonEmpty(append(it.Sources, it.SourceURLs...)),
		})
	}
	for _, s := range r.Sources {
		uri := s.URI
		if uri == "" {
			uri = s.URL
		}
		if strings.TrimSpace(uri) == "" {
			continue
		}
		c.Sources = append(c.Sources, model.Citation{URI: strings.TrimSpace(uri), Title: strings.TrimSpace(s.Title)})
	}
	return c, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
