package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/yangwenmai/copydeck/internal/model"
)

// StubExtractor returns canned extraction results (for development/testing).
type StubExtractor struct{}

func (e *StubExtractor) Extract(_ context.Context, url string) (*ExtractedContent, error) {
	return &ExtractedContent{
		URL:            url,
		Title:          "Product page",
		NormalizedText: "This is a stub product page at " + url + ". It lists dimensions, materials, care instructions and what is in the box.",
		Meta:           ContentMeta{SiteName: "Stub Store", WordCount: 24},
	}, nil
}

// StubModelClient returns deterministic stage replies (for development/testing).
// It recognizes the stage from the prompt header.
type StubModelClient struct{}

func (m *StubModelClient) Complete(_ context.Context, prompt string) (string, error) {
	stage, product := parseStubPrompt(prompt)
	var c Completion
	switch stage {
	case model.StageUSPs:
		c.Items = []model.PayloadItem{
			{Title: "Fast to boil", Body: product + " heats a full jug quickly.", SourceURLs: []string{"https://www.which.co.uk/reviews/kettles"}},
			{Title: "Easy to clean", Body: "A wide lid opening makes descaling simple."},
			{Title: "Quiet operation", Body: "Designed to stay quiet while it works."},
		}
	case model.StageKeywords:
		for _, k := range []string{"electric kettle", "fast boil kettle", "quiet kettle", "stainless steel kettle"} {
			c.Items = append(c.Items, model.PayloadItem{Title: k})
		}
	case model.StageDescription:
		c.Text = product + " is built for everyday use. It boils quickly, stays quiet and is easy to keep clean."
		c.Sources = []model.Citation{{URI: "https://www.which.co.uk/reviews/kettles", Title: "Kettle reviews"}}
	case model.StageFAQ:
		c.Items = []model.PayloadItem{
			{Title: "How much water does it hold?", Body: "See the product page for the exact capacity."},
			{Title: "Is it dishwasher safe?", Body: "No. Wipe the outside with a damp cloth."},
		}
	case model.StageChapters:
		c.Items = []model.PayloadItem{
			{Title: "Unboxing", Body: "What comes in the box."},
			{Title: "First use", Body: "Rinsing and the first boil."},
			{Title: "Cleaning", Body: "Descaling and care."},
		}
	case model.StageHashtags:
		for _, h := range []string{"#kitchen", "#kettle", "#homeessentials"} {
			c.Items = append(c.Items, model.PayloadItem{Title: h})
		}
	default:
		return "{}", nil
	}
	b, _ := json.Marshal(c)
	return string(b), nil
}

func parseStubPrompt(prompt string) (model.StageID, string) {
	var stage model.StageID
	product := "This product"
	for _, line := range strings.Split(prompt, "\n") {
		if v, ok := strings.CutPrefix(line, stagePromptMarker); ok {
			stage = model.StageID(strings.TrimSpace(v))
		}
		if v, ok := strings.CutPrefix(line, "Product: "); ok {
			product = strings.TrimSpace(v)
		}
	}
	return stage, product
}

// NewStubProvider returns a Provider backed by StubModelClient.
func NewStubProvider() *LLMProvider {
	return NewLLMProvider("stub", &StubModelClient{})
}
