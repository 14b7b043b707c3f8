package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yangwenmai/copydeck/internal/model"
)

// replyFormat is appended to every stage prompt.
const replyFormat = `Output ONLY valid JSON with this exact structure (no markdown, no explanation):
{"text": "...", "items": [{"title": "...", "body": "...", "sources": ["https://..."]}], "sources": [{"uri": "https://...", "title": "..."}]}`

// stagePromptMarker lets stub clients recognize the stage of a prompt.
const stagePromptMarker = "Stage: "

var stageInstructions = map[model.StageID]string{
	model.StageUSPs: `Write 3 to 5 unique selling points. Each item title is a short benefit, each body one supporting sentence.
Leave "text" empty.`,
	model.StageKeywords: `Propose 8 to 12 search keywords and phrases buyers would use. One item per keyword in "title".
Leave "text" empty.`,
	model.StageDescription: `Write a product description of 120 to 200 words in "text". Build on the selling points and keywords below.
Leave "items" empty.`,
	model.StageFAQ: `Write 4 to 6 frequently asked questions. Item title is the question, body the answer.
Leave "text" empty.`,
	model.StageChapters: `Outline a product video as 4 to 6 chapters. Item title is the chapter name, body a one-line summary.
Leave "text" empty.`,
	model.StageHashtags: `Propose 6 to 10 social media hashtags, each starting with "#". One item per hashtag in "title".
Leave "text" empty.`,
}

// buildStagePrompt renders the prompt for a provider-backed stage.
func buildStagePrompt(stage model.StageID, in StageInput, maxPrimary int) Prompt {
	req := in.Request
	var b strings.Builder

	fmt.Fprintf(&b, "%s%s\n", stagePromptMarker, stage)
	fmt.Fprintf(&b, "Product: %s\n", req.ProductName)
	if req.ProductURL != "" {
		fmt.Fprintf(&b, "Product page: %s\n", req.ProductURL)
	}
	fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(req.Keywords, ", "))
	fmt.Fprintf(&b, "Language: %s\n", req.Language)
	if req.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", req.Tone)
	}
	if req.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", req.Audience)
	}
	for _, k := range sortedKeys(req.Params) {
		fmt.Fprintf(&b, "%s: %s\n", k, req.Params[k])
	}

	b.WriteString("\n")
	b.WriteString(stageInstructions[stage])
	b.WriteString("\n")

	for _, dep := range sortedStageIDs(in.Deps) {
		res := in.Deps[dep]
		fmt.Fprintf(&b, "\n%s so far:\n", dep)
		if res.Payload.Text != "" {
			b.WriteString(res.Payload.Text)
			b.WriteString("\n")
		}
		for _, it := range res.Payload.Items {
			fmt.Fprintf(&b, "- %s", it.Title)
			if it.Body != "" {
				fmt.Fprintf(&b, ": %s", it.Body)
			}
			b.WriteString("\n")
		}
	}

	if in.Primary != nil && in.Primary.NormalizedText != "" {
		fmt.Fprintf(&b, "\nProduct page text (cite %s when you use it):\n%s\n", req.ProductURL, truncateRunes(in.Primary.NormalizedText, maxPrimary))
	}

	b.WriteString("\n")
	b.WriteString(replyFormat)

	return Prompt{Stage: stage, User: b.String()}
}

// truncateRunes truncates s to maxRunes runes (Unicode-safe).
func truncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "\n... [truncated]"
}
