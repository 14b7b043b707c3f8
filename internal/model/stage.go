package model

// StageID identifies one unit of generation work.
type StageID string

// Stage identifiers
const (
	StageUSPs        StageID = "usps"
	StageKeywords    StageID = "keywords"
	StageDescription StageID = "description"
	StageFAQ         StageID = "faq"
	StageChapters    StageID = "chapters"
	StageHashtags    StageID = "hashtags"
	StageGrounding   StageID = "grounding"
)

// ContentStages are the stages whose output is rendered to readers.
// The grounding stage only aggregates what they produced.
var ContentStages = []StageID{
	StageDescription,
	StageUSPs,
	StageFAQ,
	StageChapters,
	StageKeywords,
	StageHashtags,
}

// Stage status constants
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusDegraded  = "degraded"
)

// PayloadItem is one entry of a list-shaped stage (a USP, an FAQ pair, a chapter).
type PayloadItem struct {
	Title      string   `json:"title"`
	Body       string   `json:"body,omitempty"`
	SourceURLs []string `json:"source_urls,omitempty"`
}

// StagePayload is the structured output of a stage.
type StagePayload struct {
	Text  string        `json:"text,omitempty"`
	Items []PayloadItem `json:"items,omitempty"`
}

// ItemTitles returns the titles of all items, in order.
func (p StagePayload) ItemTitles() []string {
	out := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		out = append(out, it.Title)
	}
	return out
}

// RuneLength returns the number of runes across text and items.
func (p StagePayload) RuneLength() int {
	n := len([]rune(p.Text))
	for _, it := range p.Items {
		n += len([]rune(it.Title)) + len([]rune(it.Body))
	}
	return n
}

// StageResult is the settled outcome of one stage. It is not modified after
// the orchestrator returns it.
type StageResult struct {
	Stage         StageID      `json:"stage"`
	Status        string       `json:"status"`
	Payload       StagePayload `json:"payload"`
	Sources       []Citation   `json:"sources"`
	Attempts      int          `json:"attempts"`
	Retries       int          `json:"retries"`
	Findings      []string     `json:"findings,omitempty"`
	Sanitized     bool         `json:"sanitized"`
	QualityPassed bool         `json:"quality_passed"`
	Error         string       `json:"error,omitempty"`
	DurationMS    int64        `json:"duration_ms"`
}

// Degraded reports whether the stage fell back to a placeholder.
func (r StageResult) Degraded() bool {
	return r.Status == StatusDegraded
}
