package model

// Confidence is the evidence label attached to a result.
type Confidence string

// Confidence levels
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Result is the aggregate output of one pipeline run. Every stage key is
// present whether the stage succeeded or degraded, so serializers can rely
// on a fixed shape.
type Result struct {
	RunID       string                  `json:"run_id"`
	Fingerprint string                  `json:"fingerprint"`
	Request     GenerateRequest         `json:"request"`
	Stages      map[StageID]StageResult `json:"stages"`
	Grounding   GroundingMetadata       `json:"grounding"`
	Score       GroundingQualityScore   `json:"score"`
	Confidence  Confidence              `json:"confidence"`
	Degraded    []StageID               `json:"degraded"`
	GeneratedAt string                  `json:"generated_at"`
	DurationMS  int64                   `json:"duration_ms"`
}

// Stage returns the result for id, or a zero value when absent.
func (r *Result) Stage(id StageID) StageResult {
	if r == nil || r.Stages == nil {
		return StageResult{}
	}
	return r.Stages[id]
}
