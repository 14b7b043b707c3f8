package model

// AuthorityTier ranks a cited source. 1 is the most authoritative.
type AuthorityTier int

// Authority tiers
const (
	TierOfficial     AuthorityTier = 1
	TierReputable    AuthorityTier = 2
	TierCommunity    AuthorityTier = 3
	TierUnclassified AuthorityTier = 4
)

// Citation is a reference returned by the provider for a single stage.
type Citation struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// Source is a citation deduplicated across all stages of a run.
type Source struct {
	URI         string        `json:"uri"`
	Title       string        `json:"title,omitempty"`
	Tier        AuthorityTier `json:"tier"`
	AccessCount int           `json:"access_count"`
	UsedIn      []StageID     `json:"used_in"`
}

// TierCounts holds the number of sources per authority tier.
type TierCounts struct {
	Tier1 int `json:"tier1"`
	Tier2 int `json:"tier2"`
	Tier3 int `json:"tier3"`
	Tier4 int `json:"tier4"`
}

// Total returns the number of sources across all tiers.
func (c TierCounts) Total() int {
	return c.Tier1 + c.Tier2 + c.Tier3 + c.Tier4
}

// ScoreBreakdown exposes the raw counts behind a GroundingQualityScore.
type ScoreBreakdown struct {
	Tiers             TierCounts `json:"tiers"`
	CitedSections     int        `json:"cited_sections"`
	TotalSections     int        `json:"total_sections"`
	CitationPercent   float64    `json:"citation_percent"`
	ClaimsWithSources int        `json:"claims_with_sources"`
	TotalClaims       int        `json:"total_claims"`
}

// GroundingQualityScore summarizes how well content is backed by sources.
type GroundingQualityScore struct {
	Total           float64        `json:"total"`
	CitationDensity float64        `json:"citation_density"`
	SourceAuthority float64        `json:"source_authority"`
	Coverage        float64        `json:"coverage"`
	Breakdown       ScoreBreakdown `json:"breakdown"`
}

// GroundingMetadata is the deduplicated source list of a run.
type GroundingMetadata struct {
	Sources []Source   `json:"sources"`
	Tiers   TierCounts `json:"tiers"`
}
