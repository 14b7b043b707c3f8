package grounding

import (
	"math"

	"github.com/yangwenmai/copydeck/internal/model"
)

// Sub-score bounds.
const (
	MaxCitationDensity = 3.0
	MaxSourceAuthority = 4.0
	MaxCoverage        = 3.0
	MaxTotal           = 10.0
)

// Authority weights per source and caps per tier.
const (
	tier1Points = 1.5
	tier1Cap    = 3.0
	tier2Points = 0.75
	tier2Cap    = 1.5
	tier3Points = 0.25
	tier3Cap    = 0.5

	// authorityFloor is granted once any source exists, so weak grounding
	// is never scored as no grounding.
	authorityFloor = 0.5
)

// densitySteps maps a minimum citation percentage to its points, highest first.
var densitySteps = []struct {
	minPercent float64
	points     float64
}{
	{80, 3},
	{60, 2.5},
	{40, 2},
	{25, 1.5},
	{10, 1},
}

// Input gathers the counts a score is computed from.
type Input struct {
	Sources           []model.Source
	SectionsGrounded  int
	TotalSections     int
	ContentLength     int
	CitedLength       int
	ClaimsWithSources int
	TotalClaims       int
}

// Score computes the composite grounding quality. Every sub-score stays
// within its bound and the breakdown is filled even when the total is zero.
func Score(in Input) model.GroundingQualityScore {
	tiers := CountTiers(in.Sources)

	pct := citationPercent(in.CitedLength, in.ContentLength)
	density := CitationDensity(pct)
	authority := SourceAuthority(tiers)
	coverage := Coverage(in.SectionsGrounded, in.TotalSections, in.ClaimsWithSources, in.TotalClaims)

	return model.GroundingQualityScore{
		Total:           round2(math.Min(MaxTotal, density+authority+coverage)),
		CitationDensity: density,
		SourceAuthority: round2(authority),
		Coverage:        round2(coverage),
		Breakdown: model.ScoreBreakdown{
			Tiers:             tiers,
			CitedSections:     in.SectionsGrounded,
			TotalSections:     in.TotalSections,
			CitationPercent:   round2(pct),
			ClaimsWithSources: in.ClaimsWithSources,
			TotalClaims:       in.TotalClaims,
		},
	}
}

// CitationDensity is a step function of the cited percentage.
func CitationDensity(percent float64) float64 {
	if percent <= 0 {
		return 0
	}
	for _, s := range densitySteps {
		if percent >= s.minPercent {
			return s.points
		}
	}
	return 0.5
}

// SourceAuthority adds capped per-tier points. Tier 4 sources add nothing
// beyond the floor.
func SourceAuthority(t model.TierCounts) float64 {
	if t.Total() == 0 {
		return 0
	}
	score := math.Min(tier1Cap, float64(t.Tier1)*tier1Points) +
		math.Min(tier2Cap, float64(t.Tier2)*tier2Points) +
		math.Min(tier3Cap, float64(t.Tier3)*tier3Points)
	score = math.Max(score, authorityFloor)
	return math.Min(MaxSourceAuthority, score)
}

// Coverage is min(3, 2*sectionRatio + evidenceBonus). The bonus is the
// fraction of claims that carry at least one source.
func Coverage(grounded, total, claimsWithSources, claims int) float64 {
	var ratio, bonus float64
	if total > 0 {
		ratio = clamp01(float64(grounded) / float64(total))
	}
	if claims > 0 {
		bonus = clamp01(float64(claimsWithSources) / float64(claims))
	}
	return math.Min(MaxCoverage, 2*ratio+bonus)
}

func citationPercent(cited, content int) float64 {
	if content <= 0 || cited <= 0 {
		return 0
	}
	return math.Min(100, float64(cited)/float64(content)*100)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
