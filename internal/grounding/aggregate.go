package grounding

import (
	"net/url"
	"sort"
	"strings"

	"github.com/yangwenmai/copydeck/internal/model"
)

// Aggregate deduplicates the citations of every stage by normalized URI.
// Repeated URIs increase the access count and union the stages that used
// them. The result is ordered by tier (most authoritative first), then by
// access count, then by URI.
func (c *Classifier) Aggregate(perStage map[model.StageID][]model.Citation) model.GroundingMetadata {
	byURI := make(map[string]*model.Source)
	usedIn := make(map[string]map[model.StageID]bool)

	// Iterate stages in a fixed order so titles resolve deterministically.
	stages := make([]model.StageID, 0, len(perStage))
	for id := range perStage {
		stages = append(stages, id)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })

	for _, stage := range stages {
		for _, cit := range perStage[stage] {
			key := NormalizeURI(cit.URI)
			if key == "" {
				continue
			}
			src, ok := byURI[key]
			if !ok {
				src = &model.Source{
					URI:   key,
					Title: strings.TrimSpace(cit.Title),
					Tier:  c.Classify(key),
				}
				byURI[key] = src
				usedIn[key] = make(map[model.StageID]bool)
			}
			if src.Title == "" {
				src.Title = strings.TrimSpace(cit.Title)
			}
			src.AccessCount++
			usedIn[key][stage] = true
		}
	}

	meta := model.GroundingMetadata{Sources: make([]model.Source, 0, len(byURI))}
	for key, src := range byURI {
		for stage := range usedIn[key] {
			src.UsedIn = append(src.UsedIn, stage)
		}
		sort.Slice(src.UsedIn, func(i, j int) bool { return src.UsedIn[i] < src.UsedIn[j] })
		meta.Sources = append(meta.Sources, *src)
	}
	sort.Slice(meta.Sources, func(i, j int) bool {
		a, b := meta.Sources[i], meta.Sources[j]
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		if a.AccessCount != b.AccessCount {
			return a.AccessCount > b.AccessCount
		}
		return a.URI < b.URI
	})
	meta.Tiers = CountTiers(meta.Sources)
	return meta
}

// CountTiers tallies sources per tier.
func CountTiers(sources []model.Source) model.TierCounts {
	var tc model.TierCounts
	for _, s := range sources {
		switch s.Tier {
		case model.TierOfficial:
			tc.Tier1++
		case model.TierReputable:
			tc.Tier2++
		case model.TierCommunity:
			tc.Tier3++
		default:
			tc.Tier4++
		}
	}
	return tc
}

// NormalizeURI lower-cases scheme and host, drops the fragment and a
// trailing slash. Inputs without a host normalize to "".
func NormalizeURI(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String()
}
