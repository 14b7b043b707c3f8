package guard

import (
	"fmt"
	"strings"

	"github.com/yangwenmai/copydeck/internal/model"
)

// Confidence policy names accepted by PolicyByName.
const (
	PolicyGraded         = "graded"
	PolicyPrimaryContent = "primary-content"
)

// Evidence describes what backing a run had available.
type Evidence struct {
	HasTier1             bool
	HasTier2             bool
	HasTier3             bool
	HasPrimaryContent    bool
	CorroboratingSignals int
}

// NewEvidence derives an evidence profile from aggregated sources. A source
// cited more than once (by several stages or repeatedly) counts as a
// corroborating signal.
func NewEvidence(sources []model.Source, hasPrimary bool) Evidence {
	e := Evidence{HasPrimaryContent: hasPrimary}
	for _, s := range sources {
		switch s.Tier {
		case model.TierOfficial:
			e.HasTier1 = true
		case model.TierReputable:
			e.HasTier2 = true
		case model.TierCommunity:
			e.HasTier3 = true
		}
		if s.AccessCount > 1 {
			e.CorroboratingSignals++
		}
	}
	return e
}

// ConfidencePolicy maps an evidence profile to a confidence label.
type ConfidencePolicy interface {
	Name() string
	Assess(e Evidence) model.Confidence
}

// GradedPolicy grades by source mix: high needs tier-1 backing plus either
// primary content or two corroborating signals; medium needs any tier-1,
// tier-2 or primary content.
type GradedPolicy struct{}

func (GradedPolicy) Name() string { return PolicyGraded }

func (GradedPolicy) Assess(e Evidence) model.Confidence {
	switch {
	case e.HasTier1 && (e.HasPrimaryContent || e.CorroboratingSignals >= 2):
		return model.ConfidenceHigh
	case e.HasTier1 || e.HasTier2 || e.HasPrimaryContent:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// PrimaryContentPolicy returns high whenever primary content exists.
// Without it, tier-1 or tier-2 sources give medium and anything else low.
type PrimaryContentPolicy struct{}

func (PrimaryContentPolicy) Name() string { return PolicyPrimaryContent }

func (PrimaryContentPolicy) Assess(e Evidence) model.Confidence {
	switch {
	case e.HasPrimaryContent:
		return model.ConfidenceHigh
	case e.HasTier1 || e.HasTier2:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// PolicyByName resolves a configured policy name. Underscores and hyphens
// are interchangeable.
func PolicyByName(name string) (ConfidencePolicy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-") {
	case PolicyGraded, "":
		return GradedPolicy{}, nil
	case PolicyPrimaryContent, "primary":
		return PrimaryContentPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown confidence policy %q", name)
	}
}

// AdjustForFindings lowers c by one level when sanitized fabrications were
// found in the run's output.
func AdjustForFindings(c model.Confidence, sanitized int) model.Confidence {
	if sanitized == 0 {
		return c
	}
	switch c {
	case model.ConfidenceHigh:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}
