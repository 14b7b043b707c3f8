package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/yangwenmai/copydeck/internal/model"
)

// StageSpec declares one stage of the plan.
type StageSpec struct {
	ID        model.StageID
	Weight    int
	DependsOn []model.StageID
	// Local stages are computed in-process instead of calling the provider.
	Local bool
}

// StageInput is what a stage may read: the request, the outputs of its
// declared dependencies and the product page, if one was extracted.
type StageInput struct {
	Request model.GenerateRequest
	Deps    map[model.StageID]model.StageResult
	Primary *ExtractedContent
}

// Plan is a validated stage graph split into groups. Stages in a group only
// depend on earlier groups and run concurrently.
type Plan struct {
	specs  map[model.StageID]StageSpec
	order  []model.StageID
	groups [][]model.StageID
}

// DefaultStages is the stage graph used by the service.
func DefaultStages() []StageSpec {
	return []StageSpec{
		{ID: model.StageUSPs, Weight: 15},
		{ID: model.StageKeywords, Weight: 10},
		{ID: model.StageDescription, Weight: 25, DependsOn: []model.StageID{model.StageUSPs, model.StageKeywords}},
		{ID: model.StageFAQ, Weight: 15, DependsOn: []model.StageID{model.StageUSPs}},
		{ID: model.StageChapters, Weight: 10, DependsOn: []model.StageID{model.StageUSPs}},
		{ID: model.StageHashtags, Weight: 5, DependsOn: []model.StageID{model.StageKeywords}},
		{ID: model.StageGrounding, Weight: 20, Local: true, DependsOn: []model.StageID{
			model.StageUSPs, model.StageKeywords, model.StageDescription,
			model.StageFAQ, model.StageChapters, model.StageHashtags,
		}},
	}
}

// ErrCyclicPlan is returned when stage dependencies form a cycle.
var ErrCyclicPlan = errors.New("stage dependencies form a cycle")

// NewPlan validates specs and computes the groups: unique IDs, known
// dependencies, no cycles, positive weights summing to 100.
func NewPlan(specs []StageSpec) (*Plan, error) {
	if len(specs) == 0 {
		return nil, errors.New("plan has no stages")
	}
	p := &Plan{specs: make(map[model.StageID]StageSpec, len(specs))}
	total := 0
	for _, s := range specs {
		if s.ID == "" {
			return nil, errors.New("stage with empty id")
		}
		if _, dup := p.specs[s.ID]; dup {
			return nil, fmt.Errorf("duplicate stage %q", s.ID)
		}
		if s.Weight <= 0 {
			return nil, fmt.Errorf("stage %q weight must be positive, got %d", s.ID, s.Weight)
		}
		p.specs[s.ID] = s
		p.order = append(p.order, s.ID)
		total += s.Weight
	}
	if total != 100 {
		return nil, fmt.Errorf("stage weights sum to %d, want 100", total)
	}
	for _, s := range specs {
		for _, d := range s.DependsOn {
			if _, ok := p.specs[d]; !ok {
				return nil, fmt.Errorf("stage %q depends on unknown stage %q", s.ID, d)
			}
		}
	}

	// Kahn's algorithm, one level at a time.
	remaining := make(map[model.StageID]int, len(specs))
	for _, s := range specs {
		remaining[s.ID] = len(uniqueStages(s.DependsOn))
	}
	for len(remaining) > 0 {
		var ready []model.StageID
		for _, id := range p.order {
			if n, ok := remaining[id]; ok && n == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			return nil, ErrCyclicPlan
		}
		for _, id := range ready {
			delete(remaining, id)
		}
		for id := range remaining {
			for _, d := range uniqueStages(p.specs[id].DependsOn) {
				if contains(ready, d) {
					remaining[id]--
				}
			}
		}
		p.groups = append(p.groups, ready)
	}
	return p, nil
}

func uniqueStages(ids []model.StageID) []model.StageID {
	seen := make(map[model.StageID]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func contains(ids []model.StageID, id model.StageID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// Groups returns the stage groups in execution order.
func (p *Plan) Groups() [][]model.StageID {
	out := make([][]model.StageID, len(p.groups))
	for i, g := range p.groups {
		out[i] = append([]model.StageID(nil), g...)
	}
	return out
}

// Stages returns every stage ID in declaration order.
func (p *Plan) Stages() []model.StageID {
	return append([]model.StageID(nil), p.order...)
}

// Spec returns the spec for id.
func (p *Plan) Spec(id model.StageID) (StageSpec, bool) {
	s, ok := p.specs[id]
	return s, ok
}

// Weights maps each stage to its progress weight.
func (p *Plan) Weights() map[model.StageID]int {
	w := make(map[model.StageID]int, len(p.specs))
	for id, s := range p.specs {
		w[id] = s.Weight
	}
	return w
}

func sortedStageIDs(m map[model.StageID]model.StageResult) []model.StageID {
	ids := make([]model.StageID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
