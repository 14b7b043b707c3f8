package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yangwenmai/copydeck/internal/grounding"
	"github.com/yangwenmai/copydeck/internal/guard"
)

// Rules is the content of the rules file:
//
//	authority:
//	  tier1: [".gov", "iso.org"]
//	  tier2: ["which.co.uk"]
//	  tier3: ["amazon."]
//	fabrication:
//	  - name: percent-improvement
//	    category: statistic
//	    severity: hard
//	    pattern: '(?i)\d+%\s+faster'
//	    replacement: significantly faster
//
// An empty authority tier keeps the built-in list for that tier; a missing
// fabrication list keeps the built-in table.
type Rules struct {
	Authority   grounding.AllowLists `yaml:"authority"`
	Fabrication []guard.RuleSpec     `yaml:"fabrication"`
}

// DefaultRules returns the built-in lists and fabrication table.
func DefaultRules() Rules {
	return Rules{
		Authority:   grounding.DefaultAllowLists(),
		Fabrication: guard.DefaultRuleSpecs(),
	}
}

// LoadRules reads path, filling anything it leaves out from DefaultRules.
// An empty path returns the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read rules file: %w", err)
	}
	var file Rules
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return rules, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	if len(file.Authority.Tier1) > 0 {
		rules.Authority.Tier1 = file.Authority.Tier1
	}
	if len(file.Authority.Tier2) > 0 {
		rules.Authority.Tier2 = file.Authority.Tier2
	}
	if len(file.Authority.Tier3) > 0 {
		rules.Authority.Tier3 = file.Authority.Tier3
	}
	if len(file.Fabrication) > 0 {
		rules.Fabrication = file.Fabrication
	}

	// Fail at load time rather than on the first request.
	if _, err := guard.CompileRules(rules.Fabrication); err != nil {
		return rules, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rules, nil
}

// Guard builds the fabrication guard for these rules.
func (r Rules) Guard() (*guard.Guard, error) {
	compiled, err := guard.CompileRules(r.Fabrication)
	if err != nil {
		return nil, err
	}
	return guard.New(compiled), nil
}

// Classifier builds the authority classifier for these rules.
func (r Rules) Classifier() *grounding.Classifier {
	return grounding.NewClassifier(r.Authority)
}
