// Package guard keeps unverifiable claims (invented statistics, fake studies,
// fabricated endorsements) out of generated text.
package guard

import (
	"fmt"
	"regexp"
)

// Category groups rules by the kind of claim they catch.
type Category string

// Rule categories
const (
	CategoryStatistic   Category = "statistic"
	CategoryStudy       Category = "study"
	CategoryExpert      Category = "expert"
	CategoryEndorsement Category = "endorsement"
	CategoryGuarantee   Category = "guarantee"
)

// Severity decides whether a finding forces substitution.
type Severity string

// Severities
const (
	SeverityHard Severity = "hard"
	SeveritySoft Severity = "soft"
)

// Rule is one row of the fabrication table.
type Rule struct {
	Name        string
	Category    Category
	Severity    Severity
	Pattern     *regexp.Regexp
	Replacement string
}

// RuleSpec is the serializable form of a Rule, as found in the rules file.
type RuleSpec struct {
	Name        string `yaml:"name"`
	Category    string `yaml:"category"`
	Severity    string `yaml:"severity"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// CompileRules turns specs into rules, in order.
func CompileRules(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", s.Name, err)
		}
		sev := Severity(s.Severity)
		if sev == "" {
			sev = SeverityHard
		}
		if sev != SeverityHard && sev != SeveritySoft {
			return nil, fmt.Errorf("rule %q: unknown severity %q", s.Name, s.Severity)
		}
		if s.Replacement == "" {
			return nil, fmt.Errorf("rule %q: replacement is required", s.Name)
		}
		rules = append(rules, Rule{
			Name:        s.Name,
			Category:    Category(s.Category),
			Severity:    sev,
			Pattern:     re,
			Replacement: s.Replacement,
		})
	}
	return rules, nil
}

// DefaultRuleSpecs is the built-in fabrication table. Order matters: a span
// claimed by an earlier rule is not reported again by a later one.
func DefaultRuleSpecs() []RuleSpec {
	return []RuleSpec{
		{
			Name:        "percent-improvement",
			Category:    string(CategoryStatistic),
			Severity:    string(SeverityHard),
			Pattern:     `(?i)(?:\b(?:studies|research|tests?|data|surveys?)\s+(?:show|shows|prove|proves|found|finds|indicate|indicates|confirm|confirms)\s+(?:that\s+)?)?(?:up\s+to\s+)?\d+(?:[.,]\d+)?\s?%\s*(?:faster|better|more|less|fewer|higher|lower|stronger|longer|quicker|cheaper|improvement|increase|reduction|boost|gain|savings?|more\s+efficient)\b`,
			Replacement: "significantly enhanced",
		},
		{
			Name:        "multiplier-claim",
			Category:    string(CategoryStatistic),
			Severity:    string(SeverityHard),
			Pattern:     `(?i)\b\d+(?:\.\d+)?\s?(?:x|times)\s+(?:faster|better|more|stronger|longer|quicker)\b`,
			Replacement: "noticeably better",
		},
		{
			Name:        "customer-percentage",
			Category:    string(CategoryStatistic),
			Severity:    string(SeverityHard),
			Pattern:     `(?i)\b\d+(?:[.,]\d+)?\s?%\s+of\s+(?:customers|users|buyers|people|experts|doctors|dentists|professionals)\b`,
			Replacement: "many customers",
		},
		{
			Name:        "studies-show",
			Category:    string(CategoryStudy),
			Severity:    string(SeverityHard),
			Pattern:     `(?i)\b(?:studies|research|scientific\s+tests?|clinical\s+trials?|a\s+recent\s+study)\s+(?:show|shows|prove|proves|have\s+shown|has\s+shown|confirm|confirms|found|demonstrates?)\b`,
			Replacement: "it is designed so",
		},
		{
			Name:        "clinically-proven",
			Category:    string(CategoryStudy),
			Severity:    string(SeverityHard),
			Pattern:     `(?i)\b(?:clinically|scientifically|laboratory|lab)[\s-](?:proven|tested|validated)\b`,
			Replacement: "carefully developed",
		},
		{
			Name:        "experts-agree",
			Category:    string(CategoryExpert),
			Severity:    string(SeverityHard),
			Pattern:     `(?i)\b(?:experts|professionals|doctors|dentists|engineers|scientists)\s+(?:agree|recommend|confirm|say)\b`,
			Replacement: "it is built to deliver",
		},
		{
			Name:        "named-endorsement",
			Category:    string(CategoryEndorsement),
			Severity:    string(SeverityHard),
			Pattern:     `\b(?:[Uu]sed|[Tt]rusted|[Cc]hosen|[Ee]ndorsed|[Rr]ecommended|[Pp]referred)\s+by\s+[A-Z][A-Za-z0-9&]+(?:(?:,\s*|\s+and\s+)[A-Z][A-Za-z0-9&]+)*`,
			Replacement: "popular with customers",
		},
		{
			Name:        "crowd-endorsement",
			Category:    string(CategoryEndorsement),
			Severity:    string(SeverityHard),
			Pattern:     `(?i)\b(?:trusted|used|loved|chosen)\s+by\s+(?:over\s+|more\s+than\s+)?\d[\d,.]*\s*(?:k|m|million|thousand)?\+?\s+(?:customers|users|people|companies|businesses|professionals)\b`,
			Replacement: "popular with customers",
		},
		{
			Name:        "award-winning",
			Category:    string(CategoryEndorsement),
			Severity:    string(SeveritySoft),
			Pattern:     `(?i)\baward[\s-]winning\b`,
			Replacement: "well-regarded",
		},
		{
			Name:        "guarantee",
			Category:    string(CategoryGuarantee),
			Severity:    string(SeveritySoft),
			Pattern:     `(?i)\b(?:guaranteed|100\s?%\s+(?:safe|effective|satisfaction))\b`,
			Replacement: "designed to satisfy",
		},
	}
}

// DefaultRules compiles DefaultRuleSpecs. It panics on a bad built-in
// pattern, which only a code change can cause.
func DefaultRules() []Rule {
	rules, err := CompileRules(DefaultRuleSpecs())
	if err != nil {
		panic(err)
	}
	return rules
}

// superlatives are vague claims rejected only at the strictest gate level.
var superlatives = regexp.MustCompile(`(?i)(?:\b(?:best[\s-]in[\s-]class|world[\s-]class|industry[\s-]leading|market[\s-]leading|number\s+one|unbeatable|unrivall?ed|unmatched|revolutionary|the\s+best)\b|#1\b)`)
