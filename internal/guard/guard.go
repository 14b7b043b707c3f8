package guard

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxSanitizePasses bounds the rewrite loop. Rewrites converge in one pass
// with the built-in table; extra passes catch matches formed across a
// replacement boundary.
const maxSanitizePasses = 5

// Level is the strictness of the quality gate.
type Level string

// Gate levels
const (
	LevelStandard Level = "standard"
	LevelStrict   Level = "strict"
)

// ParseLevel maps a config string to a Level. Unknown values are strict.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "":
		return LevelStandard
	default:
		return LevelStrict
	}
}

// Finding is one span claimed by a rule.
type Finding struct {
	Rule     string   `json:"rule"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Match    string   `json:"match"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
}

// FabricationCheck is the result of scanning a text block.
type FabricationCheck struct {
	Flagged     bool      `json:"flagged"`
	Violations  []string  `json:"violations"`
	Suggestions []string  `json:"suggestions"`
	Findings    []Finding `json:"findings"`
}

// HasHard reports whether any finding forces substitution.
func (c FabricationCheck) HasHard() bool {
	for _, f := range c.Findings {
		if f.Severity == SeverityHard {
			return true
		}
	}
	return false
}

// Modification records one rewrite applied by Sanitize.
type Modification struct {
	Rule        string `json:"rule"`
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
}

// Guard scans and rewrites text using an ordered rule table.
type Guard struct {
	rules []Rule
}

// New creates a Guard over rules. A nil or empty table uses DefaultRules.
func New(rules []Rule) *Guard {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Guard{rules: rules}
}

// Rules returns the rule table in evaluation order.
func (g *Guard) Rules() []Rule {
	out := make([]Rule, len(g.rules))
	copy(out, g.rules)
	return out
}

// Check scans text against the rule table. A span matched by an earlier rule
// is not reported again by a later one, so each claim yields one violation.
func (g *Guard) Check(text string) FabricationCheck {
	check := FabricationCheck{
		Violations:  []string{},
		Suggestions: []string{},
		Findings:    []Finding{},
	}
	if strings.TrimSpace(text) == "" {
		return check
	}

	var claimed [][2]int
	for _, r := range g.rules {
		for _, loc := range r.Pattern.FindAllStringIndex(text, -1) {
			if overlaps(claimed, loc[0], loc[1]) {
				continue
			}
			claimed = append(claimed, [2]int{loc[0], loc[1]})
			match := text[loc[0]:loc[1]]
			check.Findings = append(check.Findings, Finding{
				Rule:     r.Name,
				Category: r.Category,
				Severity: r.Severity,
				Match:    match,
				Start:    loc[0],
				End:      loc[1],
			})
		}
	}

	sort.SliceStable(check.Findings, func(i, j int) bool {
		return check.Findings[i].Start < check.Findings[j].Start
	})
	for _, f := range check.Findings {
		check.Violations = append(check.Violations, fmt.Sprintf("%s (%s): %q", f.Category, f.Rule, f.Match))
		check.Suggestions = append(check.Suggestions, fmt.Sprintf("replace %q with %q", f.Match, g.replacementFor(f.Rule, f.Match)))
	}
	check.Flagged = len(check.Findings) > 0
	return check
}

// Sanitize rewrites every rule match until no rule matches. It never fails;
// text without matches is returned unchanged, and empty input yields "".
func (g *Guard) Sanitize(text string) (string, bool, []Modification) {
	if text == "" {
		return "", false, nil
	}
	var mods []Modification
	for pass := 0; pass < maxSanitizePasses; pass++ {
		changed := false
		for _, r := range g.rules {
			text = r.Pattern.ReplaceAllStringFunc(text, func(m string) string {
				repl := matchCase(m, r.Replacement)
				mods = append(mods, Modification{Rule: r.Name, Original: m, Replacement: repl})
				changed = true
				return repl
			})
		}
		if !changed {
			break
		}
	}
	return text, len(mods) > 0, mods
}

// PassesQualityGate fails on any finding. At LevelStrict it also rejects
// vague superlatives that are not fabrications.
func (g *Guard) PassesQualityGate(text string, level Level) bool {
	if g.Check(text).Flagged {
		return false
	}
	if level == LevelStrict && superlatives.MatchString(text) {
		return false
	}
	return true
}

// Superlatives returns the vague superlatives found in text.
func Superlatives(text string) []string {
	return superlatives.FindAllString(text, -1)
}

func (g *Guard) replacementFor(rule, match string) string {
	for _, r := range g.rules {
		if r.Name == rule {
			return matchCase(match, r.Replacement)
		}
	}
	return ""
}

func overlaps(spans [][2]int, start, end int) bool {
	for _, s := range spans {
		if start < s[1] && s[0] < end {
			return true
		}
	}
	return false
}

// matchCase capitalizes repl when the matched text starts with an upper-case letter.
func matchCase(match, repl string) string {
	first, _ := utf8.DecodeRuneInString(match)
	if !unicode.IsUpper(first) || repl == "" {
		return repl
	}
	r, size := utf8.DecodeRuneInString(repl)
	return string(unicode.ToUpper(r)) + repl[size:]
}
