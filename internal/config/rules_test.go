package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yangwenmai/copydeck/internal/grounding"
	"github.com/yangwenmai/copydeck/internal/model"
)

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRules_EmptyPathUsesDefaults(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules.Fabrication) == 0 {
		t.Error("expected built-in fabrication rules")
	}
	if len(rules.Authority.Tier1) != len(grounding.DefaultAllowLists().Tier1) {
		t.Error("expected built-in tier1 list")
	}
}

func TestLoadRules_OverridesOnlyWhatIsSet(t *testing.T) {
	path := writeRules(t, `
authority:
  tier1: ["standards.example.org"]
fabrication:
  - name: miracle
    category: guarantee
    severity: hard
    pattern: '(?i)\bmiracle\b'
    replacement: useful
`)
	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules.Authority.Tier1) != 1 || rules.Authority.Tier1[0] != "standards.example.org" {
		t.Errorf("Tier1 = %v", rules.Authority.Tier1)
	}
	if len(rules.Authority.Tier2) != len(grounding.DefaultAllowLists().Tier2) {
		t.Error("tier2 should keep the built-in list")
	}

	g, err := rules.Guard()
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}
	out, changed, _ := g.Sanitize("A miracle kettle.")
	if !changed || out != "A useful kettle." {
		t.Errorf("Sanitize = %q (%v), want %q", out, changed, "A useful kettle.")
	}

	c := rules.Classifier()
	if tier := c.Classify("https://standards.example.org/kettles"); tier != model.TierOfficial {
		t.Errorf("Classify = %v, want tier1", tier)
	}
}

func TestLoadRules_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.yaml")},
		{"bad yaml", writeRules(t, "authority: [")},
		{"bad pattern", writeRules(t, `
fabrication:
  - name: broken
    category: statistic
    severity: hard
    pattern: '(['
    replacement: x
`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadRules(tt.path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
