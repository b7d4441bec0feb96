package service

import (
	"os"
	"path/filepath"
	"testing"

	"wdh/internal/services/resolver/domain"
)

func TestNewOverrideSet_DropsUnusableEntries(t *testing.T) {
	t.Parallel()

	set := NewOverrideSet([]domain.CompanyMapping{
		{AliasName: "好公司", CanonicalID: "1", MatchType: domain.MatchName},
		{AliasName: "", CanonicalID: "2", MatchType: domain.MatchName},
		{AliasName: "坏id", CanonicalID: "N/A", MatchType: domain.MatchName},
		{AliasName: "野类型", CanonicalID: "3", MatchType: domain.MatchType("bogus")},
		{AliasName: "好公司", CanonicalID: "9", MatchType: domain.MatchName}, // duplicate, first wins
	})
	if set.Len() != 1 {
		t.Fatalf("Len = %d, want 1", set.Len())
	}
	if id, ok := set.Lookup(domain.MatchName, "好公司"); !ok || id != "1" {
		t.Fatalf("Lookup = (%q, %v)", id, ok)
	}
	if _, ok := set.Lookup(domain.MatchName, "坏id"); ok {
		t.Fatalf("sentinel-backed mapping must be dropped")
	}
}

func TestLoadOverrides_YAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	doc := `mappings:
  - alias: "P0001"
    company_id: "614810477"
    match_type: plan
  - alias: "中国平安"
    company_id: "7"
    match_type: name
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	set, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("Len = %d, want 2", set.Len())
	}
	if id, ok := set.Lookup(domain.MatchPlan, "P0001"); !ok || id != "614810477" {
		t.Fatalf("plan lookup = (%q, %v)", id, ok)
	}
	if got := set.Layers(); len(got) != 2 || got[0] != domain.MatchPlan || got[1] != domain.MatchName {
		t.Fatalf("Layers = %v", got)
	}
}

func TestLoadOverrides_MissingAndMalformed(t *testing.T) {
	t.Parallel()

	set, err := LoadOverrides(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil || set.Len() != 0 {
		t.Fatalf("missing file should yield an empty set, got (%d, %v)", set.Len(), err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("mappings: [\n"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadOverrides(bad); err == nil {
		t.Fatalf("malformed yaml must fail")
	}
}
