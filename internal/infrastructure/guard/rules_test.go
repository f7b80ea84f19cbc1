package guard

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRulesFallsBackToEmbeddedDefaults(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if len(rules.Rules.Protected) == 0 {
		t.Fatalf("embedded defaults should name protected patterns")
	}
	found := false
	for _, p := range rules.Rules.Protected {
		if p == ".env" {
			found = true
		}
	}
	if !found {
		t.Fatalf(".env should be protected by default, got %v", rules.Rules.Protected)
	}
}

func TestLoadRulesReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protection.yaml")
	content := `rules:
  protected:
    - "deploy/**"
  whitelist:
    - "deploy/staging/**"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if len(rules.Rules.Protected) != 1 || rules.Rules.Protected[0] != "deploy/**" {
		t.Fatalf("protected = %v", rules.Rules.Protected)
	}
	if len(rules.Rules.Whitelist) != 1 {
		t.Fatalf("whitelist = %v", rules.Rules.Whitelist)
	}
}

func TestLoadRulesMissingFileUsesDefaults(t *testing.T) {
	rules, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if len(rules.Rules.Protected) == 0 {
		t.Fatalf("missing file should fall back to defaults")
	}
}
