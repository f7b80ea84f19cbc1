package guard

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/overseer/assets"
)

// RulesFile is the YAML schema for externally managed protection rules.
type RulesFile struct {
	Rules struct {
		Protected []string `yaml:"protected"`
		Whitelist []string `yaml:"whitelist"`
	} `yaml:"rules"`
}

// LoadRules reads protection globs from disk, falling back to the embedded
// default rules when the file is missing or names no patterns.
func LoadRules(path string) (RulesFile, error) {
	data := assets.DefaultProtectionYAML
	if path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			data = raw
		}
	}

	var rules RulesFile
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return RulesFile{}, err
	}
	if len(rules.Rules.Protected) == 0 {
		rules.Rules.Protected = DefaultProtectedPatterns()
	}
	return rules, nil
}
