// Package registry implements the registry-interest ruleset (spec §4.3): a
// pure, case-insensitive function over (key_name, process_name) deciding
// whether a registry event is worth tracing. The allow/deny pattern lists
// live in a data file (ruleset.yaml) rather than in source, per spec §9
// Open Question 2, so they can be extended without touching recorder
// invariants.
package registry

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed ruleset.yaml
var defaultRulesetFS embed.FS

// RuleSet is the exclude-first, include-second, default-deny policy
// described in spec §4.3.
type RuleSet struct {
	Exclude              []string `yaml:"exclude"`
	Include              []string `yaml:"include"`
	InterestingProcesses []string `yaml:"interestingProcesses"`
}

// Load parses a ruleset YAML file from disk. Use Default to load the
// built-in data file embedded in the binary.
func Load(path string) (*RuleSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read ruleset %s: %w", path, err)
	}
	return parse(b)
}

// Default returns the ruleset embedded in the binary at build time
// (internal/registry/ruleset.yaml), used when no override path is
// configured.
func Default() (*RuleSet, error) {
	b, err := defaultRulesetFS.ReadFile("ruleset.yaml")
	if err != nil {
		return nil, fmt.Errorf("registry: read embedded ruleset: %w", err)
	}
	return parse(b)
}

func parse(b []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(b, &rs); err != nil {
		return nil, fmt.Errorf("registry: parse ruleset: %w", err)
	}
	return &rs, nil
}

// IsInteresting is the pure function from spec §4.3/§8 invariant 6: equal
// (key, process) inputs always yield equal outputs. Exclude patterns are
// checked first; then the universal "registry editor, or process path
// starts with a backslash" rule; then the include patterns; anything else
// is denied.
func (r *RuleSet) IsInteresting(key, process string) bool {
	lowerKey := strings.ToLower(key)

	for _, pat := range r.Exclude {
		if strings.Contains(lowerKey, strings.ToLower(pat)) {
			return false
		}
	}

	if strings.HasPrefix(process, `\`) {
		return true
	}
	lowerProc := strings.ToLower(process)
	for _, p := range r.InterestingProcesses {
		if lowerProc == strings.ToLower(p) {
			return true
		}
	}

	for _, pat := range r.Include {
		if strings.Contains(lowerKey, strings.ToLower(pat)) {
			return true
		}
	}

	return false
}
