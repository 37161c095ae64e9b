// Package signature provides the stateless pattern detector: a declarative
// rule table of threat categories and case-insensitive regular expressions
// matched against a log entry's text fields.
package signature

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Category names produced by the built-in rule table. The fusion engine
// uses them as threat-type tags on detection results.
const (
	CategoryMaliciousProcesses  = "malicious_processes"
	CategorySuspiciousNetwork   = "suspicious_network"
	CategoryFileThreats         = "file_threats"
	CategoryPrivilegeEscalation = "privilege_escalation"
)

// CategoryRules defines one category of the rule table.
type CategoryRules struct {
	Category string   `yaml:"category"`
	Weight   float64  `yaml:"weight,omitempty"`   // score per matching rule; 0 means table default
	Cap      float64  `yaml:"cap,omitempty"`      // max score this category can contribute; 0 means one weight
	Patterns []string `yaml:"patterns"`
}

// RuleTable is the full declarative rule set loaded once at startup.
type RuleTable struct {
	DefaultWeight float64         `yaml:"default_weight,omitempty"`
	Categories    []CategoryRules `yaml:"categories"`
}

// DefaultWeightValue is the score increment per matching rule when neither
// the table nor the category overrides it.
const DefaultWeightValue = 0.3

// Validate checks the rule table for structural problems. Pattern
// compilation errors are handled at matcher construction, not here.
func (t *RuleTable) Validate() error {
	if len(t.Categories) == 0 {
		return fmt.Errorf("rule table has no categories")
	}

	seen := make(map[string]bool)
	for i, cat := range t.Categories {
		if cat.Category == "" {
			return fmt.Errorf("category %d: name is required", i)
		}
		if seen[cat.Category] {
			return fmt.Errorf("duplicate category: %s", cat.Category)
		}
		seen[cat.Category] = true

		if len(cat.Patterns) == 0 {
			return fmt.Errorf("category %s: at least one pattern is required", cat.Category)
		}
		if cat.Weight < 0 {
			return fmt.Errorf("category %s: weight must not be negative", cat.Category)
		}
		if cat.Cap < 0 {
			return fmt.Errorf("category %s: cap must not be negative", cat.Category)
		}
	}

	return nil
}

// ParseRuleTable parses a rule table from YAML bytes.
func ParseRuleTable(data []byte) (*RuleTable, error) {
	var table RuleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse rule table: %w", err)
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule table: %w", err)
	}
	return &table, nil
}

// DefaultRuleTable returns the built-in rule set. Patterns come from
// field-observed endpoint attack tooling; categories map directly to
// threat-type tags.
func DefaultRuleTable() *RuleTable {
	return &RuleTable{
		DefaultWeight: DefaultWeightValue,
		Categories: []CategoryRules{
			{
				Category: CategoryMaliciousProcesses,
				Patterns: []string{
					`powershell.*-enc.*`,
					`cmd.*\/c.*del.*`,
					`net.*user.*\/add`,
					`reg.*add.*HKLM`,
					`schtasks.*\/create`,
					`wmic.*process.*call.*create`,
					`certutil.*-decode`,
					`bitsadmin.*\/transfer`,
				},
			},
			{
				Category: CategorySuspiciousNetwork,
				Patterns: []string{
					`192\.168\.\d+\.\d+:\d{4,5}`,
					`10\.\d+\.\d+\.\d+:\d{4,5}`,
					`connection.*refused`,
					`connection.*timeout`,
					`suspicious.*traffic`,
				},
			},
			{
				Category: CategoryFileThreats,
				Patterns: []string{
					`\.exe.*temp`,
					`\.bat.*appdata`,
					`\.ps1.*startup`,
					`\.vbs.*system32`,
					`ransomware`,
					`trojan`,
					`malware`,
				},
			},
			{
				Category: CategoryPrivilegeEscalation,
				Patterns: []string{
					`administrator.*privilege`,
					`elevation.*required`,
					`uac.*bypass`,
					`token.*privilege`,
					`runas.*administrator`,
				},
			},
		},
	}
}
