package signature

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// maxMatchInput caps the text length fed to the regex engine. Entries
// longer than this are truncated before matching, never rejected.
const maxMatchInput = 10000

// compiledCategory is one category with its patterns compiled.
type compiledCategory struct {
	name     string
	weight   float64
	cap      float64
	patterns []*regexp.Regexp
	sources  []string // original pattern text, parallel to patterns
}

// Matcher is the compiled, immutable form of a rule table. Safe for
// concurrent use.
type Matcher struct {
	categories []compiledCategory
	logger     *slog.Logger
}

// Result is the outcome of matching one text against the rule table.
type Result struct {
	// Score is the summed per-category contribution.
	Score float64
	// Categories lists every category with at least one matching pattern,
	// in rule-table order.
	Categories []string
	// Indicators holds "category:pattern" strings for each matching rule.
	Indicators []string
}

// Matched reports whether any rule matched.
func (r Result) Matched() bool {
	return len(r.Categories) > 0
}

// NewMatcher compiles a rule table into a Matcher. Patterns that fail to
// compile are logged and skipped; a category whose patterns all fail is
// dropped. Compilation is case-insensitive.
func NewMatcher(table *RuleTable, logger *slog.Logger) (*Matcher, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaultWeight := table.DefaultWeight
	if defaultWeight <= 0 {
		defaultWeight = DefaultWeightValue
	}

	m := &Matcher{logger: logger}
	for _, cat := range table.Categories {
		weight := cat.Weight
		if weight <= 0 {
			weight = defaultWeight
		}
		capScore := cat.Cap
		if capScore <= 0 {
			// Default contract: a category contributes at most one weight
			// no matter how many of its patterns match.
			capScore = weight
		}

		cc := compiledCategory{name: cat.Category, weight: weight, cap: capScore}
		for _, pat := range cat.Patterns {
			re, err := regexp.Compile(`(?i)` + pat)
			if err != nil {
				logger.Warn("skipping invalid signature pattern",
					"category", cat.Category,
					"pattern", pat,
					"error", err)
				continue
			}
			cc.patterns = append(cc.patterns, re)
			cc.sources = append(cc.sources, pat)
		}
		if len(cc.patterns) == 0 {
			logger.Warn("dropping signature category with no valid patterns",
				"category", cat.Category)
			continue
		}
		m.categories = append(m.categories, cc)
	}

	if len(m.categories) == 0 {
		return nil, fmt.Errorf("no usable signature categories after compilation")
	}
	return m, nil
}

// MustDefaultMatcher compiles the built-in rule table. The built-in
// patterns are covered by tests, so failure here is a programming error.
func MustDefaultMatcher(logger *slog.Logger) *Matcher {
	m, err := NewMatcher(DefaultRuleTable(), logger)
	if err != nil {
		panic(fmt.Sprintf("built-in signature rules failed to compile: %v", err))
	}
	return m
}

// Match runs every rule against the given text and returns the combined
// result. Text beyond the input cap is ignored.
func (m *Matcher) Match(text string) Result {
	if len(text) > maxMatchInput {
		text = text[:maxMatchInput]
	}
	text = strings.ToLower(text)

	var res Result
	for _, cat := range m.categories {
		var catScore float64
		matched := false
		for i, re := range cat.patterns {
			if !re.MatchString(text) {
				continue
			}
			matched = true
			res.Indicators = append(res.Indicators, cat.name+":"+cat.sources[i])
			catScore += cat.weight
			if catScore >= cat.cap {
				catScore = cat.cap
				break
			}
		}
		if matched {
			res.Categories = append(res.Categories, cat.name)
			res.Score += catScore
		}
	}
	return res
}
