package signature

import (
	"context"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"sync"

	"github.com/nao1215/jscryptoscan/internal/model"
)

// LocalConfidence is the confidence assigned to every local finding.
const LocalConfidence = 0.85

// Matcher runs a signature Table against code.
//
// Compiled patterns are cached, so a Matcher should be reused across runs.
// It is safe for concurrent use.
type Matcher struct {
	table  Table
	rules  *RuleSet
	logger *slog.Logger

	// compiled caches pattern -> *regexp.Regexp. A nil value marks a
	// pattern that failed to compile.
	compiled sync.Map
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithRules replaces the default rule set.
func WithRules(rules *RuleSet) MatcherOption {
	return func(m *Matcher) {
		if rules != nil {
			m.rules = rules
		}
	}
}

// WithMatcherLogger sets the logger.
func WithMatcherLogger(logger *slog.Logger) MatcherOption {
	return func(m *Matcher) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMatcher creates a Matcher for table.
func NewMatcher(table Table, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		table:  table,
		rules:  DefaultRules(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match returns one finding per matching (category, algorithm, pattern)
// triple, in sorted category and algorithm order and table pattern order.
// It returns early with ctx.Err() when ctx is done.
func (m *Matcher) Match(ctx context.Context, code string) ([]model.AlgorithmFinding, error) {
	findings := []model.AlgorithmFinding{}
	if code == "" {
		return findings, nil
	}

	for _, category := range slices.Sorted(maps.Keys(m.table)) {
		algorithms := m.table[category]
		for _, algorithm := range slices.Sorted(maps.Keys(algorithms)) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			sig := algorithms[algorithm]
			rule := m.rules.Lookup(sig.RiskRule)

			for _, pattern := range sig.Patterns {
				re := m.compile(pattern)
				if re == nil || !re.MatchString(code) {
					continue
				}
				findings = append(findings, model.AlgorithmFinding{
					Category:   category,
					Algorithm:  algorithm,
					Confidence: LocalConfidence,
					RiskLevel:  rule.Evaluate(code),
					Pattern:    pattern,
				})
			}
		}
	}
	return findings, nil
}

// compile returns the case-insensitive regexp for pattern, or nil when the
// pattern is malformed.
func (m *Matcher) compile(pattern string) *regexp.Regexp {
	if v, ok := m.compiled.Load(pattern); ok {
		re, _ := v.(*regexp.Regexp)
		return re
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		m.logger.Warn("skipping malformed signature pattern", "pattern", pattern, "error", err)
		re = nil
	}
	v, _ := m.compiled.LoadOrStore(pattern, re)
	cached, _ := v.(*regexp.Regexp)
	return cached
}
