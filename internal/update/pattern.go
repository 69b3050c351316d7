package update

import (
	"path"
	"strings"
)

// pattern is a parsed skip glob with its matching strategy.
type pattern struct {
	glob      string
	matchPath bool // true = match against relative path; false = match against basename only
}

// PatternMatcher checks relative paths against glob patterns.
// Patterns without '/' match against the basename only.
// Patterns with '/' match against the full slash-separated relative path.
type PatternMatcher struct {
	patterns []pattern
}

// NewPatternMatcher creates a PatternMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewPatternMatcher(raw []string) *PatternMatcher {
	var patterns []pattern
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		patterns = append(patterns, pattern{
			glob:      strings.TrimPrefix(p, "/"),
			matchPath: strings.Contains(p, "/"),
		})
	}
	return &PatternMatcher{patterns: patterns}
}

// Len returns the number of usable patterns.
func (m *PatternMatcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}

// Match returns the first pattern matching rel, which must already be
// normalized to forward slashes.
func (m *PatternMatcher) Match(rel string) (string, bool) {
	if m.Len() == 0 {
		return "", false
	}
	base := path.Base(rel)
	for _, p := range m.patterns {
		target := base
		if p.matchPath {
			target = rel
		}
		matched, err := path.Match(p.glob, target)
		if err != nil {
			// Malformed globs never match.
			continue
		}
		if matched {
			return p.glob, true
		}
	}
	return "", false
}
