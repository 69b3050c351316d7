package update

import (
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Default protection rules. Paths are relative to the installation root and
// use forward slashes.
var (
	defaultSkipDirs = []string{
		"config",
		"uploads",
		"logs",
		"storage/logs",
		"cache",
		"storage/cache",
		".git",
		"install",
	}
	defaultSkipFiles = []string{
		".env",
		".htaccess",
		"config.php",
		"config/app.php",
		"config/database.php",
		"index.php",
	}
	// Only these may be released by AllowCoreOverride.
	defaultOverridableFiles = []string{
		"index.php",
		".htaccess",
	}
)

// SkipKind says which rule family protected a path.
type SkipKind string

const (
	SkipDir     SkipKind = "dir"
	SkipFile    SkipKind = "file"
	SkipPattern SkipKind = "pattern"
)

// SkipMatch is the result of evaluating a path against a SkipPolicy.
type SkipMatch struct {
	Skipped bool
	Kind    SkipKind
	Rule    string
}

// SkipPolicy decides which relative paths are protected from mutation.
// It is built once per apply call and never mutated afterwards.
type SkipPolicy struct {
	RequiredDirs      map[string]struct{}
	RequiredFiles     map[string]struct{}
	OverridableFiles  map[string]struct{}
	AllowCoreOverride bool
	Patterns          *PatternMatcher
}

// PolicyRules carries additive, user-configured protection rules.
type PolicyRules struct {
	ExtraDirs     []string
	ExtraFiles    []string
	ExtraPatterns []string
}

// DefaultSkipPolicy returns the built-in policy.
func DefaultSkipPolicy(allowCoreOverride bool) *SkipPolicy {
	return NewSkipPolicy(PolicyRules{}, allowCoreOverride)
}

// NewSkipPolicy builds the default policy extended with rules. Extra rules can
// only add protection; they never remove a default entry, and they are never
// overridable.
func NewSkipPolicy(rules PolicyRules, allowCoreOverride bool) *SkipPolicy {
	p := &SkipPolicy{
		RequiredDirs:      toSet(defaultSkipDirs, rules.ExtraDirs),
		RequiredFiles:     toSet(defaultSkipFiles, rules.ExtraFiles),
		OverridableFiles:  toSet(defaultOverridableFiles),
		AllowCoreOverride: allowCoreOverride,
		Patterns:          NewPatternMatcher(rules.ExtraPatterns),
	}
	for f := range toSet(rules.ExtraFiles) {
		delete(p.OverridableFiles, f)
	}
	return p
}

// Match evaluates rel against the policy. File rules match by exact path;
// directory rules match the directory itself and every descendant.
func (p *SkipPolicy) Match(rel string) SkipMatch {
	rel = normalizeRel(rel)
	if rel == "" {
		return SkipMatch{}
	}

	if _, ok := p.RequiredFiles[rel]; ok {
		_, overridable := p.OverridableFiles[rel]
		if !(overridable && p.AllowCoreOverride) {
			return SkipMatch{Skipped: true, Kind: SkipFile, Rule: rel}
		}
	}

	for anc := rel; anc != "." && anc != "/" && anc != ""; anc = path.Dir(anc) {
		if _, ok := p.RequiredDirs[anc]; ok {
			return SkipMatch{Skipped: true, Kind: SkipDir, Rule: anc + "/"}
		}
	}

	if rule, ok := p.Patterns.Match(rel); ok {
		return SkipMatch{Skipped: true, Kind: SkipPattern, Rule: rule}
	}
	return SkipMatch{}
}

// EffectiveFiles lists the file rules in force after applying the override
// flag, sorted.
func (p *SkipPolicy) EffectiveFiles() []string {
	var out []string
	for f := range p.RequiredFiles {
		if _, ok := p.OverridableFiles[f]; ok && p.AllowCoreOverride {
			continue
		}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// IsRequiredDir reports whether name is itself a protected directory.
func (p *SkipPolicy) IsRequiredDir(name string) bool {
	_, ok := p.RequiredDirs[normalizeRel(name)]
	return ok
}

func toSet(lists ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, list := range lists {
		for _, s := range list {
			if s = normalizeRel(s); s != "" {
				set[s] = struct{}{}
			}
		}
	}
	return set
}

// normalizeRel converts rel to a clean, slash-separated relative path with no
// leading "./" or "/" and no trailing separator.
func normalizeRel(rel string) string {
	rel = strings.TrimSpace(filepath.ToSlash(rel))
	if rel == "" {
		return ""
	}
	rel = path.Clean(rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "." {
		return ""
	}
	return rel
}
