package update_test

import (
	"slices"
	"testing"

	"panelup/internal/update"
)

func TestSkipPolicy_Match(t *testing.T) {
	policy := update.DefaultSkipPolicy(false)

	tests := []struct {
		rel  string
		skip bool
		kind update.SkipKind
	}{
		{"config", true, update.SkipDir},
		{"config/database.php", true, update.SkipFile},
		{"config/mail.php", true, update.SkipDir},
		{"uploads/2024/a.png", true, update.SkipDir},
		{"storage/logs/app.log", true, update.SkipDir},
		{"storage/views/home.php", false, ""},
		{".git/HEAD", true, update.SkipDir},
		{"install/step1.php", true, update.SkipDir},
		{".env", true, update.SkipFile},
		{"index.php", true, update.SkipFile},
		{".htaccess", true, update.SkipFile},
		{"public/index.php", false, ""},
		{"app/Controller.php", false, ""},
		{"configuration.md", false, ""},
		{"./config.php", true, update.SkipFile},
		{"/uploads", true, update.SkipDir},
		{"", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			m := policy.Match(tt.rel)
			if m.Skipped != tt.skip {
				t.Fatalf("Match(%q).Skipped = %v, want %v", tt.rel, m.Skipped, tt.skip)
			}
			if m.Kind != tt.kind {
				t.Errorf("Match(%q).Kind = %q, want %q", tt.rel, m.Kind, tt.kind)
			}
		})
	}
}

func TestSkipPolicy_AllowCoreOverride(t *testing.T) {
	t.Run("releases index.php and .htaccess only", func(t *testing.T) {
		policy := update.DefaultSkipPolicy(true)

		for _, rel := range []string{"index.php", ".htaccess"} {
			if m := policy.Match(rel); m.Skipped {
				t.Errorf("Match(%q) skipped with override, rule %s", rel, m.Rule)
			}
		}
		for _, rel := range []string{".env", "config.php", "config/database.php", "config/app.php"} {
			if m := policy.Match(rel); !m.Skipped {
				t.Errorf("Match(%q) not skipped with override", rel)
			}
		}
	})

	t.Run("effective files reflect the flag", func(t *testing.T) {
		off := update.DefaultSkipPolicy(false).EffectiveFiles()
		on := update.DefaultSkipPolicy(true).EffectiveFiles()

		if !slices.Contains(off, "index.php") {
			t.Errorf("EffectiveFiles() without override = %v, want index.php", off)
		}
		if slices.Contains(on, "index.php") || slices.Contains(on, ".htaccess") {
			t.Errorf("EffectiveFiles() with override = %v, want core files released", on)
		}
		if len(off)-len(on) != 2 {
			t.Errorf("override released %d files, want 2", len(off)-len(on))
		}
		if !slices.IsSorted(off) {
			t.Errorf("EffectiveFiles() = %v, want sorted", off)
		}
	})

	t.Run("does not release a directory-protected file", func(t *testing.T) {
		policy := update.DefaultSkipPolicy(true)
		if m := policy.Match("uploads/index.php"); !m.Skipped || m.Kind != update.SkipDir {
			t.Errorf("Match(uploads/index.php) = %+v, want dir skip", m)
		}
	})
}

func TestNewSkipPolicy_ExtraRules(t *testing.T) {
	rules := update.PolicyRules{
		ExtraDirs:     []string{"themes/custom/"},
		ExtraFiles:    []string{"robots.txt", "index.php"},
		ExtraPatterns: []string{"*.local", "public/*.map", "# comment", ""},
	}

	t.Run("adds protection", func(t *testing.T) {
		policy := update.NewSkipPolicy(rules, false)
		cases := map[string]update.SkipKind{
			"themes/custom/style.css": update.SkipDir,
			"robots.txt":              update.SkipFile,
			"app/settings.local":      update.SkipPattern,
			"public/app.js.map":       update.SkipPattern,
		}
		for rel, kind := range cases {
			m := policy.Match(rel)
			if !m.Skipped || m.Kind != kind {
				t.Errorf("Match(%q) = %+v, want %s skip", rel, m, kind)
			}
		}
		if m := policy.Match("public/js/app.js.map"); m.Skipped {
			t.Errorf("path pattern matched a deeper path: %+v", m)
		}
	})

	t.Run("extra file rules are never overridable", func(t *testing.T) {
		policy := update.NewSkipPolicy(rules, true)
		if m := policy.Match("index.php"); !m.Skipped {
			t.Error("index.php released although listed in extra files")
		}
		if m := policy.Match(".htaccess"); m.Skipped {
			t.Error(".htaccess still protected with override")
		}
	})

	t.Run("defaults survive", func(t *testing.T) {
		policy := update.NewSkipPolicy(rules, false)
		if m := policy.Match("config/database.php"); !m.Skipped {
			t.Error("default rule lost when extra rules were added")
		}
	})
}

func TestSkipPolicy_IsRequiredDir(t *testing.T) {
	policy := update.DefaultSkipPolicy(false)
	if !policy.IsRequiredDir("uploads/") {
		t.Error("IsRequiredDir(uploads/) = false")
	}
	if policy.IsRequiredDir("vendor") {
		t.Error("IsRequiredDir(vendor) = true")
	}
}

func TestPatternMatcher(t *testing.T) {
	m := update.NewPatternMatcher([]string{"*.bak", "/docs/*.md", "[", "  ", "#*.php"})

	if m.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", m.Len())
	}

	tests := []struct {
		rel  string
		rule string
		ok   bool
	}{
		{"a/b/c.bak", "*.bak", true},
		{"docs/readme.md", "docs/*.md", true},
		{"readme.md", "", false},
		{"src/main.php", "", false},
	}
	for _, tt := range tests {
		rule, ok := m.Match(tt.rel)
		if ok != tt.ok || rule != tt.rule {
			t.Errorf("Match(%q) = (%q, %v), want (%q, %v)", tt.rel, rule, ok, tt.rule, tt.ok)
		}
	}

	var empty *update.PatternMatcher
	if _, ok := empty.Match("x"); ok {
		t.Error("nil matcher matched")
	}
}
