package cache_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"panelup/internal/cache"
	"panelup/internal/testutil"
)

func newCache(t *testing.T, keep int) (*cache.DirCache, string) {
	t.Helper()
	dir := t.TempDir()
	c, err := cache.NewDirCache(dir, keep, testutil.NewFaultyFilesystemManager(), testutil.NewPrefixedIDGenerator("scratch"))
	if err != nil {
		t.Fatalf("NewDirCache() error = %v", err)
	}
	return c, dir
}

func TestDirCache_ArtifactPath(t *testing.T) {
	c, dir := newCache(t, 0)

	a, err := c.ArtifactPath("v1.3.0")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := c.ArtifactPath("v1.3.0")
	if a != b {
		t.Errorf("same tag mapped to %q and %q", a, b)
	}
	if filepath.Dir(a) != filepath.Join(dir, "artifacts") {
		t.Errorf("artifact path %q outside artifacts dir", a)
	}

	evil, err := c.ArtifactPath("../../etc/passwd")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(evil) != filepath.Join(dir, "artifacts") {
		t.Errorf("tag escaped the cache: %q", evil)
	}

	if _, err := c.ArtifactPath("  "); err == nil {
		t.Error("ArtifactPath() expected error for blank tag")
	}
}

func TestDirCache_NewScratchDir(t *testing.T) {
	c, _ := newCache(t, 0)

	a, err := c.NewScratchDir()
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.NewScratchDir()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("scratch directories were reused")
	}
	for _, d := range []string{a, b} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", d, err)
		}
	}
}

func TestDirCache_Prune(t *testing.T) {
	c, dir := newCache(t, 2)

	var dirs []string
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		d, err := c.NewScratchDir()
		if err != nil {
			t.Fatal(err)
		}
		mod := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(d, mod, mod); err != nil {
			t.Fatal(err)
		}
		dirs = append(dirs, d)
	}

	if err := c.Prune(); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "extract"))
	if len(entries) != 2 {
		t.Fatalf("kept %d scratch dirs, want 2", len(entries))
	}
	for _, d := range dirs[2:] {
		if _, err := os.Stat(d); err != nil {
			t.Errorf("newest scratch dir %s removed", d)
		}
	}
}
