package cache

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"panelup/internal/update"
)

// DefaultKeepScratch is how many extraction directories Prune leaves behind.
const DefaultKeepScratch = 3

// DirCache is a directory-backed artifact cache.
//
// Directory structure:
//
//	<cache_dir>/
//	  artifacts/
//	    <sanitized tag>.archive
//	  extract/
//	    <uuid>/           (one per preview or install)
type DirCache struct {
	artifactsDir string
	extractDir   string
	keep         int
	fsmgr        update.FilesystemManager
	idgen        update.IDGenerator
}

// NewDirCache creates the cache directories under dir.
func NewDirCache(dir string, keep int, fsmgr update.FilesystemManager, idgen update.IDGenerator) (*DirCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache requires dir to be set")
	}
	if keep <= 0 {
		keep = DefaultKeepScratch
	}
	c := &DirCache{
		artifactsDir: filepath.Join(dir, "artifacts"),
		extractDir:   filepath.Join(dir, "extract"),
		keep:         keep,
		fsmgr:        fsmgr,
		idgen:        idgen,
	}
	for _, d := range []string{c.artifactsDir, c.extractDir} {
		if err := fsmgr.MkdirAll(d); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	return c, nil
}

// ArtifactPath maps a tag to a stable file name, so fetching the same tag
// twice replaces the earlier download.
func (c *DirCache) ArtifactPath(tag string) (string, error) {
	name := sanitizeTag(tag)
	if name == "" {
		return "", fmt.Errorf("invalid release tag %q", tag)
	}
	return filepath.Join(c.artifactsDir, name+".archive"), nil
}

// NewScratchDir creates a directory that has never been used before.
func (c *DirCache) NewScratchDir() (string, error) {
	dir := filepath.Join(c.extractDir, c.idgen.New())
	if _, err := c.fsmgr.Stat(dir); err == nil {
		return "", fmt.Errorf("scratch directory %s already exists", dir)
	}
	if err := c.fsmgr.MkdirAll(dir); err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}
	return dir, nil
}

// Prune keeps the most recently modified scratch directories and removes
// the rest.
func (c *DirCache) Prune() error {
	entries, err := c.fsmgr.ReadDir(c.extractDir)
	if err != nil {
		return fmt.Errorf("reading scratch directories: %w", err)
	}

	type scratch struct {
		path string
		mod  int64
	}
	var dirs []scratch
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, scratch{path: filepath.Join(c.extractDir, e.Name()), mod: info.ModTime().UnixNano()})
	}
	if len(dirs) <= c.keep {
		return nil
	}

	sort.Slice(dirs, func(i, j int) bool {
		if dirs[i].mod != dirs[j].mod {
			return dirs[i].mod > dirs[j].mod
		}
		return dirs[i].path > dirs[j].path
	})
	for _, d := range dirs[c.keep:] {
		if err := c.fsmgr.RemoveAll(d.path); err != nil {
			return fmt.Errorf("removing %s: %w", d.path, err)
		}
	}
	return nil
}

// Artifacts lists the cached archive files.
func (c *DirCache) Artifacts() ([]string, error) {
	entries, err := c.fsmgr.ReadDir(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".archive") {
			out = append(out, filepath.Join(c.artifactsDir, e.Name()))
		}
	}
	return out, nil
}

func sanitizeTag(tag string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(tag) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}

var _ update.ArtifactCache = (*DirCache)(nil)
