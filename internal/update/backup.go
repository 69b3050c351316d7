package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultBackupInclude is the whitelist of top-level "code" items copied into
// a snapshot before an install.
var DefaultBackupInclude = []string{
	"app",
	"src",
	"public",
	"resources",
	"routes",
	"vendor",
	"index.php",
	"composer.json",
	"composer.lock",
	"version.txt",
}

const (
	snapshotTimeFormat = "20060102-150405"
	snapshotManifest   = ".panelup-snapshot.json"
)

// BackupFailure records one whitelisted item that could not be fully copied.
type BackupFailure struct {
	Item string `json:"item"`
	Err  string `json:"error"`
}

// BackupSnapshot describes a pre-install copy of the installation's code.
type BackupSnapshot struct {
	Name      string          `json:"name"`
	Path      string          `json:"path"`
	Label     string          `json:"label,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Items     []string        `json:"items"`
	Failures  []BackupFailure `json:"failures,omitempty"`
}

// Complete reports whether every whitelisted item was copied.
func (b *BackupSnapshot) Complete() bool {
	return len(b.Failures) == 0
}

// Snapshotter copies the whitelisted part of an installation into a new,
// timestamped directory under its backups root.
type Snapshotter struct {
	fsmgr   FilesystemManager
	clock   Clock
	logger  Logger
	dir     string
	include []string
}

// NewSnapshotter creates a Snapshotter writing under dir. Whitelisted items
// that the policy protects as data directories are dropped from include.
func NewSnapshotter(fsmgr FilesystemManager, clock Clock, logger Logger, dir string, include []string, policy *SkipPolicy) *Snapshotter {
	if len(include) == 0 {
		include = DefaultBackupInclude
	}
	var items []string
	for _, item := range include {
		item = normalizeRel(item)
		if item == "" || (policy != nil && policy.IsRequiredDir(item)) {
			continue
		}
		items = append(items, item)
	}
	return &Snapshotter{fsmgr: fsmgr, clock: clock, logger: logger, dir: dir, include: items}
}

// Dir returns the backups root.
func (s *Snapshotter) Dir() string { return s.dir }

// Snapshot creates a new snapshot of root. Items missing from root are
// ignored; items that fail to copy are collected in Failures rather than
// aborting the snapshot. An error is returned only when the snapshot
// directory itself cannot be created.
func (s *Snapshotter) Snapshot(root, label string) (*BackupSnapshot, error) {
	now := s.clock.Now()
	label = sanitizeLabel(label)

	name, path, err := s.reserve(now, label)
	if err != nil {
		return nil, NewError(KindFileSystem, "creating backup directory", err)
	}

	snap := &BackupSnapshot{Name: name, Path: path, Label: label, CreatedAt: now, Items: []string{}}
	for _, item := range s.include {
		src := filepath.Join(root, filepath.FromSlash(item))
		if _, err := s.fsmgr.Stat(src); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				snap.Failures = append(snap.Failures, BackupFailure{Item: item, Err: err.Error()})
			}
			continue
		}
		if err := s.copyTree(src, filepath.Join(path, filepath.FromSlash(item))); err != nil {
			snap.Failures = append(snap.Failures, BackupFailure{Item: item, Err: err.Error()})
			s.logger.Warn("backup item incomplete", "item", item, "error", err)
			continue
		}
		snap.Items = append(snap.Items, item)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err == nil {
		err = s.fsmgr.WriteFile(filepath.Join(path, snapshotManifest), data)
	}
	if err != nil {
		snap.Failures = append(snap.Failures, BackupFailure{Item: snapshotManifest, Err: err.Error()})
	}

	s.logger.Info("backup snapshot created", "path", path, "items", len(snap.Items), "failures", len(snap.Failures))
	return snap, nil
}

// reserve picks a snapshot directory name that does not exist yet, so an
// earlier snapshot is never overwritten.
func (s *Snapshotter) reserve(now time.Time, label string) (string, string, error) {
	base := now.UTC().Format(snapshotTimeFormat)
	if label != "" {
		base += "-" + label
	}
	for i := 1; i < 1000; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		path := filepath.Join(s.dir, name)
		if _, err := s.fsmgr.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", "", err
		}
		if err := s.fsmgr.MkdirAll(path); err != nil {
			return "", "", err
		}
		return name, path, nil
	}
	return "", "", fmt.Errorf("too many snapshots named %s", base)
}

// copyTree copies src (file or directory) to dst, continuing past individual
// failures and returning them joined.
func (s *Snapshotter) copyTree(src, dst string) error {
	info, err := s.fsmgr.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if err := s.fsmgr.MkdirAll(filepath.Dir(dst)); err != nil {
			return err
		}
		return s.fsmgr.CopyFile(src, dst)
	}

	if err := s.fsmgr.MkdirAll(dst); err != nil {
		return err
	}
	var errs []error
	for e, err := range Walk(s.fsmgr, src) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Path, err))
			continue
		}
		target := filepath.Join(dst, filepath.FromSlash(e.Rel))
		if e.IsDir {
			if err := s.fsmgr.MkdirAll(target); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", e.Rel, err))
			}
			continue
		}
		switch {
		case e.Type&fs.ModeSymlink != 0:
			err = s.fsmgr.CopyLink(e.Path, target)
		case e.Type.IsRegular():
			err = s.fsmgr.CopyFile(e.Path, target)
		default:
			err = fmt.Errorf("unsupported file type %s", e.Type.Type())
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Rel, err))
		}
	}
	return errors.Join(errs...)
}

// ListBackups returns the snapshots under dir, newest first. Directories
// without a readable manifest are reported with what their name reveals.
func ListBackups(fsmgr FilesystemManager, dir string) ([]*BackupSnapshot, error) {
	entries, err := fsmgr.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backups directory: %w", err)
	}

	var snaps []*BackupSnapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		snap := &BackupSnapshot{Name: e.Name(), Path: path}
		if data, err := fsmgr.ReadFile(filepath.Join(path, snapshotManifest)); err == nil {
			if err := json.Unmarshal(data, snap); err != nil {
				return nil, fmt.Errorf("parsing manifest of %s: %w", e.Name(), err)
			}
			snap.Path = path
		} else if len(e.Name()) >= len(snapshotTimeFormat) {
			if t, err := time.Parse(snapshotTimeFormat, e.Name()[:len(snapshotTimeFormat)]); err == nil {
				snap.CreatedAt = t
			}
		}
		snaps = append(snaps, snap)
	}

	sort.SliceStable(snaps, func(i, j int) bool {
		if !snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
		}
		return snaps[i].Name > snaps[j].Name
	})
	return snaps, nil
}

func sanitizeLabel(label string) string {
	label = strings.TrimSpace(label)
	var b strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
