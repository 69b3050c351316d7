package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"panelup/internal/archive"
	"panelup/internal/cache"
	"panelup/internal/database"
	"panelup/internal/encryption"
	"panelup/internal/export"
	osfs "panelup/internal/fs"
	"panelup/internal/release"
	"panelup/internal/update"
)

// ReleaseWrapper is the top-level directory of archives served by the
// harness, shaped like a forge source zipball.
const ReleaseWrapper = "acme-panel-3f2a1c9"

// HarnessOptions configures NewServiceHarness.
type HarnessOptions struct {
	// Tag and Release describe the published release. Tag defaults to "v1.3.0".
	Tag     string
	Release map[string]string

	// Installed is written to the install root before the service starts.
	Installed map[string]string

	// FallbackVersion defaults to "1.2.3".
	FallbackVersion string

	Rules update.PolicyRules

	// AllowIncompleteBackup turns off RequireCompleteBackup.
	AllowIncompleteBackup bool

	// Export wires an exporter to an in-memory vault.
	Export bool
}

// ServiceHarness is a fully wired update.Service over temp directories, a
// fake release server and an in-memory database.
type ServiceHarness struct {
	Service     *update.Service
	InstallRoot string
	BackupDir   string
	CacheDir    string
	FS          *FaultyFilesystemManager
	DB          *database.SQLiteDatabase
	Releases    *ReleaseServer
	Clock       *StubClock
	Vault       *FlakyVault
}

// NewServiceHarness builds a ServiceHarness. All resources are released when
// the test completes.
func NewServiceHarness(t *testing.T, opts HarnessOptions) *ServiceHarness {
	t.Helper()
	if opts.Tag == "" {
		opts.Tag = "v1.3.0"
	}
	if opts.FallbackVersion == "" {
		opts.FallbackVersion = "1.2.3"
	}

	base := t.TempDir()
	h := &ServiceHarness{
		InstallRoot: filepath.Join(base, "install"),
		BackupDir:   filepath.Join(base, "backups"),
		CacheDir:    filepath.Join(base, "cache"),
		FS:          NewFaultyFilesystemManager(),
		DB:          NewTestDatabase(t),
		Clock:       FixedClock(),
	}
	if err := os.MkdirAll(h.InstallRoot, 0755); err != nil {
		t.Fatal(err)
	}
	WriteTree(t, h.InstallRoot, opts.Installed)

	h.Releases = NewReleaseServer(t, opts.Tag, ZipBytes(t, ReleaseWrapper, opts.Release))

	feed, err := release.NewGitHubFeed(release.FeedOptions{
		Repository: ReleaseRepository,
		APIBaseURL: h.Releases.URL,
	})
	if err != nil {
		t.Fatalf("NewGitHubFeed() error = %v", err)
	}
	artifacts, err := cache.NewDirCache(h.CacheDir, cache.DefaultKeepScratch, h.FS, NewPrefixedIDGenerator("scratch"))
	if err != nil {
		t.Fatalf("NewDirCache() error = %v", err)
	}

	logger := update.NewNopLogger()
	deps := update.Dependencies{
		Feed:        feed,
		Fetcher:     release.NewFetcher(release.FetchOptions{}),
		Extractor:   archive.NewExtractor(logger),
		Cache:       artifacts,
		FS:          h.FS,
		Settings:    h.DB,
		History:     h.DB,
		Locker:      osfs.NewFileLocker(),
		Snapshotter: update.NewSnapshotter(h.FS, h.Clock, logger, h.BackupDir, nil, update.NewSkipPolicy(opts.Rules, false)),
		Logger:      logger,
		Clock:       h.Clock,
		IDGen:       NewPrefixedIDGenerator("op"),
	}
	if opts.Export {
		h.Vault = NewFlakyVault()
		deps.Exporter = export.NewExporter(h.Vault, encryption.NewTestEncryptor(), logger, t.TempDir())
	}

	h.Service = update.NewService(deps, update.ServiceConfig{
		InstallRoot:           h.InstallRoot,
		FallbackVersion:       opts.FallbackVersion,
		Rules:                 opts.Rules,
		RequireCompleteBackup: !opts.AllowIncompleteBackup,
	})
	h.FS.Reset()
	return h
}

// NewSession returns an idle session for the harness clock.
func (h *ServiceHarness) NewSession() update.Session {
	return update.NewSession("sess-1", "csrf-token", h.Clock.Now())
}
