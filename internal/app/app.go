package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"panelup/internal/archive"
	"panelup/internal/cache"
	"panelup/internal/config"
	"panelup/internal/database"
	"panelup/internal/encryption"
	"panelup/internal/export"
	"panelup/internal/fs"
	"panelup/internal/metrics"
	"panelup/internal/release"
	"panelup/internal/server"
	"panelup/internal/update"
	"panelup/internal/vault"
)

// CLISessionID is the session the command line works in. Each step
// (check, download, preview, install) picks up where the previous one left.
const CLISessionID = "cli"

// SessionRetention is how long an untouched admin session survives before
// the server prunes it at startup.
const SessionRetention = 30 * 24 * time.Hour

// Options tune how a PanelupApp is built.
type Options struct {
	// LogLevel drops log records below it. Nil logs everything.
	LogLevel slog.Leveler
}

// PanelupApp is the application layer between the CLI and the update
// service. It constructs all dependencies from config, runs the workflow
// steps against the persisted CLI session, and manages the DB lifecycle on
// Close.
type PanelupApp struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	fsmgr     *fs.OSFilesystemManager
	artifacts *cache.DirCache
	vault     update.Vault
	encryptor update.Encryptor
	exporter  *export.Exporter
	metrics   *metrics.Recorder
	service   *update.Service
	logger    update.Logger
	clock     update.Clock
	inv       *Invocation
	logFile   *os.File
}

// NewPanelupApp creates a fully wired PanelupApp from the given config.
// command identifies the CLI command being run (e.g. "install", "serve").
// The caller must call Close when done.
func NewPanelupApp(ctx context.Context, cfg *config.Config, command string, opts Options) (*PanelupApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeouts, err := cfg.Release.Timeouts()
	if err != nil {
		return nil, err
	}

	clock := update.RealClock{}
	inv := NewInvocation(command, clock.Now())
	slogger, logFile, err := newLogger(cfg.LogDir, inv.ID, opts.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &PanelupApp{cfg: cfg, logger: logger, clock: clock, inv: inv, logFile: logFile}
	if err := a.wire(ctx, timeouts); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("command started", "command", command, "install_root", cfg.InstallRoot)
	return a, nil
}

func (a *PanelupApp) wire(ctx context.Context, timeouts [2]time.Duration) error {
	cfg := a.cfg
	a.fsmgr = fs.NewOSFilesystemManager()

	db, err := database.NewDatabaseFromConfig(cfg.Database, a.clock)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db

	feed, err := release.NewGitHubFeed(release.FeedOptions{
		Repository: cfg.Release.Repository,
		APIBaseURL: cfg.Release.APIBaseURL,
		Token:      cfg.Release.Token,
		UserAgent:  cfg.Release.UserAgent,
		AssetName:  cfg.Release.AssetName,
		Timeout:    timeouts[0],
	})
	if err != nil {
		return fmt.Errorf("creating release feed: %w", err)
	}
	fetcher := release.NewFetcher(release.FetchOptions{
		Token:     cfg.Release.Token,
		UserAgent: cfg.Release.UserAgent,
		Timeout:   timeouts[1],
	})

	idgen := update.UUIDGenerator{}
	artifacts, err := cache.NewDirCache(cfg.Cache.Dir, cfg.Cache.KeepScratch, a.fsmgr, idgen)
	if err != nil {
		return fmt.Errorf("creating artifact cache: %w", err)
	}
	a.artifacts = artifacts

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	if cfg.Vault.Type != "" {
		v, err := vault.NewVaultFromConfig(ctx, cfg.Vault)
		if err != nil {
			return fmt.Errorf("creating vault: %w", err)
		}
		a.vault = v

		var exportEnc update.Encryptor
		if cfg.Backup.Export.Encrypt {
			exportEnc = enc
		}
		a.exporter = export.NewExporter(v, exportEnc, a.logger, filepath.Join(cfg.Cache.Dir, "export"))
	}

	a.metrics = metrics.NewRecorder()

	rules := update.PolicyRules{
		ExtraDirs:     cfg.Policy.ExtraSkipDirs,
		ExtraFiles:    cfg.Policy.ExtraSkipFiles,
		ExtraPatterns: cfg.Policy.ExtraSkipPatterns,
	}
	deps := update.Dependencies{
		Feed:        feed,
		Fetcher:     fetcher,
		Extractor:   archive.NewExtractor(a.logger),
		Cache:       artifacts,
		FS:          a.fsmgr,
		Settings:    db,
		History:     db,
		Locker:      fs.NewFileLocker(),
		Snapshotter: update.NewSnapshotter(a.fsmgr, a.clock, a.logger, cfg.Backup.Dir, cfg.Backup.Include, update.NewSkipPolicy(rules, false)),
		Metrics:     a.metrics,
		Logger:      a.logger,
		Clock:       a.clock,
		IDGen:       idgen,
	}
	if cfg.Backup.Export.Enabled && a.exporter != nil {
		if err := os.MkdirAll(filepath.Join(cfg.Cache.Dir, "export"), 0755); err != nil {
			return fmt.Errorf("creating export staging directory: %w", err)
		}
		deps.Exporter = a.exporter
	}

	a.service = update.NewService(deps, update.ServiceConfig{
		InstallRoot:           cfg.InstallRoot,
		FallbackVersion:       cfg.CurrentVersion,
		Rules:                 rules,
		RequireCompleteBackup: cfg.Backup.RequireComplete,
	})
	return nil
}

// Service returns the wired update service.
func (a *PanelupApp) Service() *update.Service { return a.service }

// Invocation returns the record of the running command.
func (a *PanelupApp) Invocation() *Invocation { return a.inv }

// session loads the CLI session, starting a fresh one when none is stored.
func (a *PanelupApp) session() (update.Session, error) {
	sess, err := a.db.LoadSession(CLISessionID)
	if err != nil {
		return update.Session{}, fmt.Errorf("loading session: %w", err)
	}
	if sess == nil {
		return update.NewSession(CLISessionID, "", a.clock.Now()), nil
	}
	return *sess, nil
}

func (a *PanelupApp) save(sess update.Session) error {
	if err := a.db.SaveSession(&sess); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

type step func(update.Session) (update.Session, *update.Outcome)

// run executes one workflow step against the CLI session and persists the
// successor. The returned error is the outcome's failure, if any.
func (a *PanelupApp) run(fn step) (*update.Outcome, error) {
	sess, err := a.session()
	if err != nil {
		return nil, err
	}
	next, out := fn(sess)
	if err := a.save(next); err != nil {
		return out, err
	}
	return out, out.Err
}

// Check resolves the latest release.
func (a *PanelupApp) Check(ctx context.Context) (*update.Outcome, error) {
	return a.run(func(s update.Session) (update.Session, *update.Outcome) {
		return a.service.Check(ctx, s)
	})
}

// Download fetches the latest release. A session that has not been checked
// yet is checked first.
func (a *PanelupApp) Download(ctx context.Context) (*update.Outcome, error) {
	return a.run(func(s update.Session) (update.Session, *update.Outcome) {
		if s.Release == nil {
			var out *update.Outcome
			if s, out = a.service.Check(ctx, s); out.Err != nil {
				return s, out
			}
		}
		return a.service.Download(ctx, s)
	})
}

// Preview dry-runs the downloaded release against the installation.
func (a *PanelupApp) Preview(ctx context.Context, allowCoreOverride bool) (*update.Outcome, error) {
	return a.run(func(s update.Session) (update.Session, *update.Outcome) {
		return a.service.Preview(ctx, s, update.Options{AllowCoreOverride: allowCoreOverride})
	})
}

// Install applies the downloaded release.
func (a *PanelupApp) Install(ctx context.Context, allowCoreOverride bool) (*update.Outcome, error) {
	return a.run(func(s update.Session) (update.Session, *update.Outcome) {
		return a.service.Install(ctx, s, update.Options{AllowCoreOverride: allowCoreOverride})
	})
}

// ResetSession forgets the CLI session.
func (a *PanelupApp) ResetSession() error {
	return a.db.DeleteSession(CLISessionID)
}

// History returns the most recent operations.
func (a *PanelupApp) History(limit int) ([]*update.Operation, error) {
	return a.service.History(limit)
}

// Backups lists the local snapshots.
func (a *PanelupApp) Backups() ([]*update.BackupSnapshot, error) {
	return a.service.Backups()
}

// Exports lists the snapshot exports stored in the vault.
func (a *PanelupApp) Exports() ([]string, error) {
	if a.exporter == nil {
		return nil, fmt.Errorf("no vault configured")
	}
	return a.exporter.List()
}

// PullExport downloads an export to dest. Encrypted exports are decrypted
// with the private key unlocked by passphrase.
func (a *PanelupApp) PullExport(key, passphrase, dest string) error {
	if a.exporter == nil {
		return fmt.Errorf("no vault configured")
	}
	var dc update.DecryptionContext
	if export.IsEncrypted(key) {
		var err error
		if dc, err = a.encryptor.Unlock(passphrase); err != nil {
			return fmt.Errorf("unlocking private key: %w", err)
		}
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if err := a.exporter.Pull(key, dc, absDest); err != nil {
		return err
	}
	a.logger.Info("export pulled", "key", key, "dest", absDest)
	return nil
}

// SetupCheck is the result of one CheckSetup probe. Err is nil when the
// probe passed.
type SetupCheck struct {
	Name   string
	Detail string
	Err    error
}

// CheckSetup probes the database schema, the encryption keys, the vault and
// the artifact cache. It never stops at the first failure.
func (a *PanelupApp) CheckSetup() []SetupCheck {
	var checks []SetupCheck

	checks = append(checks, SetupCheck{Name: "database", Detail: a.cfg.Database.Type, Err: a.db.CheckSchema()})

	enc := SetupCheck{Name: "encryption", Detail: a.cfg.Encryption.Type}
	if a.cfg.Backup.Export.Encrypt && !a.encryptor.IsConfigured() {
		enc.Err = fmt.Errorf("export encryption is enabled but no keys are set up (run 'panelup config keys')")
	}
	checks = append(checks, enc)

	vc := SetupCheck{Name: "vault", Detail: a.cfg.Vault.Type}
	switch {
	case a.vault != nil:
		vc.Err = a.vault.ValidateSetup()
	case a.cfg.Backup.Export.Enabled:
		vc.Err = fmt.Errorf("backup export is enabled but no vault is configured")
	default:
		vc.Detail = "not configured"
	}
	checks = append(checks, vc)

	cc := SetupCheck{Name: "cache", Detail: a.cfg.Cache.Dir}
	if files, err := a.artifacts.Artifacts(); err != nil {
		cc.Err = err
	} else {
		cc.Detail = fmt.Sprintf("%s (%d cached archives)", a.cfg.Cache.Dir, len(files))
	}
	checks = append(checks, cc)

	for _, c := range checks {
		if c.Err != nil {
			a.logger.Warn("setup check failed", "check", c.Name, "error", c.Err)
		}
	}
	return checks
}

// NewServer builds the admin HTTP server. Sessions idle for longer than
// SessionRetention are pruned first.
func (a *PanelupApp) NewServer() (*server.Server, error) {
	n, err := a.db.PruneSessions(a.clock.Now().Add(-SessionRetention))
	if err != nil {
		return nil, err
	}
	if n > 0 {
		a.logger.Info("pruned idle sessions", "count", n)
	}
	return server.NewServer(server.Config{
		ListenAddr:        a.cfg.Server.ListenAddr,
		AdminUser:         a.cfg.Server.AdminUser,
		AdminPasswordHash: a.cfg.Server.AdminPasswordHash,
		Service:           a.service,
		Sessions:          a.db,
		Metrics:           a.metrics,
		Logger:            a.logger,
		Clock:             a.clock,
		IDGen:             update.UUIDGenerator{},
	})
}

// Finish records the command result in the log.
func (a *PanelupApp) Finish(err error) {
	a.inv.Finish(err)
	d := a.clock.Now().Sub(a.inv.StartedAt)
	if err != nil {
		a.logger.Error("command failed", "command", a.inv.Command, "duration", d, "error", err)
		return
	}
	a.logger.Info("command finished", "command", a.inv.Command, "duration", d)
}

// Close closes the database and the log file.
func (a *PanelupApp) Close() error {
	var firstErr error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
