package update

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// maxSkippedShown caps how many skipped archive entries a warning names.
const maxSkippedShown = 5

// Dependencies are the collaborators of a Service. Exporter and Metrics are
// optional.
type Dependencies struct {
	Feed        ReleaseFeed
	Fetcher     ArtifactFetcher
	Extractor   Extractor
	Cache       ArtifactCache
	FS          FilesystemManager
	Settings    SettingsStore
	History     HistoryStore
	Locker      Locker
	Snapshotter *Snapshotter
	Exporter    BackupExporter
	Metrics     Metrics
	Logger      Logger
	Clock       Clock
	IDGen       IDGenerator
}

// ServiceConfig holds the installation-specific settings of a Service.
type ServiceConfig struct {
	InstallRoot string

	// FallbackVersion is used when the settings store has no app_version.
	FallbackVersion string

	Rules PolicyRules

	// RequireCompleteBackup makes Install refuse to touch the installation
	// when any whitelisted item failed to back up.
	RequireCompleteBackup bool
}

// Options are the per-call choices of an admin.
type Options struct {
	AllowCoreOverride bool
}

// MessageLevel grades a Message.
type MessageLevel string

const (
	LevelInfo    MessageLevel = "info"
	LevelWarning MessageLevel = "warning"
	LevelError   MessageLevel = "error"
)

// Message is a line of feedback for the admin.
type Message struct {
	Level MessageLevel `json:"level"`
	Text  string       `json:"text"`
}

// Outcome is the result of one Service operation.
type Outcome struct {
	Action         Action
	Availability   Availability
	CurrentVersion string
	Release        *Release
	Report         *Report
	Backup         *BackupSnapshot
	ExportKey      string
	Messages       []Message

	// Err is the failure that ended the operation, if any.
	Err error
}

func (o *Outcome) info(format string, args ...any) {
	o.Messages = append(o.Messages, Message{Level: LevelInfo, Text: fmt.Sprintf(format, args...)})
}

func (o *Outcome) warn(format string, args ...any) {
	o.Messages = append(o.Messages, Message{Level: LevelWarning, Text: fmt.Sprintf(format, args...)})
}

func (o *Outcome) fail(err error) {
	o.Err = err
	o.Messages = append(o.Messages, Message{Level: LevelError, Text: err.Error()})
}

// Service orchestrates check, download, preview and install.
type Service struct {
	deps       Dependencies
	cfg        ServiceConfig
	reconciler *Reconciler
}

// NewService creates a Service with the provided dependencies.
func NewService(deps Dependencies, cfg ServiceConfig) *Service {
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = NewNopLogger()
	}
	return &Service{
		deps:       deps,
		cfg:        cfg,
		reconciler: NewReconciler(deps.FS, deps.Logger, deps.Clock),
	}
}

// CurrentVersion returns the installed version: the app_version setting
// when present, otherwise the configured fallback.
func (s *Service) CurrentVersion() string {
	if s.deps.Settings != nil {
		v, ok, err := s.deps.Settings.GetSetting(SettingAppVersion)
		if err != nil {
			s.deps.Logger.Warn("reading installed version", "error", err)
		} else if ok && v != "" {
			return NormalizeVersion(v)
		}
	}
	return NormalizeVersion(s.cfg.FallbackVersion)
}

// Check resolves the latest release. A feed failure yields Unknown
// availability and a warning, and the session keeps its previous release.
func (s *Service) Check(ctx context.Context, sess Session) (Session, *Outcome) {
	start := s.deps.Clock.Now()
	out := &Outcome{Action: ActionCheck, CurrentVersion: s.CurrentVersion()}

	rel, err := s.deps.Feed.Latest(ctx)
	if err != nil {
		out.Availability = AvailabilityUnknown
		out.Err = err
		out.warn("could not check for updates: %v", err)
		s.deps.Logger.Warn("release check failed", "error", err)
		s.deps.Metrics.ObserveAction(ActionCheck, StatusFailed, s.deps.Clock.Now().Sub(start))
		s.deps.Metrics.SetAvailability(out.Availability)
		sess.LastError = err.Error()
		sess.UpdatedAt = s.deps.Clock.Now()
		return sess, out
	}

	out.Release = rel
	out.Availability = CheckAvailability(out.CurrentVersion, rel)
	switch out.Availability {
	case AvailabilityAvailable:
		out.info("version %s is available (installed %s)", rel.Version(), out.CurrentVersion)
	case AvailabilityUpToDate:
		out.info("installed version %s is up to date", out.CurrentVersion)
	}

	// A download of the same tag stays valid across checks.
	if !(sess.HasArtifact() && sess.ArtifactTag == rel.Tag) {
		sess.ArtifactPath = ""
		sess.ArtifactTag = ""
		sess.LastReport = nil
		sess.State = StateChecked
	}
	sess.Release = rel
	sess.LastError = ""
	sess.UpdatedAt = s.deps.Clock.Now()

	s.deps.Logger.Info("release checked", "tag", rel.Tag, "current", out.CurrentVersion, "availability", out.Availability.String())
	s.deps.Metrics.ObserveAction(ActionCheck, StatusSuccess, s.deps.Clock.Now().Sub(start))
	s.deps.Metrics.SetAvailability(out.Availability)
	return sess, out
}

// Download fetches the session's release archive into the cache.
func (s *Service) Download(ctx context.Context, sess Session) (Session, *Outcome) {
	start := s.deps.Clock.Now()
	out := &Outcome{Action: ActionDownload, CurrentVersion: s.CurrentVersion(), Release: sess.Release}

	if sess.Release == nil {
		out.fail(Errorf(KindValidation, "download", "no release resolved, check for updates first"))
		return s.finish(sess, out, start, StatusFailed)
	}
	if sess.Release.ArchiveURL == "" {
		out.fail(Errorf(KindConfiguration, "download", "release %s has no archive url", sess.Release.Tag))
		return s.finish(sess, out, start, StatusFailed)
	}

	dest, err := s.deps.Cache.ArtifactPath(sess.Release.Tag)
	if err != nil {
		out.fail(NewError(KindFileSystem, "resolving artifact path", err))
		return s.finish(sess, out, start, StatusFailed)
	}
	n, err := s.deps.Fetcher.Fetch(ctx, sess.Release.ArchiveURL, dest)
	if err != nil {
		out.fail(err)
		return s.finish(sess, out, start, StatusFailed)
	}

	sess.ArtifactPath = dest
	sess.ArtifactTag = sess.Release.Tag
	sess.LastReport = nil
	sess.State = StateDownloaded
	out.info("downloaded %s (%d bytes)", sess.Release.Tag, n)
	s.deps.Logger.Info("release downloaded", "tag", sess.Release.Tag, "path", dest, "bytes", n)
	return s.finish(sess, out, start, StatusSuccess)
}

// Preview reports what Install would do without touching the installation.
func (s *Service) Preview(ctx context.Context, sess Session, opts Options) (Session, *Outcome) {
	start := s.deps.Clock.Now()
	out := &Outcome{Action: ActionPreview, CurrentVersion: s.CurrentVersion(), Release: sess.Release}

	if !sess.HasArtifact() {
		out.fail(Errorf(KindValidation, "preview", "no downloaded release in this session"))
		return s.finish(sess, out, start, StatusFailed)
	}

	root, err := s.extract(sess, out)
	if err != nil {
		out.fail(err)
		return s.finish(sess, out, start, StatusFailed)
	}

	policy := NewSkipPolicy(s.cfg.Rules, opts.AllowCoreOverride)
	report, err := s.reconciler.Reconcile(root, s.cfg.InstallRoot, policy, ModePreview)
	if err != nil {
		out.fail(err)
		return s.finish(sess, out, start, StatusFailed)
	}
	report.SourceTag = sess.ArtifactTag
	out.Report = report
	s.deps.Metrics.ObserveReport(report)
	out.info("%d files would change, %d unchanged, %d skipped", report.Stats.Changed(), report.Stats.Same, report.Stats.Skipped)
	if n := report.Stats.NotWritable; n > 0 {
		out.warn("%d entries could not be evaluated", n)
	}

	sess.LastReport = report.Truncated(DisplayHead, DisplayTail)
	sess.State = StatePreviewed
	return s.finish(sess, out, start, StatusSuccess)
}

// Install backs up the installation and merges the downloaded release onto
// it. The installed version is recorded only when every entry succeeded.
func (s *Service) Install(ctx context.Context, sess Session, opts Options) (Session, *Outcome) {
	start := s.deps.Clock.Now()
	out := &Outcome{Action: ActionInstall, CurrentVersion: s.CurrentVersion(), Release: sess.Release}

	if !sess.HasArtifact() {
		out.fail(Errorf(KindValidation, "install", "no downloaded release in this session"))
		return s.finish(sess, out, start, StatusFailed)
	}

	lock, err := s.deps.Locker.TryLock(s.cfg.InstallRoot)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			out.fail(Errorf(KindValidation, "install", "another install is in progress"))
		} else {
			out.fail(NewError(KindFileSystem, "acquiring install lock", err))
		}
		return s.finish(sess, out, start, StatusFailed)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.deps.Logger.Warn("releasing install lock", "error", err)
		}
	}()

	root, err := s.extract(sess, out)
	if err != nil {
		out.fail(err)
		sess.State = StateFailed
		return s.finish(sess, out, start, StatusFailed)
	}

	snap, err := s.deps.Snapshotter.Snapshot(s.cfg.InstallRoot, sess.ArtifactTag)
	if err != nil {
		out.fail(err)
		sess.State = StateFailed
		return s.finish(sess, out, start, StatusFailed)
	}
	out.Backup = snap
	out.info("backup written to %s", snap.Path)
	for _, f := range snap.Failures {
		out.warn("backup of %s incomplete: %s", f.Item, f.Err)
	}
	if !snap.Complete() && s.cfg.RequireCompleteBackup {
		out.fail(Errorf(KindFileSystem, "install", "backup incomplete (%d items failed), installation left unchanged", len(snap.Failures)))
		sess.State = StateFailed
		return s.finish(sess, out, start, StatusFailed)
	}

	if s.deps.Exporter != nil {
		key, err := s.deps.Exporter.Export(snap)
		if err != nil {
			out.warn("backup export failed: %v", err)
			s.deps.Logger.Warn("backup export failed", "snapshot", snap.Name, "error", err)
		} else {
			out.ExportKey = key
			out.info("backup exported as %s", key)
		}
	}

	policy := NewSkipPolicy(s.cfg.Rules, opts.AllowCoreOverride)
	report, err := s.reconciler.Reconcile(root, s.cfg.InstallRoot, policy, ModeInstall)
	if err != nil {
		out.fail(err)
		sess.State = StateFailed
		return s.finish(sess, out, start, StatusFailed)
	}
	report.SourceTag = sess.ArtifactTag
	out.Report = report
	sess.LastReport = report.Truncated(DisplayHead, DisplayTail)
	s.deps.Metrics.ObserveReport(report)

	if n := report.Stats.NotWritable; n > 0 {
		out.fail(Errorf(KindFileSystem, "install", "%d entries failed, installed version not recorded", n))
		sess.State = StateFailed
		return s.finish(sess, out, start, StatusPartial)
	}

	version := NormalizeVersion(sess.ArtifactTag)
	err = s.deps.Settings.SetSettings(map[string]string{
		SettingAppVersion:   version,
		SettingLastUpdateAt: s.deps.Clock.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		out.fail(fmt.Errorf("recording installed version: %w", err))
		sess.State = StateFailed
		return s.finish(sess, out, start, StatusPartial)
	}

	out.CurrentVersion = version
	out.info("installed %s: %d copied, %d updated, %d unchanged, %d skipped",
		version, report.Stats.Copied, report.Stats.Updated, report.Stats.Same, report.Stats.Skipped)
	sess.State = StateInstalled
	return s.finish(sess, out, start, StatusSuccess)
}

// extract unpacks the session's artifact into a fresh scratch directory.
// Entries the extractor could not write are reported as a warning.
func (s *Service) extract(sess Session, out *Outcome) (string, error) {
	dir, err := s.deps.Cache.NewScratchDir()
	if err != nil {
		return "", NewError(KindFileSystem, "creating scratch directory", err)
	}
	res, err := s.deps.Extractor.Extract(sess.ArtifactPath, dir)
	if err != nil {
		return "", err
	}
	if n := len(res.Skipped); n > 0 {
		shown := res.Skipped
		if n > maxSkippedShown {
			shown = shown[:maxSkippedShown]
		}
		more := ""
		if n > len(shown) {
			more = fmt.Sprintf(" and %d more", n-len(shown))
		}
		out.warn("%d archive entries are links or special files and were not applied: %s%s",
			n, strings.Join(shown, ", "), more)
	}
	if err := s.deps.Cache.Prune(); err != nil {
		s.deps.Logger.Warn("pruning scratch directories", "error", err)
	}
	return res.Root, nil
}

// finish stamps the session, records history and metrics.
func (s *Service) finish(sess Session, out *Outcome, start time.Time, status string) (Session, *Outcome) {
	now := s.deps.Clock.Now()
	sess.UpdatedAt = now
	if out.Err != nil {
		sess.LastError = out.Err.Error()
		s.deps.Logger.Error("update action failed", "action", string(out.Action), "error", out.Err)
	} else {
		sess.LastError = ""
	}

	op := &Operation{
		ID:         s.deps.IDGen.New(),
		SessionID:  sess.ID,
		Action:     out.Action,
		Status:     status,
		StartedAt:  start,
		FinishedAt: now,
	}
	if sess.Release != nil {
		op.ReleaseTag = sess.Release.Tag
	}
	if out.Err != nil {
		op.Message = out.Err.Error()
	}
	if out.Report != nil {
		stats := out.Report.Stats
		op.Stats = &stats
	}
	if s.deps.History != nil {
		if err := s.deps.History.RecordOperation(op); err != nil {
			s.deps.Logger.Warn("recording operation", "action", string(out.Action), "error", err)
		}
	}
	s.deps.Metrics.ObserveAction(out.Action, status, now.Sub(start))
	return sess, out
}

// History returns recent operations.
func (s *Service) History(limit int) ([]*Operation, error) {
	if s.deps.History == nil {
		return nil, nil
	}
	return s.deps.History.ListOperations(limit)
}

// Backups lists the local snapshots.
func (s *Service) Backups() ([]*BackupSnapshot, error) {
	return ListBackups(s.deps.FS, s.deps.Snapshotter.Dir())
}
