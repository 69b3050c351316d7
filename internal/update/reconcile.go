package update

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
)

// Reconciler merges an extracted release tree onto a live installation.
type Reconciler struct {
	fsmgr  FilesystemManager
	logger Logger
	clock  Clock
}

// NewReconciler creates a Reconciler.
func NewReconciler(fsmgr FilesystemManager, logger Logger, clock Clock) *Reconciler {
	return &Reconciler{fsmgr: fsmgr, logger: logger, clock: clock}
}

// Reconcile walks src and decides, for every entry, whether dst needs it.
// In ModePreview nothing under dst is touched. In ModeInstall missing
// directories are created and changed files are copied over.
//
// Per-entry failures are recorded as Error actions and the pass continues, so
// the returned report is always complete. An error is returned only when the
// source root itself cannot be read.
func (r *Reconciler) Reconcile(src, dst string, policy *SkipPolicy, mode Mode) (*Report, error) {
	report := &Report{Mode: mode, StartedAt: r.clock.Now()}

	for e, err := range Walk(r.fsmgr, src) {
		if e.Rel == "" {
			return nil, NewError(KindFileSystem, "reading source tree", err)
		}
		report.add(r.decide(e, err, dst, policy, mode))
	}

	report.FinishedAt = r.clock.Now()
	r.logger.Info("reconciliation finished",
		"mode", string(mode),
		"total", report.Stats.Total,
		"copied", report.Stats.Copied,
		"updated", report.Stats.Updated,
		"same", report.Stats.Same,
		"skipped", report.Stats.Skipped,
		"errors", report.Stats.NotWritable,
	)
	return report, nil
}

func (r *Reconciler) decide(e Entry, walkErr error, dst string, policy *SkipPolicy, mode Mode) FileAction {
	kind := EntryFile
	if e.IsDir {
		kind = EntryDirectory
	}
	action := FileAction{Path: e.Rel, Kind: kind}

	if m := policy.Match(e.Rel); m.Skipped {
		action.Decision = DecisionSkip
		action.Note = fmt.Sprintf("protected by %s rule %s", m.Kind, m.Rule)
		return action
	}

	target := filepath.Join(dst, filepath.FromSlash(e.Rel))
	if walkErr != nil {
		return r.fail(action, "listing source directory", walkErr)
	}
	if e.IsDir {
		return r.decideDir(action, target, mode)
	}
	if !e.Type.IsRegular() {
		return r.fail(action, "unsupported file type", fmt.Errorf("%v", e.Type))
	}
	return r.decideFile(action, e.Path, target, mode)
}

func (r *Reconciler) decideDir(action FileAction, target string, mode Mode) FileAction {
	action.Decision = DecisionDir

	info, err := r.fsmgr.Stat(target)
	switch {
	case err == nil && info.IsDir():
		return action
	case err == nil:
		return r.fail(action, "destination exists and is not a directory", nil)
	case !errors.Is(err, fs.ErrNotExist):
		return r.fail(action, "stat destination", err)
	}

	if mode == ModePreview {
		action.Note = "would create"
		return action
	}
	if err := r.fsmgr.MkdirAll(target); err != nil {
		return r.fail(action, "creating directory", err)
	}
	action.Note = "created"
	return action
}

func (r *Reconciler) decideFile(action FileAction, source, target string, mode Mode) FileAction {
	exists := true
	info, err := r.fsmgr.Stat(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		exists = false
	case err != nil:
		return r.fail(action, "stat destination", err)
	case info.IsDir():
		return r.fail(action, "destination is a directory", nil)
	}

	if exists {
		same, err := r.fsmgr.Equal(source, target)
		if err != nil {
			return r.fail(action, "comparing content", err)
		}
		if same {
			action.Decision = DecisionSame
			return action
		}
	}

	if mode == ModePreview {
		action.Decision = DecisionUpdate
		if exists {
			action.Note = "would update"
		} else {
			action.Note = "would copy"
		}
		return action
	}

	if err := r.fsmgr.Writable(target); err != nil {
		return r.fail(action, "not writable", err)
	}
	if err := r.fsmgr.CopyFile(source, target); err != nil {
		return r.fail(action, "copying file", err)
	}

	if exists {
		action.Decision = DecisionUpdate
	} else {
		action.Decision = DecisionCopy
	}
	r.logger.Debug("file applied", "path", action.Path, "decision", string(action.Decision))
	return action
}

func (r *Reconciler) fail(action FileAction, what string, err error) FileAction {
	action.Decision = DecisionError
	if err != nil {
		action.Note = fmt.Sprintf("%s: %v", what, err)
	} else {
		action.Note = what
	}
	r.logger.Warn("entry failed", "path", action.Path, "reason", action.Note)
	return action
}
