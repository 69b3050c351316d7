package update_test

import (
	"path/filepath"
	"testing"

	"panelup/internal/testutil"
	"panelup/internal/update"
)

func newReconciler(t *testing.T, src, dst map[string]string) (*update.Reconciler, *testutil.FaultyFilesystemManager, string, string) {
	t.Helper()
	srcDir, dstDir := t.TempDir(), t.TempDir()
	testutil.WriteTree(t, srcDir, src)
	testutil.WriteTree(t, dstDir, dst)
	fsmgr := testutil.NewFaultyFilesystemManager()
	return update.NewReconciler(fsmgr, update.NewNopLogger(), testutil.FixedClock()), fsmgr, srcDir, dstDir
}

func decisions(r *update.Report) map[string]update.Decision {
	out := make(map[string]update.Decision, len(r.Actions))
	for _, a := range r.Actions {
		out[a.Path] = a.Decision
	}
	return out
}

func checkStats(t *testing.T, r *update.Report) {
	t.Helper()
	s := r.Stats
	if sum := s.Dirs + s.Copied + s.Updated + s.Same + s.Skipped + s.NotWritable; sum != s.Total || s.Total != len(r.Actions) {
		t.Errorf("Stats = %+v inconsistent with %d actions", s, len(r.Actions))
	}
}

var (
	releaseTree = map[string]string{
		"index.php":           "<?php // v2",
		"app/a.php":           "a v2",
		"app/b.php":           "b v2",
		"app/new/c.php":       "c",
		"config/database.php": "default db",
		"uploads/.keep":       "",
		"version.txt":         "1.3.0",
	}
	installedTree = map[string]string{
		"index.php":           "<?php // custom",
		"app/a.php":           "a v1",
		"app/b.php":           "b v2",
		"config/database.php": "production db",
		"uploads/photo.jpg":   "jpeg",
		"version.txt":         "1.2.3",
	}
)

func TestReconciler_Preview(t *testing.T) {
	r, fsmgr, src, dst := newReconciler(t, releaseTree, installedTree)
	before := testutil.HashTree(t, dst)

	report, err := r.Reconcile(src, dst, update.DefaultSkipPolicy(false), update.ModePreview)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if fsmgr.Mutations != 0 {
		t.Errorf("preview made %d mutating calls", fsmgr.Mutations)
	}
	if after := testutil.HashTree(t, dst); after != before {
		t.Error("preview changed the installation")
	}

	want := map[string]update.Decision{
		"app":                 update.DecisionDir,
		"app/a.php":           update.DecisionUpdate,
		"app/b.php":           update.DecisionSame,
		"app/new":             update.DecisionDir,
		"app/new/c.php":       update.DecisionUpdate,
		"config":              update.DecisionSkip,
		"config/database.php": update.DecisionSkip,
		"index.php":           update.DecisionSkip,
		"uploads":             update.DecisionSkip,
		"uploads/.keep":       update.DecisionSkip,
		"version.txt":         update.DecisionUpdate,
	}
	got := decisions(report)
	for path, d := range want {
		if got[path] != d {
			t.Errorf("decision for %s = %q, want %q", path, got[path], d)
		}
	}
	if len(got) != len(want) {
		t.Errorf("report has %d actions, want %d", len(got), len(want))
	}
	if report.Mode != update.ModePreview {
		t.Errorf("Mode = %s", report.Mode)
	}
	checkStats(t, report)
}

func TestReconciler_Install(t *testing.T) {
	r, _, src, dst := newReconciler(t, releaseTree, installedTree)

	report, err := r.Reconcile(src, dst, update.DefaultSkipPolicy(false), update.ModeInstall)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	checkStats(t, report)

	if report.Stats.Copied != 1 || report.Stats.Updated != 2 || report.Stats.Same != 1 {
		t.Errorf("Stats = %+v, want 1 copied, 2 updated, 1 same", report.Stats)
	}

	tree := testutil.ReadTree(t, dst)
	want := map[string]string{
		"index.php":           "<?php // custom",
		"app/a.php":           "a v2",
		"app/b.php":           "b v2",
		"app/new/c.php":       "c",
		"config/database.php": "production db",
		"uploads/photo.jpg":   "jpeg",
		"version.txt":         "1.3.0",
	}
	for path, content := range want {
		if tree[path] != content {
			t.Errorf("%s = %q, want %q", path, tree[path], content)
		}
	}
	if len(tree) != len(want) {
		t.Errorf("installation has %d files, want %d: %v", len(tree), len(want), tree)
	}

	t.Run("second pass changes nothing", func(t *testing.T) {
		before := testutil.HashTree(t, dst)
		again, err := r.Reconcile(src, dst, update.DefaultSkipPolicy(false), update.ModeInstall)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if n := again.Stats.Changed(); n != 0 {
			t.Errorf("second pass changed %d files", n)
		}
		if testutil.HashTree(t, dst) != before {
			t.Error("second pass modified the installation")
		}
	})
}

func TestReconciler_IdenticalTrees(t *testing.T) {
	files := map[string]string{"app/a.php": "a", "lib/b.php": "b", "readme.md": "r"}
	r, fsmgr, src, dst := newReconciler(t, files, files)

	for _, mode := range []update.Mode{update.ModePreview, update.ModeInstall} {
		report, err := r.Reconcile(src, dst, update.DefaultSkipPolicy(false), mode)
		if err != nil {
			t.Fatalf("Reconcile(%s) error = %v", mode, err)
		}
		if report.Stats.Changed() != 0 || report.Stats.Same != 3 || report.Stats.Dirs != 2 {
			t.Errorf("%s Stats = %+v", mode, report.Stats)
		}
	}
	if fsmgr.Calls("CopyFile") != 0 {
		t.Errorf("CopyFile called %d times on identical trees", fsmgr.Calls("CopyFile"))
	}
}

func TestReconciler_AllowCoreOverride(t *testing.T) {
	r, _, src, dst := newReconciler(t, releaseTree, installedTree)

	report, err := r.Reconcile(src, dst, update.DefaultSkipPolicy(true), update.ModeInstall)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if d := decisions(report)["index.php"]; d != update.DecisionUpdate {
		t.Errorf("index.php decision = %q, want update", d)
	}
	if got := testutil.ReadFile(t, filepath.Join(dst, "index.php")); got != "<?php // v2" {
		t.Errorf("index.php = %q", got)
	}
	if got := testutil.ReadFile(t, filepath.Join(dst, "config", "database.php")); got != "production db" {
		t.Errorf("config/database.php = %q, want untouched", got)
	}
}

func TestReconciler_EntryFailures(t *testing.T) {
	t.Run("not writable target is recorded and the pass continues", func(t *testing.T) {
		r, fsmgr, src, dst := newReconciler(t, releaseTree, installedTree)
		fsmgr.FailOn("Writable", "app/a.php")

		report, err := r.Reconcile(src, dst, update.DefaultSkipPolicy(false), update.ModeInstall)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		checkStats(t, report)
		if report.Stats.NotWritable != 1 {
			t.Errorf("NotWritable = %d, want 1", report.Stats.NotWritable)
		}
		errs := report.Errors()
		if len(errs) != 1 || errs[0].Path != "app/a.php" {
			t.Errorf("Errors() = %+v", errs)
		}
		if got := testutil.ReadFile(t, filepath.Join(dst, "app", "a.php")); got != "a v1" {
			t.Errorf("app/a.php = %q, want unchanged", got)
		}
		if got := testutil.ReadFile(t, filepath.Join(dst, "app", "new", "c.php")); got != "c" {
			t.Errorf("app/new/c.php = %q, want copied", got)
		}
	})

	t.Run("unreadable source directory", func(t *testing.T) {
		r, fsmgr, src, dst := newReconciler(t, releaseTree, installedTree)
		fsmgr.FailOn("ReadDir", "app/new")

		report, err := r.Reconcile(src, dst, update.DefaultSkipPolicy(false), update.ModePreview)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		got := decisions(report)
		if got["app/new"] != update.DecisionError {
			t.Errorf("app/new decision = %q, want error", got["app/new"])
		}
		if _, ok := got["app/new/c.php"]; ok {
			t.Error("children of an unreadable directory were visited")
		}
	})

	t.Run("file where a directory is expected", func(t *testing.T) {
		r, _, src, dst := newReconciler(t,
			map[string]string{"lib/x.php": "x"},
			map[string]string{"lib": "not a dir"})

		report, err := r.Reconcile(src, dst, update.DefaultSkipPolicy(false), update.ModeInstall)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if d := decisions(report)["lib"]; d != update.DecisionError {
			t.Errorf("lib decision = %q, want error", d)
		}
	})

	t.Run("missing source root fails the pass", func(t *testing.T) {
		r, _, _, dst := newReconciler(t, nil, nil)
		_, err := r.Reconcile(filepath.Join(dst, "missing"), dst, update.DefaultSkipPolicy(false), update.ModePreview)
		if update.KindOf(err) != update.KindFileSystem {
			t.Errorf("Reconcile() error = %v, want filesystem error", err)
		}
	})
}
