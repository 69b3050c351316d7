package update_test

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"panelup/internal/testutil"
	"panelup/internal/update"
)

func TestWalk(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"b.txt":         "b",
		"a/z.txt":       "z",
		"a/nested/y.md": "y",
		"a/empty/":      "",
		"c/x.php":       "x",
	})
	fsmgr := testutil.NewFaultyFilesystemManager()

	t.Run("pre-order in lexical order", func(t *testing.T) {
		var got []string
		for e, err := range update.Walk(fsmgr, root) {
			if err != nil {
				t.Fatalf("Walk() error at %s: %v", e.Rel, err)
			}
			got = append(got, e.Rel)
			if want := filepath.Join(root, filepath.FromSlash(e.Rel)); e.Path != want {
				t.Errorf("Path = %s, want %s", e.Path, want)
			}
		}
		want := []string{"a", "a/empty", "a/nested", "a/nested/y.md", "a/z.txt", "b.txt", "c", "c/x.php"}
		if !slices.Equal(got, want) {
			t.Errorf("Walk() = %v, want %v", got, want)
		}
	})

	t.Run("sequence is single use", func(t *testing.T) {
		seq := update.Walk(fsmgr, root)
		for range seq {
		}
		var errs int
		for _, err := range seq {
			if err != nil {
				errs++
			}
		}
		if errs != 1 {
			t.Errorf("second range yielded %d errors, want 1", errs)
		}
	})

	t.Run("stops early", func(t *testing.T) {
		n := 0
		for range update.Walk(fsmgr, root) {
			n++
			if n == 2 {
				break
			}
		}
		if n != 2 {
			t.Errorf("visited %d entries, want 2", n)
		}
	})
}

func TestWalk_UnreadableDirectory(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"a/locked/secret.txt": "s",
		"a/open.txt":          "o",
		"b.txt":               "b",
	})
	fsmgr := testutil.NewFaultyFilesystemManager()
	fsmgr.FailOn("ReadDir", "a/locked")

	var got []string
	var failed []string
	for e, err := range update.Walk(fsmgr, root) {
		got = append(got, e.Rel)
		if err != nil {
			failed = append(failed, e.Rel)
			if !errors.Is(err, testutil.ErrInjected) {
				t.Errorf("error = %v, want injected fault", err)
			}
		}
	}

	if want := []string{"a", "a/locked", "a/open.txt", "b.txt"}; !slices.Equal(got, want) {
		t.Errorf("Walk() = %v, want %v", got, want)
	}
	if !slices.Equal(failed, []string{"a/locked"}) {
		t.Errorf("failed entries = %v, want [a/locked]", failed)
	}
}

func TestWalk_MissingRoot(t *testing.T) {
	fsmgr := testutil.NewFaultyFilesystemManager()

	n := 0
	for e, err := range update.Walk(fsmgr, filepath.Join(t.TempDir(), "nope")) {
		n++
		if e.Rel != "" || err == nil {
			t.Errorf("got entry %+v, err %v; want empty Rel with error", e, err)
		}
	}
	if n != 1 {
		t.Errorf("yielded %d entries, want 1", n)
	}
}
