package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"panelup/internal/update"
)

func writeFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatal(err)
	}
}

func TestOSFilesystemManager_Equal(t *testing.T) {
	dir := t.TempDir()
	m := NewOSFilesystemManager()

	writeFile(t, filepath.Join(dir, "a"), "hello", 0o644)
	writeFile(t, filepath.Join(dir, "b"), "hello", 0o644)
	writeFile(t, filepath.Join(dir, "c"), "world", 0o644)
	writeFile(t, filepath.Join(dir, "d"), "hello!", 0o644)

	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical content", "a", "b", true},
		{"same size different content", "a", "c", false},
		{"different size", "a", "d", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Equal(filepath.Join(dir, tt.a), filepath.Join(dir, tt.b))
			if err != nil {
				t.Fatalf("Equal() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("missing file is an error", func(t *testing.T) {
		if _, err := m.Equal(filepath.Join(dir, "a"), filepath.Join(dir, "missing")); err == nil {
			t.Error("Equal() expected error")
		}
	})
}

func TestOSFilesystemManager_CopyFile(t *testing.T) {
	t.Run("preserves content and mode", func(t *testing.T) {
		dir := t.TempDir()
		m := NewOSFilesystemManager()
		src := filepath.Join(dir, "run.sh")
		dst := filepath.Join(dir, "out", "run.sh")
		writeFile(t, src, "#!/bin/sh\n", 0o755)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			t.Fatal(err)
		}

		if err := m.CopyFile(src, dst); err != nil {
			t.Fatalf("CopyFile() error = %v", err)
		}
		got, err := os.ReadFile(dst)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "#!/bin/sh\n" {
			t.Errorf("content = %q", got)
		}
		info, err := os.Stat(dst)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o755 {
			t.Errorf("mode = %v, want 0755", info.Mode().Perm())
		}
	})

	t.Run("overwrites and leaves no temp files", func(t *testing.T) {
		dir := t.TempDir()
		m := NewOSFilesystemManager()
		src := filepath.Join(dir, "src.txt")
		dst := filepath.Join(dir, "dst.txt")
		writeFile(t, src, "new", 0o644)
		writeFile(t, dst, "old content", 0o644)

		if err := m.CopyFile(src, dst); err != nil {
			t.Fatalf("CopyFile() error = %v", err)
		}
		got, _ := os.ReadFile(dst)
		if string(got) != "new" {
			t.Errorf("content = %q, want new", got)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 2 {
			t.Errorf("expected 2 entries, got %d", len(entries))
		}
	})

	t.Run("missing source", func(t *testing.T) {
		dir := t.TempDir()
		m := NewOSFilesystemManager()
		if err := m.CopyFile(filepath.Join(dir, "nope"), filepath.Join(dir, "dst")); err == nil {
			t.Error("CopyFile() expected error")
		}
	})
}

func TestOSFilesystemManager_CopyLink(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src-link")
	if err := os.Symlink("../lib/tool.php", src); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "dst-link")
	writeFile(t, dst, "stale", 0o644)

	m := NewOSFilesystemManager()
	if err := m.CopyLink(src, dst); err != nil {
		t.Fatalf("CopyLink() error = %v", err)
	}
	target, err := os.Readlink(dst)
	if err != nil {
		t.Fatalf("dst is not a link: %v", err)
	}
	if target != "../lib/tool.php" {
		t.Errorf("target = %q", target)
	}

	if err := m.CopyLink(filepath.Join(dir, "missing"), filepath.Join(dir, "other")); err == nil {
		t.Error("CopyLink() of a missing link expected error")
	}
}

func TestOSFilesystemManager_Writable(t *testing.T) {
	dir := t.TempDir()
	m := NewOSFilesystemManager()
	writeFile(t, filepath.Join(dir, "file"), "x", 0o644)

	if err := m.Writable(filepath.Join(dir, "file")); err != nil {
		t.Errorf("existing file: %v", err)
	}
	if err := m.Writable(filepath.Join(dir, "new", "deeper", "file")); err != nil {
		t.Errorf("missing path with writable ancestor: %v", err)
	}
}

func TestOSFilesystemManager_WriteFile(t *testing.T) {
	dir := t.TempDir()
	m := NewOSFilesystemManager()
	path := filepath.Join(dir, "manifest.json")

	if err := m.WriteFile(path, []byte("{}")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	got, err := m.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "{}" {
		t.Errorf("ReadFile() = %q", got)
	}
}

func TestFileLocker(t *testing.T) {
	dir := t.TempDir()
	locker := NewFileLocker()

	lock, err := locker.TryLock(dir)
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}

	if _, err := locker.TryLock(dir); !errors.Is(err, update.ErrLockHeld) {
		t.Errorf("second TryLock() error = %v, want ErrLockHeld", err)
	}

	if err := lock.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	again, err := locker.TryLock(dir)
	if err != nil {
		t.Fatalf("TryLock() after unlock error = %v", err)
	}
	again.Unlock()
}
