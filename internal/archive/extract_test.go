package archive_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"panelup/internal/archive"
	"panelup/internal/testutil"
	"panelup/internal/update"
)

func writeArchive(t *testing.T, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "release.bin")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestExtractor_Extract(t *testing.T) {
	files := map[string]string{
		"index.php":      "<?php // entry",
		"app/Kernel.php": "kernel",
		"public/css/":    "",
	}

	tests := []struct {
		name     string
		data     func(t *testing.T) []byte
		wantRoot string
	}{
		{"zip with wrapper directory", func(t *testing.T) []byte { return testutil.ZipBytes(t, "acme-panel-1a2b3c", files) }, "acme-panel-1a2b3c"},
		{"zip without wrapper", func(t *testing.T) []byte { return testutil.ZipBytes(t, "", files) }, ""},
		{"tar.gz with wrapper directory", func(t *testing.T) []byte { return testutil.TarGzBytes(t, "panel-1.3.0", files) }, "panel-1.3.0"},
		{"tar.gz without wrapper", func(t *testing.T) []byte { return testutil.TarGzBytes(t, "", files) }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			res, err := archive.NewExtractor(update.NewNopLogger()).Extract(writeArchive(t, tt.data(t)), dir)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			root := res.Root
			if len(res.Skipped) != 0 {
				t.Errorf("Skipped = %v", res.Skipped)
			}
			if want := filepath.Join(dir, tt.wantRoot); root != want {
				t.Errorf("root = %q, want %q", root, want)
			}
			got := testutil.ReadTree(t, root)
			if got["index.php"] != "<?php // entry" || got["app/Kernel.php"] != "kernel" {
				t.Errorf("tree = %v", got)
			}
			if info, err := os.Stat(filepath.Join(root, "public", "css")); err != nil || !info.IsDir() {
				t.Errorf("empty directory not extracted: %v", err)
			}
		})
	}
}

func TestExtractor_RejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("../evil.php")
	w.Write([]byte("x"))
	zw.Close()

	parent := t.TempDir()
	dir := filepath.Join(parent, "scratch")
	_, err := archive.NewExtractor(update.NewNopLogger()).Extract(writeArchive(t, buf.Bytes()), dir)
	if !errors.Is(err, update.ErrArchive) {
		t.Fatalf("Extract() error = %v, want archive error", err)
	}
	if _, err := os.Stat(filepath.Join(parent, "evil.php")); !os.IsNotExist(err) {
		t.Error("traversal entry was written outside the extraction directory")
	}
}

func TestExtractor_UnknownFormat(t *testing.T) {
	_, err := archive.NewExtractor(update.NewNopLogger()).Extract(writeArchive(t, []byte("not an archive")), t.TempDir())
	if !errors.Is(err, update.ErrArchive) {
		t.Fatalf("Extract() error = %v, want archive error", err)
	}
}

func TestExtractor_CorruptZip(t *testing.T) {
	data := testutil.ZipBytes(t, "", map[string]string{"a.txt": "hello"})
	_, err := archive.NewExtractor(update.NewNopLogger()).Extract(writeArchive(t, data[:len(data)/2]), t.TempDir())
	if !errors.Is(err, update.ErrArchive) {
		t.Fatalf("Extract() error = %v, want archive error", err)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want archive.Format
	}{
		{"zip", []byte("PK\x03\x04rest"), archive.FormatZip},
		{"gzip", []byte{0x1f, 0x8b, 0x08, 0x00}, archive.FormatTarGz},
		{"short", []byte("P"), archive.FormatUnknown},
		{"empty", nil, archive.FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := archive.DetectFormat(bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("DetectFormat() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectFormat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPackTarGz_RoundTrip(t *testing.T) {
	src := t.TempDir()
	testutil.WriteTree(t, src, map[string]string{
		"app/a.php": "a",
		"index.php": "i",
		"empty/":    "",
	})

	var buf bytes.Buffer
	if err := archive.PackTarGz(src, "snapshot", &buf); err != nil {
		t.Fatalf("PackTarGz() error = %v", err)
	}

	dir := t.TempDir()
	res, err := archive.NewExtractor(update.NewNopLogger()).Extract(writeArchive(t, buf.Bytes()), dir)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	root := res.Root
	if root != filepath.Join(dir, "snapshot") {
		t.Errorf("root = %q", root)
	}
	if testutil.HashTree(t, root) != testutil.HashTree(t, src) {
		t.Error("round-tripped tree differs")
	}
}

func TestPackTarGz_KeepsSymlinks(t *testing.T) {
	src := t.TempDir()
	testutil.WriteTree(t, src, map[string]string{"vendor/lib/tool.php": "tool"})
	if err := os.MkdirAll(filepath.Join(src, "vendor", "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("../lib/tool.php", filepath.Join(src, "vendor", "bin", "tool")); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := archive.PackTarGz(src, "snapshot", &buf); err != nil {
		t.Fatalf("PackTarGz() error = %v", err)
	}

	gz, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	var found bool
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if hdr.Name != "snapshot/vendor/bin/tool" {
			continue
		}
		found = true
		if hdr.Typeflag != tar.TypeSymlink {
			t.Errorf("Typeflag = %q, want symlink", hdr.Typeflag)
		}
		if hdr.Linkname != "../lib/tool.php" {
			t.Errorf("Linkname = %q", hdr.Linkname)
		}
	}
	if !found {
		t.Error("symlink entry missing from archive")
	}
}

func TestExtractor_ReportsSkippedLinks(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	headers := []*tar.Header{
		{Name: "panel/", Typeflag: tar.TypeDir, Mode: 0o755},
		{Name: "panel/bin/", Typeflag: tar.TypeDir, Mode: 0o755},
		{Name: "panel/bin/real", Typeflag: tar.TypeReg, Mode: 0o755, Size: 4},
		{Name: "panel/bin/tool", Typeflag: tar.TypeSymlink, Linkname: "real", Mode: 0o777},
		{Name: "panel/bin/copy", Typeflag: tar.TypeLink, Linkname: "panel/bin/real", Mode: 0o755},
	}
	for _, hdr := range headers {
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte("real")); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	res, err := archive.NewExtractor(update.NewNopLogger()).Extract(writeArchive(t, buf.Bytes()), dir)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Root != filepath.Join(dir, "panel") {
		t.Errorf("Root = %q", res.Root)
	}
	if want := []string{"bin/tool", "bin/copy"}; !slices.Equal(res.Skipped, want) {
		t.Errorf("Skipped = %v, want %v", res.Skipped, want)
	}
	for _, name := range []string{"tool", "copy"} {
		if _, err := os.Lstat(filepath.Join(res.Root, "bin", name)); !os.IsNotExist(err) {
			t.Errorf("%s was written: %v", name, err)
		}
	}
	if got := testutil.ReadTree(t, res.Root); got["bin/real"] != "real" {
		t.Errorf("tree = %v", got)
	}
}
