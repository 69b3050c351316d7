package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"path"
	"sort"
	"strings"
	"testing"
)

func sortedKeys(files map[string]string) []string {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ZipBytes builds a zip archive of files. When wrapper is not empty every
// entry is placed under that top-level directory, the way source archives
// from a forge are laid out.
func ZipBytes(t *testing.T, wrapper string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if wrapper != "" {
		if _, err := zw.Create(wrapper + "/"); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range sortedKeys(files) {
		w, err := zw.Create(path.Join(wrapper, name) + trailingSlash(name))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasSuffix(name, "/") {
			if _, err := w.Write([]byte(files[name])); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// TarGzBytes builds a gzip-compressed tar archive of files.
func TarGzBytes(t *testing.T, wrapper string, files map[string]string) []byte {
	t.Helper()
	return TarGzWithLinks(t, wrapper, files, nil)
}

// TarGzWithLinks is TarGzBytes plus symlink entries, keyed by link path
// with the link target as value.
func TarGzWithLinks(t *testing.T, wrapper string, files, links map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if wrapper != "" {
		if err := tw.WriteHeader(&tar.Header{Name: wrapper + "/", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range sortedKeys(files) {
		full := path.Join(wrapper, name)
		if strings.HasSuffix(name, "/") {
			if err := tw.WriteHeader(&tar.Header{Name: full + "/", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
				t.Fatal(err)
			}
			continue
		}
		hdr := &tar.Header{Name: full, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(files[name]))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(files[name])); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range sortedKeys(links) {
		hdr := &tar.Header{Name: path.Join(wrapper, name), Typeflag: tar.TypeSymlink, Linkname: links[name], Mode: 0o777}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func trailingSlash(name string) string {
	if strings.HasSuffix(name, "/") {
		return "/"
	}
	return ""
}
