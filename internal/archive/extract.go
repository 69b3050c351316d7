package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"panelup/internal/update"
)

// Format is an archive container format.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTarGz
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTarGz:
		return "tar.gz"
	default:
		return "unknown"
	}
}

var (
	zipMagic  = []byte("PK\x03\x04")
	gzipMagic = []byte{0x1f, 0x8b}
)

// DetectFormat reads the leading magic bytes of r.
func DetectFormat(r io.Reader) (Format, error) {
	head := make([]byte, 4)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return FormatUnknown, nil
		}
		return FormatUnknown, err
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return FormatZip, nil
	case bytes.HasPrefix(head, gzipMagic):
		return FormatTarGz, nil
	}
	return FormatUnknown, nil
}

// Extractor unpacks zip and gzip'd tar release archives.
type Extractor struct {
	logger update.Logger
}

var _ update.Extractor = (*Extractor)(nil)

func NewExtractor(logger update.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract unpacks archivePath into dir. The effective root is the single
// top-level directory every entry lives under, or dir itself. Entries
// escaping dir are rejected. Links and special files are not written; they
// are listed in Skipped. Files written before a failure are left in place.
func (e *Extractor) Extract(archivePath, dir string) (*update.Extraction, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, update.NewError(update.KindArchive, "opening archive", err)
	}
	defer f.Close()

	format, err := DetectFormat(f)
	if err != nil {
		return nil, update.NewError(update.KindArchive, "reading archive header", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, update.NewError(update.KindArchive, "rewinding archive", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, update.NewError(update.KindFileSystem, "creating extraction directory", err)
	}

	var ls listing
	switch format {
	case FormatZip:
		err = e.extractZip(f, dir, &ls)
	case FormatTarGz:
		err = e.extractTarGz(f, dir, &ls)
	default:
		return nil, update.Errorf(update.KindArchive, "extracting archive", "%s is not a zip or tar.gz archive", filepath.Base(archivePath))
	}
	if err != nil {
		return nil, err
	}

	res := &update.Extraction{Root: dir}
	top := commonRoot(append(ls.written, ls.skipped...))
	if top != "" {
		res.Root = filepath.Join(dir, filepath.FromSlash(top))
	}
	for _, name := range ls.skipped {
		if top != "" {
			name = strings.TrimPrefix(name, top+"/")
		}
		res.Skipped = append(res.Skipped, name)
	}
	if len(res.Skipped) > 0 {
		e.logger.Warn("archive entries not extracted", "count", len(res.Skipped), "first", res.Skipped[0])
	}
	e.logger.Info("archive extracted", "format", format.String(), "entries", len(ls.written), "root", res.Root)
	return res, nil
}

// listing collects the cleaned names of written and skipped entries.
type listing struct {
	written []string
	skipped []string
}

func (e *Extractor) extractZip(f *os.File, dir string, ls *listing) error {
	info, err := f.Stat()
	if err != nil {
		return update.NewError(update.KindArchive, "reading archive", err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return update.NewError(update.KindArchive, "reading zip", err)
	}

	for _, zf := range zr.File {
		name, target, err := entryTarget(dir, zf.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		mode := zf.Mode()
		switch {
		case zf.FileInfo().IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return update.NewError(update.KindFileSystem, "creating directory", err)
			}
		case mode.IsRegular():
			rc, err := zf.Open()
			if err != nil {
				return update.NewError(update.KindArchive, "reading "+zf.Name, err)
			}
			err = writeFile(target, rc, mode.Perm())
			rc.Close()
			if err != nil {
				return err
			}
		default:
			e.logger.Debug("skipping archive entry", "name", zf.Name, "mode", mode.Type().String())
			ls.skipped = append(ls.skipped, name)
			continue
		}
		ls.written = append(ls.written, name)
	}
	return nil
}

func (e *Extractor) extractTarGz(f *os.File, dir string, ls *listing) error {
	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return update.NewError(update.KindArchive, "reading gzip", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return update.NewError(update.KindArchive, "reading tar", err)
		}
		name, target, err := entryTarget(dir, hdr.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return update.NewError(update.KindFileSystem, "creating directory", err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeXGlobalHeader:
			continue
		default:
			e.logger.Debug("skipping archive entry", "name", hdr.Name, "type", string(hdr.Typeflag))
			ls.skipped = append(ls.skipped, name)
			continue
		}
		ls.written = append(ls.written, name)
	}
}

// entryTarget cleans an archive entry name and resolves it under dir. An
// empty name means the entry is the archive root itself.
func entryTarget(dir, raw string) (string, string, error) {
	name := strings.ReplaceAll(raw, "\\", "/")
	if path.IsAbs(name) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", "", update.Errorf(update.KindArchive, "extracting archive", "entry %q has an absolute path", raw)
	}
	name = path.Clean(name)
	if name == "." {
		return "", "", nil
	}
	if name == ".." || strings.HasPrefix(name, "../") {
		return "", "", update.Errorf(update.KindArchive, "extracting archive", "entry %q escapes the extraction directory", raw)
	}
	return name, filepath.Join(dir, filepath.FromSlash(name)), nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return update.NewError(update.KindFileSystem, "creating directory", err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return update.NewError(update.KindFileSystem, "creating file", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return update.NewError(update.KindArchive, fmt.Sprintf("writing %s", filepath.Base(target)), err)
	}
	if err := out.Close(); err != nil {
		return update.NewError(update.KindFileSystem, "closing file", err)
	}
	return nil
}

// commonRoot returns the top-level directory shared by every name, or ""
// when entries sit at the top level or under different directories.
func commonRoot(names []string) string {
	if len(names) == 0 {
		return ""
	}
	top, _, _ := strings.Cut(names[0], "/")
	nested := false
	for _, n := range names {
		first, rest, ok := strings.Cut(n, "/")
		if first != top {
			return ""
		}
		if ok && rest != "" {
			nested = true
		}
	}
	if !nested {
		return ""
	}
	return top
}
