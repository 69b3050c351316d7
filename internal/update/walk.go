package update

import (
	"errors"
	"io/fs"
	"iter"
	"path/filepath"
)

// Entry is one node visited by Walk.
type Entry struct {
	Rel   string // slash-separated path relative to the walk root
	Path  string // absolute path on disk
	IsDir bool
	Type  fs.FileMode
}

var errWalkConsumed = errors.New("walk sequence already consumed")

// Walk returns a depth-first, pre-order sequence of every entry under root.
// Directories are yielded before their children and siblings come in lexical
// order. A directory that cannot be listed is yielded once, paired with the
// listing error, and its subtree is not visited. If root itself cannot be
// listed, a single entry with an empty Rel and the error is yielded.
//
// The sequence is single-use: ranging over it a second time yields only
// an error.
func Walk(fsmgr FilesystemManager, root string) iter.Seq2[Entry, error] {
	consumed := false
	return func(yield func(Entry, error) bool) {
		if consumed {
			yield(Entry{Path: root, IsDir: true}, errWalkConsumed)
			return
		}
		consumed = true

		children, err := fsmgr.ReadDir(root)
		if err != nil {
			yield(Entry{Path: root, IsDir: true}, err)
			return
		}
		walkChildren(fsmgr, root, "", children, yield)
	}
}

func walkChildren(fsmgr FilesystemManager, dir, rel string, children []fs.DirEntry, yield func(Entry, error) bool) bool {
	for _, d := range children {
		e := Entry{
			Rel:   joinRel(rel, d.Name()),
			Path:  filepath.Join(dir, d.Name()),
			IsDir: d.IsDir(),
			Type:  d.Type(),
		}
		if !e.IsDir {
			if !yield(e, nil) {
				return false
			}
			continue
		}

		// List before yielding so a failed listing is reported on the
		// directory's own entry instead of as a second entry.
		grandchildren, err := fsmgr.ReadDir(e.Path)
		if !yield(e, err) {
			return false
		}
		if err != nil {
			continue
		}
		if !walkChildren(fsmgr, e.Path, e.Rel, grandchildren, yield) {
			return false
		}
	}
	return true
}

func joinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
