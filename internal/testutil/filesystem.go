package testutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	osfs "panelup/internal/fs"
	"panelup/internal/update"
)

// ErrInjected is returned by FaultyFilesystemManager for configured faults.
var ErrInjected = errors.New("injected fault")

// FaultyFilesystemManager wraps the real filesystem, counts calls, and fails
// selected operations on paths ending in configured suffixes.
type FaultyFilesystemManager struct {
	inner update.FilesystemManager

	mu        sync.Mutex
	calls     map[string]int
	faults    map[string][]string
	Mutations int
}

var _ update.FilesystemManager = (*FaultyFilesystemManager)(nil)

// NewFaultyFilesystemManager creates a manager over the OS filesystem.
func NewFaultyFilesystemManager() *FaultyFilesystemManager {
	return &FaultyFilesystemManager{
		inner:  osfs.NewOSFilesystemManager(),
		calls:  make(map[string]int),
		faults: make(map[string][]string),
	}
}

// FailOn makes op fail for any path ending in suffix. op is the method
// name, e.g. "Writable", "CopyFile" or "ReadDir".
func (m *FaultyFilesystemManager) FailOn(op, suffix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], filepath.FromSlash(suffix))
}

// Calls returns the number of calls to op.
func (m *FaultyFilesystemManager) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of calls to any method.
func (m *FaultyFilesystemManager) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// Reset clears the call counters. Faults stay configured.
func (m *FaultyFilesystemManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
	m.Mutations = 0
}

func (m *FaultyFilesystemManager) enter(op, path string, mutates bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if mutates {
		m.Mutations++
	}
	for _, suffix := range m.faults[op] {
		if strings.HasSuffix(path, suffix) {
			return &fs.PathError{Op: op, Path: path, Err: ErrInjected}
		}
	}
	return nil
}

func (m *FaultyFilesystemManager) Stat(path string) (fs.FileInfo, error) {
	if err := m.enter("Stat", path, false); err != nil {
		return nil, err
	}
	return m.inner.Stat(path)
}

func (m *FaultyFilesystemManager) ReadDir(path string) ([]fs.DirEntry, error) {
	if err := m.enter("ReadDir", path, false); err != nil {
		return nil, err
	}
	return m.inner.ReadDir(path)
}

func (m *FaultyFilesystemManager) MkdirAll(path string) error {
	if err := m.enter("MkdirAll", path, true); err != nil {
		return err
	}
	return m.inner.MkdirAll(path)
}

func (m *FaultyFilesystemManager) Equal(a, b string) (bool, error) {
	if err := m.enter("Equal", b, false); err != nil {
		return false, err
	}
	return m.inner.Equal(a, b)
}

func (m *FaultyFilesystemManager) Hash(path string) (string, error) {
	if err := m.enter("Hash", path, false); err != nil {
		return "", err
	}
	return m.inner.Hash(path)
}

func (m *FaultyFilesystemManager) CopyFile(src, dst string) error {
	if err := m.enter("CopyFile", dst, true); err != nil {
		return err
	}
	return m.inner.CopyFile(src, dst)
}

func (m *FaultyFilesystemManager) CopyLink(src, dst string) error {
	if err := m.enter("CopyLink", dst, true); err != nil {
		return err
	}
	return m.inner.CopyLink(src, dst)
}

func (m *FaultyFilesystemManager) Writable(path string) error {
	if err := m.enter("Writable", path, false); err != nil {
		return err
	}
	return m.inner.Writable(path)
}

func (m *FaultyFilesystemManager) Open(path string) (io.ReadCloser, error) {
	if err := m.enter("Open", path, false); err != nil {
		return nil, err
	}
	return m.inner.Open(path)
}

func (m *FaultyFilesystemManager) ReadFile(path string) ([]byte, error) {
	if err := m.enter("ReadFile", path, false); err != nil {
		return nil, err
	}
	return m.inner.ReadFile(path)
}

func (m *FaultyFilesystemManager) WriteFile(path string, data []byte) error {
	if err := m.enter("WriteFile", path, true); err != nil {
		return err
	}
	return m.inner.WriteFile(path, data)
}

func (m *FaultyFilesystemManager) RemoveAll(path string) error {
	if err := m.enter("RemoveAll", path, true); err != nil {
		return err
	}
	return m.inner.RemoveAll(path)
}
