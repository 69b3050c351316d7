package testutil

import (
	"errors"
	"io"
	"sync"

	"panelup/internal/update"
	"panelup/internal/vault"
)

// ErrVaultUnavailable is returned by FlakyVault.Put while puts are failing.
var ErrVaultUnavailable = errors.New("vault unavailable")

// FlakyVault is an in-memory vault whose uploads can be switched off.
type FlakyVault struct {
	*vault.MemoryVault

	mu       sync.Mutex
	failPuts bool
}

var _ update.Vault = (*FlakyVault)(nil)

// NewFlakyVault creates a FlakyVault that accepts uploads.
func NewFlakyVault() *FlakyVault {
	return &FlakyVault{MemoryVault: vault.NewMemoryVault("harness")}
}

// FailPuts makes every following Put fail (or succeed again).
func (v *FlakyVault) FailPuts(fail bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failPuts = fail
}

func (v *FlakyVault) Put(key string, r io.Reader, size int64) error {
	v.mu.Lock()
	fail := v.failPuts
	v.mu.Unlock()
	if fail {
		io.Copy(io.Discard, r)
		return ErrVaultUnavailable
	}
	return v.MemoryVault.Put(key, r, size)
}
