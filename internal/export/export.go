// Package export ships backup snapshots to a vault as tar.gz archives,
// optionally age-encrypted, and pulls them back.
package export

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"panelup/internal/archive"
	"panelup/internal/update"
)

const (
	// KeyPrefix is the vault prefix every export is stored under.
	KeyPrefix = "backups/"

	archiveSuffix   = ".tar.gz"
	encryptedSuffix = ".age"
)

// Exporter implements update.BackupExporter.
type Exporter struct {
	vault     update.Vault
	encryptor update.Encryptor
	logger    update.Logger
	tempDir   string
}

var _ update.BackupExporter = (*Exporter)(nil)

// NewExporter creates an Exporter. A nil encryptor stores plain archives.
// Archives are staged in tempDir before upload ("" for the OS default).
func NewExporter(vault update.Vault, encryptor update.Encryptor, logger update.Logger, tempDir string) *Exporter {
	if logger == nil {
		logger = update.NewNopLogger()
	}
	return &Exporter{vault: vault, encryptor: encryptor, logger: logger, tempDir: tempDir}
}

// KeyFor returns the vault key for a snapshot name.
func KeyFor(name string, encrypted bool) string {
	key := KeyPrefix + name + archiveSuffix
	if encrypted {
		key += encryptedSuffix
	}
	return key
}

// Export packs the snapshot directory and uploads it. The vault needs the
// object size up front, so the archive is staged in a temp file.
func (e *Exporter) Export(snap *update.BackupSnapshot) (string, error) {
	if snap == nil {
		return "", fmt.Errorf("no snapshot to export")
	}

	tmp, err := os.CreateTemp(e.tempDir, "panelup-export-*"+archiveSuffix)
	if err != nil {
		return "", fmt.Errorf("creating export temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if e.encryptor != nil {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(archive.PackTarGz(snap.Path, snap.Name, pw))
		}()
		encErr := e.encryptor.Encrypt(pr, tmp)
		pr.CloseWithError(encErr)
		if encErr != nil {
			return "", fmt.Errorf("encrypting export: %w", encErr)
		}
	} else if err := archive.PackTarGz(snap.Path, snap.Name, tmp); err != nil {
		return "", err
	}

	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", fmt.Errorf("sizing export: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding export: %w", err)
	}

	key := KeyFor(snap.Name, e.encryptor != nil)
	if err := e.vault.Put(key, tmp, size); err != nil {
		return "", fmt.Errorf("uploading export: %w", err)
	}
	e.logger.Info("backup exported", "key", key, "size", size)
	return key, nil
}

// List returns the export keys in the vault.
func (e *Exporter) List() ([]string, error) {
	return e.vault.List(KeyPrefix)
}

// Pull writes the export stored under key to dest. Encrypted exports need a
// decryption context; dest must not exist yet.
func (e *Exporter) Pull(key string, decryptCtx update.DecryptionContext, dest string) error {
	if !strings.HasPrefix(key, KeyPrefix) {
		key = KeyPrefix + key
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("output file already exists: %s", dest)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	if !IsEncrypted(key) {
		if err := e.vault.Get(key, f); err != nil {
			os.Remove(dest)
			return fmt.Errorf("retrieving export from vault: %w", err)
		}
		return nil
	}

	if decryptCtx == nil {
		os.Remove(dest)
		return fmt.Errorf("export is encrypted but no passphrase was provided")
	}
	pr, pw := io.Pipe()
	vaultErrCh := make(chan error, 1)
	go func() {
		err := e.vault.Get(key, pw)
		pw.CloseWithError(err)
		vaultErrCh <- err
	}()

	decryptErr := decryptCtx.Decrypt(pr, f)
	pr.CloseWithError(decryptErr)
	vaultErr := <-vaultErrCh

	if decryptErr != nil {
		os.Remove(dest)
		return fmt.Errorf("decrypting export: %w", decryptErr)
	}
	if vaultErr != nil {
		os.Remove(dest)
		return fmt.Errorf("retrieving export from vault: %w", vaultErr)
	}
	return nil
}

// IsEncrypted reports whether key names an encrypted export.
func IsEncrypted(key string) bool {
	return path.Ext(key) == encryptedSuffix
}
