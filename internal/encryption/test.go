package encryption

import (
	"bytes"
	"fmt"
	"io"

	"panelup/internal/update"
)

// testHeader marks data "encrypted" by TestEncryptor.
var testHeader = []byte("PUENC\x00\x00\x00")

// TestEncryptor is a deterministic stand-in for tests and for setups that
// do not want export encryption key management. It prepends a fixed header
// on Encrypt and strips it on Decrypt.
type TestEncryptor struct{}

var _ update.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(string) error { return nil }

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(string) (update.DecryptionContext, error) {
	return testDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

type testDecryptionContext struct{}

func (testDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test encryption header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
