package encryption

import (
	"bytes"
	"fmt"
	"io"

	"dbcfg/internal/dbcfg"
)

// testMagic marks data sealed by TestSealer.
var testMagic = []byte("DBCFGSEAL\n")

// TestSealer is a deterministic sealer for tests. It prefixes the data with
// a fixed marker, so sealed bytes differ from the plaintext without any
// cryptography. Unlock fails for passphrases other than the one given to
// Setup, once Setup has been called.
type TestSealer struct {
	passphrase string
	configured bool
}

var _ dbcfg.Sealer = (*TestSealer)(nil)

func NewTestSealer() *TestSealer {
	return &TestSealer{}
}

func (s *TestSealer) Setup(passphrase string) error {
	s.passphrase = passphrase
	s.configured = true
	return nil
}

func (s *TestSealer) Seal(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing seal marker: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (s *TestSealer) Unlock(passphrase string) (dbcfg.Unsealer, error) {
	if s.configured && passphrase != s.passphrase {
		return nil, fmt.Errorf("wrong passphrase")
	}
	return TestUnsealer{}, nil
}

// IsConfigured is always true so the test sealer needs no key setup.
func (s *TestSealer) IsConfigured() bool { return true }

// TestUnsealer strips the TestSealer marker.
type TestUnsealer struct{}

func (TestUnsealer) Unseal(r io.Reader, w io.Writer) error {
	magic := make([]byte, len(testMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return fmt.Errorf("reading seal marker: %w", err)
	}
	if !bytes.Equal(magic, testMagic) {
		return fmt.Errorf("data was not sealed by the test sealer")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
