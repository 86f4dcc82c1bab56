package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"dbcfg/internal/config"
	"dbcfg/internal/dbcfg"
)

// AgeSealer implements dbcfg.Sealer with filippo.io/age X25519 keys. The
// public key is stored in plaintext; the private key is sealed with the
// user's passphrase using age's scrypt recipient. Additional recipients from
// the config, such as a team recovery key, can open every sealed snapshot.
type AgeSealer struct {
	publicKeyPath  string
	privateKeyPath string
	recipients     []string
}

var _ dbcfg.Sealer = (*AgeSealer)(nil)

// NewAgeSealer creates an AgeSealer from configuration.
func NewAgeSealer(cfg config.EncryptionConfig) *AgeSealer {
	return &AgeSealer{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
		recipients:     cfg.Recipients,
	}
}

// Setup generates a key pair, writes the public key and seals the private
// key with passphrase.
func (s *AgeSealer) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	for _, p := range []string{s.publicKeyPath, s.privateKeyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}
	if err := os.WriteFile(s.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return fmt.Errorf("creating sealed writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing private key: %w", err)
	}
	if err := os.WriteFile(s.privateKeyPath, sealed.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

// Seal encrypts r into w for the stored public key and every configured
// recipient.
func (s *AgeSealer) Seal(r io.Reader, w io.Writer) error {
	recipients, err := s.loadRecipients()
	if err != nil {
		return err
	}
	sw, err := age.Encrypt(w, recipients...)
	if err != nil {
		return fmt.Errorf("creating sealed writer: %w", err)
	}
	if _, err := io.Copy(sw, r); err != nil {
		return fmt.Errorf("sealing data: %w", err)
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("finalizing seal: %w", err)
	}
	return nil
}

func (s *AgeSealer) loadRecipients() ([]age.Recipient, error) {
	pub, err := os.ReadFile(s.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(pub))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}
	for _, extra := range s.recipients {
		r, err := age.ParseX25519Recipient(strings.TrimSpace(extra))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", extra, err)
		}
		recipients = append(recipients, r)
	}
	return recipients, nil
}

// Unlock opens the private key with passphrase.
func (s *AgeSealer) Unlock(passphrase string) (dbcfg.Unsealer, error) {
	sealed, err := os.ReadFile(s.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}
	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(sealed), scrypt)
	if err != nil {
		return nil, fmt.Errorf("unsealing private key: %w", err)
	}
	identities, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in private key")
	}
	return &AgeUnsealer{identities: identities}, nil
}

// IsConfigured reports whether both key files exist.
func (s *AgeSealer) IsConfigured() bool {
	for _, p := range []string{s.publicKeyPath, s.privateKeyPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// AgeUnsealer holds unlocked age identities.
type AgeUnsealer struct {
	identities []age.Identity
}

var _ dbcfg.Unsealer = (*AgeUnsealer)(nil)

func (u *AgeUnsealer) Unseal(r io.Reader, w io.Writer) error {
	dr, err := age.Decrypt(r, u.identities...)
	if err != nil {
		return fmt.Errorf("opening sealed data: %w", err)
	}
	if _, err := io.Copy(w, dr); err != nil {
		return fmt.Errorf("unsealing data: %w", err)
	}
	return nil
}
