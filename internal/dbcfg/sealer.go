package dbcfg

import "io"

// Sealer encrypts archived snapshots and stored credentials. Sealing uses
// the public key only; unsealing needs the passphrase that protects the
// private key.
type Sealer interface {
	// Setup generates the key pair and protects the private key with
	// passphrase. Called by `dbcfg keys init`.
	Setup(passphrase string) error

	// Seal encrypts r into w.
	Seal(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns an Unsealer for the
	// session.
	Unlock(passphrase string) (Unsealer, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// Unsealer holds an unlocked private key in memory.
type Unsealer interface {
	Unseal(r io.Reader, w io.Writer) error
}
