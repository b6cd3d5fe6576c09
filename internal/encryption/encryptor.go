// Package encryption protects retained archives at rest.
package encryption

import (
	"fmt"
	"io"
)

// Encryptor encrypts archives with a public key. Decryption needs the
// passphrase-protected private key, unlocked once per session.
type Encryptor interface {
	// Name identifies the scheme, recorded next to retained archives.
	Name() string

	// Setup performs one-time key generation. Called by `sgcars keys init`.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a Decrypter for the session.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (Decrypter, error)

	// IsConfigured reports whether the keys needed by Encrypt exist.
	IsConfigured() bool
}

// Decrypter holds an unlocked private key in memory only.
type Decrypter interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// Plain stores archives unencrypted.
type Plain struct{}

var (
	_ Encryptor = Plain{}
	_ Decrypter = Plain{}
)

func (Plain) Name() string { return "none" }

func (Plain) Setup(string) error { return nil }

func (Plain) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (Plain) Unlock(string) (Decrypter, error) { return Plain{}, nil }

func (Plain) IsConfigured() bool { return true }

func (Plain) Decrypt(r io.Reader, w io.Writer) error {
	return Plain{}.Encrypt(r, w)
}
