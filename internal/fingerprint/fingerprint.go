// Package fingerprint computes content checksums used for change detection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"sgcars-go/internal/updater"
)

// SHA256 fingerprints files by their SHA-256 digest, as lowercase hex.
type SHA256 struct{}

var _ updater.Fingerprinter = SHA256{}

// Checksum streams the file at path through SHA-256.
func (SHA256) Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &updater.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	sum, err := Reader(f)
	if err != nil {
		return "", &updater.IOError{Op: "read", Path: path, Err: err}
	}
	return sum, nil
}

// Reader returns the SHA-256 hex digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes returns the SHA-256 hex digest of data.
func Bytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
