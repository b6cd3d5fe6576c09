package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"sgcars-go/internal/encryption"
	"sgcars-go/internal/updater"
)

// Retainer keeps a copy of every changed archive in a Vault, encrypted when
// an Encryptor other than encryption.Plain is configured.
type Retainer struct {
	vault     Vault
	encryptor encryption.Encryptor
}

var _ updater.ArchiveRetainer = (*Retainer)(nil)

// NewRetainer creates a Retainer. A nil encryptor stores archives as-is.
func NewRetainer(v Vault, enc encryption.Encryptor) *Retainer {
	if enc == nil {
		enc = encryption.Plain{}
	}
	return &Retainer{vault: v, encryptor: enc}
}

// Retain stores the archive read from r under dataset and checksum.
func (rt *Retainer) Retain(ctx context.Context, dataset, checksum string, r io.Reader, size int64) error {
	if _, ok := rt.encryptor.(encryption.Plain); ok {
		return rt.vault.PutArchive(ctx, dataset, checksum, r, size)
	}

	var buf bytes.Buffer
	if err := rt.encryptor.Encrypt(r, &buf); err != nil {
		return fmt.Errorf("encrypting %s archive: %w", dataset, err)
	}
	return rt.vault.PutArchive(ctx, dataset, checksum, &buf, int64(buf.Len()))
}

// Restore writes the archive stored under dataset and checksum to w,
// decrypting it with d.
func Restore(ctx context.Context, v Vault, d encryption.Decrypter, dataset, checksum string, w io.Writer) error {
	var buf bytes.Buffer
	if err := v.GetArchive(ctx, dataset, checksum, &buf); err != nil {
		return err
	}
	if err := d.Decrypt(&buf, w); err != nil {
		return fmt.Errorf("decrypting %s archive: %w", dataset, err)
	}
	return nil
}
