// Package vault retains copies of downloaded archives and database snapshots.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
)

// ErrNotFound is returned when an archive or metadata item does not exist.
var ErrNotFound = errors.New("not found")

// Vault is a write-mostly store for retained archives. Archives are keyed by
// dataset and content checksum; storing the same key twice is safe.
type Vault interface {
	// PutArchive stores an archive. size must match the bytes read from r.
	PutArchive(ctx context.Context, dataset, checksum string, r io.Reader, size int64) error

	// GetArchive writes a stored archive to w. Returns ErrNotFound if absent.
	GetArchive(ctx context.Context, dataset, checksum string, w io.Writer) error

	// ListArchives returns the checksums stored for dataset, sorted.
	ListArchives(ctx context.Context, dataset string) ([]string, error)

	// PutMetadata stores a named item such as a database snapshot.
	PutMetadata(ctx context.Context, name string, r io.Reader, size int64) error

	// GetMetadata writes a named item to w. Returns ErrNotFound if absent.
	GetMetadata(ctx context.Context, name string, w io.Writer) error

	// ValidateSetup checks that the vault is reachable and writable.
	ValidateSetup(ctx context.Context) error
}

const (
	archivesDir = "archives"
	metadataDir = "metadata"
	archiveExt  = ".zip"
)

var (
	namePattern     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	metadataPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	checksumPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

func validateArchiveKey(dataset, checksum string) error {
	if !namePattern.MatchString(dataset) {
		return fmt.Errorf("invalid dataset name %q", dataset)
	}
	if !checksumPattern.MatchString(checksum) {
		return fmt.Errorf("invalid checksum %q: want 64 lowercase hex characters", checksum)
	}
	return nil
}

func validateMetadataName(name string) error {
	if !metadataPattern.MatchString(name) || strings.Trim(name, ".") == "" {
		return fmt.Errorf("invalid metadata name %q", name)
	}
	return nil
}

// archiveKey returns the slash-separated key of an archive, relative to the
// vault root.
func archiveKey(dataset, checksum string) string {
	return path.Join(archivesDir, dataset, checksum+archiveExt)
}

func archivePrefix(dataset string) string {
	return path.Join(archivesDir, dataset) + "/"
}

func metadataKey(name string) string {
	return path.Join(metadataDir, name)
}

// checksumFromKey extracts the checksum from an archive key, or "" if key is
// not an archive key.
func checksumFromKey(key string) string {
	base := path.Base(key)
	if !strings.HasSuffix(base, archiveExt) {
		return ""
	}
	sum := strings.TrimSuffix(base, archiveExt)
	if !checksumPattern.MatchString(sum) {
		return ""
	}
	return sum
}

func sizeMismatch(expected, got int64) error {
	return fmt.Errorf("size mismatch: expected %d bytes, got %d", expected, got)
}
