package updater

import "context"

// ChangeCache remembers the last-seen checksum per source file name.
type ChangeCache interface {
	// GetChecksum returns the cached checksum for fileName, or "" if none.
	GetChecksum(ctx context.Context, fileName string) (string, error)

	// SetChecksum records checksum as the last-seen value for fileName.
	SetChecksum(ctx context.Context, fileName, checksum string) error
}
