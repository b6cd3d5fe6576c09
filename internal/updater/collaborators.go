package updater

import (
	"context"
	"io"

	"sgcars-go/internal/model"
)

// Download is what the fetcher produced for one run.
type Download struct {
	// Dir is the scratch directory the archive was extracted into.
	Dir string
	// Files lists every extracted (non-directory) entry, in archive order.
	Files []string
	// Selected is the entry chosen for this run.
	Selected string
	// Archive holds the raw downloaded bytes.
	Archive []byte
}

// Path returns the on-disk location of the selected file.
func (d *Download) Path() string {
	return joinPath(d.Dir, d.Selected)
}

// Fetcher downloads and extracts a dataset archive.
type Fetcher interface {
	Fetch(ctx context.Context, d SourceDescriptor) (*Download, error)
}

// Fingerprinter computes a content checksum of a file.
type Fingerprinter interface {
	Checksum(path string) (string, error)
}

// Transformer parses a delimited file into records.
type Transformer interface {
	Transform(path string, cfg TransformConfig) ([]model.Record, error)
}

// ArchiveRetainer keeps a copy of each changed archive. It is optional.
type ArchiveRetainer interface {
	Retain(ctx context.Context, dataset, checksum string, r io.Reader, size int64) error
}
