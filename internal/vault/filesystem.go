package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileSystemVault stores archives as files in a directory structure:
//
//	<root>/
//	  archives/
//	    <dataset>/
//	      <checksum>.zip
//	  metadata/
//	    <name>
type FileSystemVault struct {
	name string
	root string
}

var _ Vault = (*FileSystemVault)(nil)

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	for _, dir := range []string{archivesDir, metadataDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}
	return &FileSystemVault{name: name, root: root}, nil
}

// Root returns the vault's root directory.
func (v *FileSystemVault) Root() string { return v.root }

// PutArchive stores an archive. An archive already present under the same
// checksum is kept and r is drained.
func (v *FileSystemVault) PutArchive(_ context.Context, dataset, checksum string, r io.Reader, size int64) error {
	if err := validateArchiveKey(dataset, checksum); err != nil {
		return err
	}

	destPath := v.path(archiveKey(dataset, checksum))
	if _, err := os.Stat(destPath); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return sizeMismatch(size, written)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create dataset directory: %w", err)
	}
	return writeFile(destPath, r, size)
}

// GetArchive retrieves an archive and writes it to w.
func (v *FileSystemVault) GetArchive(_ context.Context, dataset, checksum string, w io.Writer) error {
	if err := validateArchiveKey(dataset, checksum); err != nil {
		return err
	}
	return readFile(v.path(archiveKey(dataset, checksum)), w)
}

// ListArchives returns the checksums stored for dataset.
func (v *FileSystemVault) ListArchives(_ context.Context, dataset string) ([]string, error) {
	if !namePattern.MatchString(dataset) {
		return nil, fmt.Errorf("invalid dataset name %q", dataset)
	}

	entries, err := os.ReadDir(v.path(archivePrefix(dataset)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing archives: %w", err)
	}

	var sums []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if sum := checksumFromKey(e.Name()); sum != "" {
			sums = append(sums, sum)
		}
	}
	sort.Strings(sums)
	return sums, nil
}

// PutMetadata stores a named item, replacing any previous version.
func (v *FileSystemVault) PutMetadata(_ context.Context, name string, r io.Reader, size int64) error {
	if err := validateMetadataName(name); err != nil {
		return err
	}
	return writeFile(v.path(metadataKey(name)), r, size)
}

// GetMetadata retrieves a named item and writes it to w.
func (v *FileSystemVault) GetMetadata(_ context.Context, name string, w io.Writer) error {
	if err := validateMetadataName(name); err != nil {
		return err
	}
	return readFile(v.path(metadataKey(name)), w)
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup(context.Context) error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}

	for _, dir := range []string{archivesDir, metadataDir} {
		p := filepath.Join(v.root, dir)
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", p)
		}
	}
	return nil
}

func (v *FileSystemVault) path(key string) string {
	return filepath.Join(v.root, filepath.FromSlash(key))
}

// writeFile writes data from r to destPath using a temp file and rename.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return sizeMismatch(expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

func readFile(srcPath string, w io.Writer) error {
	f, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", filepath.Base(srcPath), ErrNotFound)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}
