package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryVault keeps archives in memory. It is safe for concurrent use and is
// mostly useful for tests.
type MemoryVault struct {
	name    string
	objects map[string][]byte // key -> content
	mu      sync.RWMutex
}

var _ Vault = (*MemoryVault)(nil)

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:    name,
		objects: make(map[string][]byte),
	}
}

// PutArchive stores an archive. Storing the same key again replaces it.
func (m *MemoryVault) PutArchive(_ context.Context, dataset, checksum string, r io.Reader, size int64) error {
	if err := validateArchiveKey(dataset, checksum); err != nil {
		return err
	}
	return m.put(archiveKey(dataset, checksum), r, size)
}

// GetArchive retrieves an archive.
func (m *MemoryVault) GetArchive(_ context.Context, dataset, checksum string, w io.Writer) error {
	if err := validateArchiveKey(dataset, checksum); err != nil {
		return err
	}
	return m.get(archiveKey(dataset, checksum), w)
}

// ListArchives returns the checksums stored for dataset.
func (m *MemoryVault) ListArchives(_ context.Context, dataset string) ([]string, error) {
	if !namePattern.MatchString(dataset) {
		return nil, fmt.Errorf("invalid dataset name %q", dataset)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := archivePrefix(dataset)
	var sums []string
	for key := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if sum := checksumFromKey(key); sum != "" {
			sums = append(sums, sum)
		}
	}
	sort.Strings(sums)
	return sums, nil
}

// PutMetadata stores a named metadata item.
func (m *MemoryVault) PutMetadata(_ context.Context, name string, r io.Reader, size int64) error {
	if err := validateMetadataName(name); err != nil {
		return err
	}
	return m.put(metadataKey(name), r, size)
}

// GetMetadata retrieves a named metadata item.
func (m *MemoryVault) GetMetadata(_ context.Context, name string, w io.Writer) error {
	if err := validateMetadataName(name); err != nil {
		return err
	}
	return m.get(metadataKey(name), w)
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(context.Context) error {
	return nil
}

// Len returns the number of stored objects.
func (m *MemoryVault) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *MemoryVault) put(key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return sizeMismatch(size, int64(len(data)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *MemoryVault) get(key string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}
