package testutil

import (
	"context"
	"sync"

	"sgcars-go/internal/updater"
)

// FakeCache is an in-memory updater.ChangeCache with injectable errors.
// Safe for concurrent use.
type FakeCache struct {
	mu      sync.Mutex
	entries map[string]string
	sets    int

	GetErr error
	SetErr error
}

var _ updater.ChangeCache = (*FakeCache)(nil)

func NewFakeCache() *FakeCache {
	return &FakeCache{entries: make(map[string]string)}
}

func (c *FakeCache) GetChecksum(_ context.Context, fileName string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetErr != nil {
		return "", c.GetErr
	}
	return c.entries[fileName], nil
}

func (c *FakeCache) SetChecksum(_ context.Context, fileName, checksum string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SetErr != nil {
		return c.SetErr
	}
	c.entries[fileName] = checksum
	c.sets++
	return nil
}

// Entry returns the cached checksum for fileName without going through the
// injected errors.
func (c *FakeCache) Entry(fileName string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[fileName]
}

// Sets returns how many checksums were written successfully.
func (c *FakeCache) Sets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}
