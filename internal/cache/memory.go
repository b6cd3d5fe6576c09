package cache

import (
	"context"
	"sync"
)

// MemoryCache keeps checksums in process memory. Safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

var _ ChangeCache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]string)}
}

func (c *MemoryCache) GetChecksum(_ context.Context, fileName string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[fileName], nil
}

func (c *MemoryCache) SetChecksum(_ context.Context, fileName, checksum string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fileName] = checksum
	return nil
}

func (c *MemoryCache) Close() error { return nil }
