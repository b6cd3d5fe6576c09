package cache

import (
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"sgcars-go/internal/updater"
)

const readKeySeparator = "\x00"

// ReadCache is a bounded LRU of query results grouped by table. Safe for
// concurrent use.
//
// Each table has a generation that InvalidateTable bumps. A reader takes the
// generation before querying and stores its result with AddAt, which drops it
// if the table was invalidated in between.
type ReadCache struct {
	lru *lru.Cache

	mu   sync.Mutex
	gens map[string]uint64
}

var _ updater.Invalidator = (*ReadCache)(nil)

// NewReadCache creates a ReadCache holding at most size entries.
func NewReadCache(size int) (*ReadCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("creating read cache: %w", err)
	}
	return &ReadCache{lru: c, gens: make(map[string]uint64)}, nil
}

func readKey(table, key string) string {
	return table + readKeySeparator + key
}

// Get returns the cached value for key under table.
func (c *ReadCache) Get(table, key string) (any, bool) {
	return c.lru.Get(readKey(table, key))
}

// Add caches v for key under table.
func (c *ReadCache) Add(table, key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(readKey(table, key), v)
}

// Generation returns the current generation of table.
func (c *ReadCache) Generation(table string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[table]
}

// AddAt caches v like Add, but only while table is still at generation gen.
// It reports whether v was cached.
func (c *ReadCache) AddAt(table, key string, v any, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[table] != gen {
		return false
	}
	c.lru.Add(readKey(table, key), v)
	return true
}

// Len returns the number of cached entries.
func (c *ReadCache) Len() int {
	return c.lru.Len()
}

// Contains reports whether table has any cached entry.
func (c *ReadCache) Contains(table string) bool {
	prefix := table + readKeySeparator
	for _, k := range c.lru.Keys() {
		if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// InvalidateTable drops every entry cached under table.
func (c *ReadCache) InvalidateTable(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[table]++

	prefix := table + readKeySeparator
	for _, k := range c.lru.Keys() {
		if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
			c.lru.Remove(k)
		}
	}
}
