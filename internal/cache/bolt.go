package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"sgcars-go/internal/updater"
)

var checksumBucket = []byte("checksums")

// openTimeout bounds waiting for another process holding the file lock.
const openTimeout = 5 * time.Second

// BoltCache persists checksums in a bolt file so they survive restarts.
// bolt serialises writers itself, so BoltCache is safe for concurrent use.
type BoltCache struct {
	db   *bolt.DB
	path string
}

var _ ChangeCache = (*BoltCache)(nil)

// NewBoltCache opens (or creates) the cache file at path.
func NewBoltCache(path string) (*BoltCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening cache %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checksumBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating checksum bucket: %w", err)
	}

	return &BoltCache{db: db, path: path}, nil
}

func (c *BoltCache) GetChecksum(_ context.Context, fileName string) (string, error) {
	var checksum string
	err := c.db.View(func(tx *bolt.Tx) error {
		// Values are only valid inside the transaction, so copy out.
		if v := tx.Bucket(checksumBucket).Get([]byte(fileName)); v != nil {
			checksum = string(v)
		}
		return nil
	})
	if err != nil {
		return "", &updater.CacheError{Op: "get", Key: fileName, Err: err}
	}
	return checksum, nil
}

func (c *BoltCache) SetChecksum(_ context.Context, fileName, checksum string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(checksumBucket).Put([]byte(fileName), []byte(checksum))
	})
	if err != nil {
		return &updater.CacheError{Op: "set", Key: fileName, Err: err}
	}
	return nil
}

// Close releases the file lock.
func (c *BoltCache) Close() error {
	return c.db.Close()
}
