package cache

import (
	"context"
	"path/filepath"
	"testing"

	"sgcars-go/internal/config"
)

func testChangeCache(t *testing.T, c ChangeCache) {
	t.Helper()
	ctx := context.Background()

	got, err := c.GetChecksum(ctx, "cars.csv")
	if err != nil {
		t.Fatalf("GetChecksum() on empty cache error = %v", err)
	}
	if got != "" {
		t.Errorf("GetChecksum() on empty cache = %q, want empty", got)
	}

	if err := c.SetChecksum(ctx, "cars.csv", "abc"); err != nil {
		t.Fatalf("SetChecksum() error = %v", err)
	}
	if err := c.SetChecksum(ctx, "coe.csv", "def"); err != nil {
		t.Fatalf("SetChecksum() error = %v", err)
	}
	if err := c.SetChecksum(ctx, "cars.csv", "xyz"); err != nil {
		t.Fatalf("SetChecksum() overwrite error = %v", err)
	}

	if got, _ := c.GetChecksum(ctx, "cars.csv"); got != "xyz" {
		t.Errorf("GetChecksum(cars.csv) = %q, want xyz", got)
	}
	if got, _ := c.GetChecksum(ctx, "coe.csv"); got != "def" {
		t.Errorf("GetChecksum(coe.csv) = %q, want def", got)
	}
}

func TestMemoryCache(t *testing.T) {
	testChangeCache(t, NewMemoryCache())
}

func TestBoltCache(t *testing.T) {
	c, err := NewBoltCache(filepath.Join(t.TempDir(), "cache", "checksums.db"))
	if err != nil {
		t.Fatalf("NewBoltCache() error = %v", err)
	}
	defer c.Close()

	testChangeCache(t, c)
}

func TestBoltCache_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checksums.db")
	ctx := context.Background()

	c, err := NewBoltCache(path)
	if err != nil {
		t.Fatalf("NewBoltCache() error = %v", err)
	}
	if err := c.SetChecksum(ctx, "cars.csv", "abc"); err != nil {
		t.Fatalf("SetChecksum() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewBoltCache(path)
	if err != nil {
		t.Fatalf("reopening cache error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetChecksum(ctx, "cars.csv")
	if err != nil {
		t.Fatalf("GetChecksum() error = %v", err)
	}
	if got != "abc" {
		t.Errorf("GetChecksum() = %q, want abc", got)
	}
}

func TestNewChangeCacheFromConfig(t *testing.T) {
	t.Run("memory cache", func(t *testing.T) {
		got, err := NewChangeCacheFromConfig(config.CacheConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewChangeCacheFromConfig() error = %v", err)
		}
		if _, ok := got.(*MemoryCache); !ok {
			t.Errorf("got %T, want *MemoryCache", got)
		}
	})

	t.Run("bolt cache", func(t *testing.T) {
		got, err := NewChangeCacheFromConfig(config.CacheConfig{Type: "bolt", Path: filepath.Join(t.TempDir(), "c.db")})
		if err != nil {
			t.Fatalf("NewChangeCacheFromConfig() error = %v", err)
		}
		defer got.Close()
		if _, ok := got.(*BoltCache); !ok {
			t.Errorf("got %T, want *BoltCache", got)
		}
	})

	t.Run("bolt cache without path", func(t *testing.T) {
		got, err := NewChangeCacheFromConfig(config.CacheConfig{Type: "bolt"})
		if err == nil {
			t.Error("expected error for missing path")
		}
		if got != nil {
			t.Error("should return nil on error")
		}
	})

	t.Run("unknown cache type", func(t *testing.T) {
		if _, err := NewChangeCacheFromConfig(config.CacheConfig{Type: "redis"}); err == nil {
			t.Error("expected error for unknown type")
		}
	})
}
