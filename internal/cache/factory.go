package cache

import (
	"fmt"

	"sgcars-go/internal/config"
)

// NewChangeCacheFromConfig creates a ChangeCache based on the cache config type.
func NewChangeCacheFromConfig(cfg config.CacheConfig) (ChangeCache, error) {
	switch cfg.Type {
	case "bolt":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for bolt cache")
		}
		c, err := NewBoltCache(cfg.Path)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "memory":
		return NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
