package database

import (
	"fmt"
	"os"
	"path/filepath"

	"sgcars-go/internal/cache"
	"sgcars-go/internal/config"
)

// DatabaseFile is the file name of the sqlite database inside data_dir.
const DatabaseFile = "sgcars.db"

// NewStoreFromConfig creates a SQLiteStore based on the database config type.
// In-memory databases start empty, so they are migrated immediately.
func NewStoreFromConfig(cfg config.DatabaseConfig, summaries *cache.ReadCache) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, DatabaseFile), summaries)
	case "memory":
		s, err := NewSQLiteStore(memoryPath, summaries)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrating in-memory database: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
