package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"sgcars-go/internal/cache"
	"sgcars-go/internal/database/migrations"
	"sgcars-go/internal/updater"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const driverName = "sqlite3"

// memoryPath selects an in-memory database.
const memoryPath = ":memory:"

// SQLiteStore is the destination store: dataset tables plus the run history.
type SQLiteStore struct {
	db        *sqlx.DB
	path      string
	summaries *cache.ReadCache
}

var (
	_ updater.Store   = (*SQLiteStore)(nil)
	_ updater.TxStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens the database at path, which can be a file path or
// ":memory:". summaries, if non-nil, caches Summary results.
func NewSQLiteStore(path string, summaries *cache.ReadCache) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteStore{
		db:        sqlx.NewDb(db, driverName),
		path:      path,
		summaries: summaries,
	}, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB, summaries *cache.ReadCache) *SQLiteStore {
	return &SQLiteStore{
		db:        sqlx.NewDb(db, driverName),
		summaries: summaries,
	}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tests that need a properly configured SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == memoryPath {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db.DB)
}

// Migrate applies pending migrations.
func (s *SQLiteStore) Migrate() error {
	return migrations.MigrateUp(s.db.DB)
}

// SchemaVersion reports the applied schema version and whether it is dirty.
func (s *SQLiteStore) SchemaVersion() (uint, bool, error) {
	return migrations.Version(s.db.DB)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
