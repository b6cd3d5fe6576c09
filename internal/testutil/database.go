package testutil

import (
	"testing"

	"sgcars-go/internal/cache"
	"sgcars-go/internal/database"
)

// NewTestSQLStore creates a migrated in-memory SQLite store.
// summaries may be nil. The store is closed when the test completes.
func NewTestSQLStore(t *testing.T, summaries *cache.ReadCache) *database.SQLiteStore {
	t.Helper()

	s, err := database.NewSQLiteStore(":memory:", summaries)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	if err := s.Migrate(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return s
}
