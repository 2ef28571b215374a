package testutil

import (
	"testing"

	"wpsync/internal/database"
	"wpsync/internal/encryption"
)

// NewTestDatabase creates a new in-memory SQLite database with schema applied.
// Tokens are sealed with the deterministic test sealer.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:", encryption.NewTestSealer(), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
