package database

import (
	"fmt"
	"os"
	"path/filepath"

	"wpsync/internal/config"
	"wpsync/internal/wp"
)

// DatabaseFile is the name of the SQLite file inside the data directory.
const DatabaseFile = "wpsync.db"

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
// In-memory databases are migrated immediately since they start empty every time.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, sealer wp.TokenSealer, logger wp.Logger) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, DatabaseFile), sealer, logger)
	case "memory":
		db, err := NewSQLiteDatabase(":memory:", sealer, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating in-memory database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
