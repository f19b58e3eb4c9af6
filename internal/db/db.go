// Package db provides the sqlite persistence layer for decoded glucose
// readings and sensor status snapshots.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the sql.DB connection with glucose-specific operations.
type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the sqlite database at path, applies connection
// pragmas, and migrates the schema to the latest version.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer; the gateway writes from the ingest
	// loop while the API reads concurrently.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.applyPragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) applyPragmas() error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}
