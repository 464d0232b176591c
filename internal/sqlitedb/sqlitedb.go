// Package sqlitedb opens SQLite databases with the pragmas every repoindex
// store expects.
package sqlitedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// Options tunes a database opened with Open.
type Options struct {
	// Synchronous is the PRAGMA synchronous level. Stores whose rows must
	// survive power loss use FULL; the default is NORMAL.
	Synchronous string
}

// Open opens the database at path, creating its directory. An empty path
// opens a private in-memory database.
func Open(path string, opts Options) (*sql.DB, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; also keeps an in-memory database on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	level := opts.Synchronous
	if level == "" {
		level = "NORMAL"
	}
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = " + level,
		"PRAGMA temp_store = MEMORY",
	}
	if path != "" {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	return db, nil
}
