// Package db opens the SQLite run catalog and keeps its schema current.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SchemaVersion is the catalog schema this build writes.
const SchemaVersion = 1

// BusyTimeoutMs is how long a connection waits on another writer's lock.
// Repeated runs record results from several goroutines at once.
const BusyTimeoutMs = 5000

const memoryPath = ":memory:"

// pragmas are applied by the driver to every pooled connection, not just the
// first one.
var pragmas = []string{
	fmt.Sprintf("busy_timeout(%d)", BusyTimeoutMs),
	"foreign_keys(1)",
	"journal_mode(WAL)",
}

// Open creates or opens the catalog database at dbPath. ":memory:" opens a
// private in-memory catalog backed by a single connection.
func Open(dbPath string) (*sql.DB, error) {
	if dbPath != memoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dbPath == memoryPath {
		// each connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", dbPath, err)
	}
	return db, nil
}

func dsn(dbPath string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return dbPath + "?" + q.Encode()
}

// OpenCatalog opens dbPath and migrates it to SchemaVersion.
func OpenCatalog(dbPath string) (*sql.DB, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates any missing tables and records SchemaVersion. It refuses a
// catalog written by a newer schema.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	var current sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if current.Valid && current.Int64 > SchemaVersion {
		return fmt.Errorf("catalog schema version %d is newer than supported %d", current.Int64, SchemaVersion)
	}

	if _, err := db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}
