package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// catalogPragmas are applied by the driver to every pooled connection.
const catalogPragmas = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"

// New opens the SQLite catalog at path. Every connection enforces foreign keys
// and uses WAL so the API server and paperctl can share the file.
func New(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?"+catalogPragmas)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}

	return db, nil
}

// Migrate creates the catalog tables. It is idempotent.
func Migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			title TEXT,
			abstract TEXT,
			year INTEGER NOT NULL DEFAULT 0,
			pages INTEGER NOT NULL DEFAULT 0,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS passages (
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			page_number INTEGER NOT NULL,
			section TEXT,
			section_type TEXT NOT NULL,
			text TEXT NOT NULL,
			semantic_density REAL NOT NULL DEFAULT 0,
			has_citation INTEGER NOT NULL DEFAULT 0,
			has_equation INTEGER NOT NULL DEFAULT 0,
			has_table_ref INTEGER NOT NULL DEFAULT 0,
			has_figure_ref INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (document_id, chunk_index),
			FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
		);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}

	return nil
}

// parseTimestamp reads a SQLite DATETIME column scanned as text.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err == nil {
		return t, nil
	}
	// The driver may hand back RFC3339 for DATETIME columns
	return time.Parse(time.RFC3339, s)
}
