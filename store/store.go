package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS posts (
    post_id        TEXT PRIMARY KEY,
    post_url       TEXT NOT NULL DEFAULT '',
    username       TEXT NOT NULL DEFAULT '',
    caption        TEXT NOT NULL DEFAULT '',
    thumbnail_path TEXT NOT NULL DEFAULT '',
    total_images   INTEGER NOT NULL DEFAULT 0,
    media_paths    TEXT NOT NULL DEFAULT '[]',
    has_video      INTEGER NOT NULL DEFAULT 0,
    download_date  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    title      TEXT NOT NULL,
    message    TEXT NOT NULL,
    type       TEXT NOT NULL,
    timestamp  INTEGER NOT NULL,
    is_read    INTEGER NOT NULL DEFAULT 0,
    post_id    TEXT NOT NULL DEFAULT '',
    file_paths TEXT NOT NULL DEFAULT '[]'
);
`

// DB is the process-scoped database handle. It is created once at startup and
// passed to every component that needs it.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) the sqlite database at the given path
// and bootstraps the schema.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := "file:" + url.PathEscape(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer; sqlite serializes writes anyway and this keeps the driver
	// from returning SQLITE_BUSY under concurrent reconciliation.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Debugf("opened database: %s", path)
	return &DB{sql: db}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.sql.Close()
}
