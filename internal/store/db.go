// Package store is the reference Store implementation for chronoforge: a
// database/sql-backed SQLite or libsql store with row-level locking via
// SQLite's own serialized-writer semantics plus an explicit lease column.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// DB wraps a *sql.DB opened against either a local SQLite file or a remote
// libsql/Turso endpoint, selected by the URL scheme.
type DB struct {
	conn *sql.DB
}

// Open connects to databaseURL, applying embedded migrations before
// returning. databaseURL is either a filesystem path (local SQLite) or a
// libsql://, http://, https:// URL (Turso/libsql).
func Open(databaseURL string) (*DB, error) {
	db, err := newConn(databaseURL)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db.conn); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newConn(databaseURL string) (*DB, error) {
	isLibSQL := strings.HasPrefix(databaseURL, "libsql://") ||
		strings.HasPrefix(databaseURL, "http://") ||
		strings.HasPrefix(databaseURL, "https://")

	if isLibSQL {
		conn, err := sql.Open("libsql", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("chronoforge: opening libsql database: %w", err)
		}

		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(10)
		conn.SetConnMaxLifetime(5 * time.Minute)

		if err := conn.Ping(); err != nil {
			return nil, fmt.Errorf("chronoforge: connecting to libsql database: %w", err)
		}
		return &DB{conn: conn}, nil
	}

	dbDir := filepath.Dir(databaseURL)
	if dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("chronoforge: creating database directory %s: %w", dbDir, err)
		}
	}

	const maxRetries = 5
	const baseDelay = 100 * time.Millisecond

	var conn *sql.DB
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		conn, err = sql.Open("sqlite", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("chronoforge: opening database: %w", err)
		}

		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)

		if pingErr := conn.Ping(); pingErr != nil {
			conn.Close()
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("chronoforge: pinging database after %d attempts: %w", maxRetries, pingErr)
			}
			time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
			continue
		}
		break
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			return nil, fmt.Errorf("chronoforge: applying %q: %w", p, err)
		}
	}

	return &DB{conn: conn}, nil
}

// Conn returns the underlying connection pool.
func (db *DB) Conn() *sql.DB { return db.conn }

// Close releases the connection pool, dropping the pool limits first so
// in-flight connections are not kept open waiting for idle timeouts.
func (db *DB) Close() error {
	db.conn.SetMaxOpenConns(0)
	db.conn.SetMaxIdleConns(0)
	db.conn.SetConnMaxLifetime(0)
	return db.conn.Close()
}
