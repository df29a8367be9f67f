// Package store is the durable local state of the client: a small key/value
// table for credentials and the curriculum cache, plus one row per host for
// persisted cookies. SQLite via the pure-Go modernc driver.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cookie_hosts (
	host    TEXT PRIMARY KEY,
	cookies TEXT NOT NULL
);`

// Store wraps the SQLite database. Safe for concurrent use; SQLite plus the
// engine/jar locks serialize the actual writes.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the database at path and bootstraps the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %q: %w", key, err)
	}
	return value, true, nil
}

// Set writes a single key, replacing any previous value.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: set %q: %w", key, err)
	}
	return nil
}

// SetMany writes several keys in one transaction, so a crash cannot leave
// the curriculum cache and its range boundaries disagreeing.
func (s *Store) SetMany(values map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	for key, value := range values {
		if _, err := tx.Exec(
			`INSERT INTO kv (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: set %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Delete removes a key; missing keys are not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

// ClearKV empties the key/value table (logout).
func (s *Store) ClearKV() error {
	if _, err := s.db.Exec(`DELETE FROM kv`); err != nil {
		return fmt.Errorf("store: clear kv: %w", err)
	}
	return nil
}

// SaveCookieHost replaces the serialized cookie list for one host in a
// single atomic row write.
func (s *Store) SaveCookieHost(host, payload string) error {
	_, err := s.db.Exec(
		`INSERT INTO cookie_hosts (host, cookies) VALUES (?, ?)
		 ON CONFLICT(host) DO UPDATE SET cookies = excluded.cookies`, host, payload)
	if err != nil {
		return fmt.Errorf("store: save cookies for %q: %w", host, err)
	}
	return nil
}

// LoadCookieHosts returns every host's serialized cookie list.
func (s *Store) LoadCookieHosts() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT host, cookies FROM cookie_hosts`)
	if err != nil {
		return nil, fmt.Errorf("store: load cookies: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var host, payload string
		if err := rows.Scan(&host, &payload); err != nil {
			return nil, fmt.Errorf("store: scan cookie row: %w", err)
		}
		out[host] = payload
	}
	return out, rows.Err()
}

// ClearCookies erases every persisted cookie.
func (s *Store) ClearCookies() error {
	if _, err := s.db.Exec(`DELETE FROM cookie_hosts`); err != nil {
		return fmt.Errorf("store: clear cookies: %w", err)
	}
	return nil
}
