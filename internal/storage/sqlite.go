package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// sqliteKVStore implements KeyValueStore on a single-table SQLite database.
// Each SetItem is one statement, so the atomic whole-value-per-key contract
// holds; no multi-key transactions are exposed.
type sqliteKVStore struct {
	db *sql.DB
}

// NewSQLiteKVStore opens (or creates) a SQLite-backed KeyValueStore at
// basePath/tasksync.db.
func NewSQLiteKVStore(basePath string) (KeyValueStore, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("opening kv database: creating directory: %w", err)
	}

	dbPath := filepath.Join(basePath, "tasksync.db")
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening kv database: %w", err)
	}

	_, err = db.Exec(`
		PRAGMA synchronous = NORMAL;
		PRAGMA busy_timeout = 5000;

		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up kv database: %w", err)
	}

	return &sqliteKVStore{db: db}, nil
}

func (s *sqliteKVStore) GetItem(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, true, nil
}

func (s *sqliteKVStore) SetItem(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

func (s *sqliteKVStore) RemoveItem(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	return nil
}

func (s *sqliteKVStore) Close() error {
	return s.db.Close()
}
