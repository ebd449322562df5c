package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type Config struct {
	// Path of the database file. Empty keeps the database in memory.
	Path string
}

// InMemory reports whether the config selects a process-local database.
func (c Config) InMemory() bool {
	return c.Path == "" || c.Path == ":memory:"
}

// Open opens the SQLite database with foreign keys on. An in-memory database
// is pinned to one connection so every query sees the same data.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.InMemory() {
		conn, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
		if err != nil {
			return nil, err
		}
		conn.SetMaxOpenConns(1)
		conn.SetConnMaxLifetime(0)
		conn.SetConnMaxIdleTime(0)
		return conn, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.Path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}
