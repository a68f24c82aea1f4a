package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Config holds store configuration. SQLite is the default edge driver;
// Postgres is selected by DSN for shared deployments.
type Config struct {
	Driver string // "sqlite3" or "postgres"
	Path   string // sqlite3 database file
	DSN    string // postgres connection string
}

// Store is the persistence layer for the attendance ledger, device
// operational state, the employee lookup, and the sync-run audit trail.
type Store struct {
	conn   *sql.DB
	driver string
}

// Open opens the database, configures it, and runs migrations.
func Open(cfg Config) (*Store, error) {
	var conn *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite3":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on", cfg.Path)
		conn, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	case "postgres":
		conn, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database connection: %w", err)
		}
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(30 * time.Minute)
		if err := conn.Ping(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	s := &Store{conn: conn, driver: cfg.Driver}

	if s.driver == "sqlite3" {
		if err := s.configurePragmas(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to configure pragmas: %w", err)
		}
	}

	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// configurePragmas sets SQLite pragmas for sane edge performance.
func (s *Store) configurePragmas() error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = memory",
	}

	for _, pragma := range pragmas {
		if _, err := s.conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// rebind converts `?` placeholders to the driver's positional form.
// Queries are written once with `?`; Postgres needs `$1..$n`.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
