package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - runs/events with promoted order_id and symbol columns
const currentSchemaVersion = 1

// DefaultReadConns is the reader pool size when no option overrides it.
const DefaultReadConns = 16

// Store provides durable storage for backtest runs and their events.
// Uses SQLite with WAL mode so queries run concurrently with appends.
type Store struct {
	writer *sql.DB
	reader *sql.DB
	logger *slog.Logger

	readConns int
}

// Option configures a Store.
type Option func(*Store)

// WithReadConns sets the maximum number of reader connections.
func WithReadConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.readConns = n
		}
	}
}

// WithLogger sets the logger used for open/close events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The writer pool holds a single connection. The reader pool is opened with
// query_only so a stray write through it fails instead of contending for the
// write lock.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		logger:    slog.Default(),
		readConns: DefaultReadConns,
	}
	for _, opt := range opts {
		opt(s)
	}

	writer, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	if err := applyPragmas(writer); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(writer); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	// Reader pragmas go through the DSN so every pooled connection gets them.
	reader, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on&_query_only=true")
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to open reader pool: %w", err)
	}
	if err := reader.Ping(); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("failed to connect reader pool: %w", err)
	}
	reader.SetMaxOpenConns(s.readConns)
	reader.SetMaxIdleConns(s.readConns)

	s.writer = writer
	s.reader = reader
	s.logger.Debug("store opened", "path", path, "read_conns", s.readConns)
	return s, nil
}

// Close closes both connection pools.
func (s *Store) Close() error {
	var firstErr error
	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			firstErr = err
		}
	}
	if s.writer != nil {
		if err := s.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// applyPragmas sets required SQLite configuration on the writer connection.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if version == currentSchemaVersion {
		return nil
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value on the
// given pool. Used for testing.
func verifyPragma(ctx context.Context, db *sql.DB, name, expected string) error {
	var value string
	if err := db.QueryRowContext(ctx, fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
