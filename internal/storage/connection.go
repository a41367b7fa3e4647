package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Sentinel errors for connection handling.
var (
	// ErrNoDatabaseConnection is returned when an operation is attempted on a
	// nil or closed connection.
	ErrNoDatabaseConnection = errors.New("no database connection")
)

const pingTimeout = 5 * time.Second

// Connection wraps *sql.DB so every component in the pipeline takes an
// explicit handle instead of sharing global client state. The pool settings
// come from Config; transactions are opened per operation and released on
// every exit path by the caller.
type Connection struct {
	db *sql.DB
}

// Open establishes a pooled PostgreSQL connection and verifies it with a ping.
func Open(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{db: db}, nil
}

// Wrap adopts an existing *sql.DB. Used by tests that provision the database
// through testcontainers.
func Wrap(db *sql.DB) *Connection {
	return &Connection{db: db}
}

// Close closes the underlying pool. Safe to call on a nil connection.
func (c *Connection) Close() error {
	if c == nil || c.db == nil {
		return nil
	}

	return c.db.Close()
}

// HealthCheck verifies the database is reachable.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.db == nil {
		return ErrNoDatabaseConnection
	}

	return c.db.PingContext(ctx)
}

// BeginTx starts a transaction.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if c == nil || c.db == nil {
		return nil, ErrNoDatabaseConnection
	}

	return c.db.BeginTx(ctx, opts)
}

// ExecContext runs a statement outside any transaction.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c == nil || c.db == nil {
		return nil, ErrNoDatabaseConnection
	}

	return c.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query outside any transaction.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c == nil || c.db == nil {
		return nil, ErrNoDatabaseConnection
	}

	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query outside any transaction. Unlike
// the other methods it cannot return ErrNoDatabaseConnection: database/sql
// offers no way to construct an erroring *sql.Row, so a nil receiver or
// unopened connection panics here. Callers obtain the Connection from Open
// or Wrap, both of which guarantee a non-nil handle.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}
