// Package store provides the embedded single-file relational store
// backing every core component. It wraps sqlx over modernc.org/sqlite
// (pure Go, no cgo) and applies golang-migrate migrations embedded
// into the binary at compile time.
package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/agentflow/orchestrator/internal/apperr"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds the embedded database's file location and pool tuning.
type Config struct {
	Path            string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sane defaults for a single-file sqlite store.
// A single writer connection avoids SQLITE_BUSY under WAL.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    1,
		ConnMaxLifetime: time.Hour,
	}
}

// Store wraps the database handle used by every entity-group file in
// this package.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if absent) the sqlite file at cfg.Path, applies
// pragmas appropriate for a durable single-writer daemon, and runs any
// pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "open sqlite database", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "ping sqlite database", err)
	}

	if err := runMigrations(db.DB); err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "apply migrations", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw sqlx handle for components (e.g. health checks)
// that need it directly.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func runMigrations(db *stdsql.DB) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found, binary built incorrectly")
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite3 migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Do not call m.Close(): that closes the underlying *sql.DB too,
	// which we still need for the lifetime of the Store.
	return sourceDriver.Close()
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}

// Tx wraps an in-flight transaction so callers can commit or roll back
// without depending on sqlx directly.
type Tx struct {
	tx *sqlx.Tx
}

// Begin starts a new transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "begin transaction", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "commit transaction", err)
	}
	return nil
}

// Rollback rolls back the transaction. Safe to call after Commit; the
// resulting sql.ErrTxDone is swallowed.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, stdsql.ErrTxDone) {
		return apperr.Wrap(apperr.KindStorageUnavailable, "rollback transaction", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success and
// rolling back on any error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// sqlxIn expands a `?` placeholder bound to a slice argument into the
// repeated placeholders sqlx.In requires, using the question-mark
// bindvar style modernc.org/sqlite expects.
func sqlxIn(query string, args ...any) (string, []any, error) {
	return sqlx.In(query, args...)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
