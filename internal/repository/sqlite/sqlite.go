// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database — it lives inside the Go binary as a single file.
// No separate database server to install or manage, and ":memory:" gives every
// test its own throwaway database.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// modernc.org/sqlite is a pure Go translation of the SQLite C code — no CGo,
// no C compiler, cross-compilation just works.
//
// ONE CONNECTION:
// SQLite allows a single writer at a time, and an in-memory database exists
// per connection. We therefore pin the pool to one connection. Every
// transaction is serialized, which also means the stale-repository
// check-then-delete in a reconciliation can never interleave with another
// run's link.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// BLANK IMPORT:
	// The sqlite package's init() registers itself with database/sql as a driver
	// named "sqlite". After this import, sql.Open("sqlite", ...) works.
	_ "modernc.org/sqlite"

	"github.com/sakif/gitreports/internal/repository"
)

// querier is the subset of *sql.DB and *sql.Tx the repository methods need.
// Methods run against whichever one the DB value carries, so the same code
// serves autocommit reads and transactional writes.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn   *sql.DB
	q      querier
	locks  *lockTable
	sealer repository.CredentialSealer
	logger *slog.Logger
}

// compile-time check that *DB implements the full gateway
var _ repository.Gateway = (*DB)(nil)

// Option configures a DB.
type Option func(*DB)

// WithSealer encrypts users' access tokens at rest with s.
func WithSealer(s repository.CredentialSealer) Option {
	return func(db *DB) { db.sealer = s }
}

// WithLogger sets the logger for storage warnings. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/gitreports.db"  → file-based database (persistent)
//   - ":memory:"            → in-memory database (tests)
func New(dbPath string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers of a file database proceed while a write is in
	// flight; it is a no-op for ":memory:".
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. The join tables rely on
	// ON DELETE CASCADE, so they must be on.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn, q: conn, locks: newLockTable(), logger: slog.Default()}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Atomically runs fn inside one transaction while holding the exclusive lock
// for lockKey.
//
// The lock is taken BEFORE the transaction begins: a second login for the
// same GitHub account waits here, then starts its own transaction after the
// first has committed and sees the already-reconciled state.
//
// The transaction pattern follows the usual database/sql shape:
//
//	tx := BeginTx
//	defer tx.Rollback()   // no-op after a successful Commit
//	... work ...
//	tx.Commit()
func (db *DB) Atomically(ctx context.Context, lockKey string, fn func(ctx context.Context, store repository.Store) error) error {
	release, err := db.locks.acquire(ctx, lockKey)
	if err != nil {
		return fmt.Errorf("sqlite: acquiring lock %q: %w", lockKey, err)
	}
	defer release()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	scoped := &DB{conn: db.conn, q: tx, locks: db.locks, sealer: db.sealer, logger: db.logger}
	if err := fn(ctx, scoped); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// migrate creates the schema.
//
// CREATE TABLE IF NOT EXISTS is idempotent, so this runs on every start.
//
// OWNERSHIP CHECK:
// A repository is owned by exactly one user OR one organization. The CHECK
// constraint enforces that in the database as well as in model.Owner.
func (db *DB) migrate() error {
	statements := []struct {
		name string
		sql  string
	}{
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				id           TEXT PRIMARY KEY,
				github_id    INTEGER NOT NULL UNIQUE,
				login        TEXT NOT NULL,
				name         TEXT NOT NULL DEFAULT '',
				avatar_url   TEXT NOT NULL DEFAULT '',
				access_token TEXT NOT NULL DEFAULT '',
				created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"organizations", `
			CREATE TABLE IF NOT EXISTS organizations (
				id         TEXT PRIMARY KEY,
				name       TEXT NOT NULL UNIQUE,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"organization_members", `
			CREATE TABLE IF NOT EXISTS organization_members (
				organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
				user_id         TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				PRIMARY KEY (organization_id, user_id)
			);
			CREATE INDEX IF NOT EXISTS idx_organization_members_user_id ON organization_members(user_id);`},
		{"repositories", `
			CREATE TABLE IF NOT EXISTS repositories (
				id              TEXT PRIMARY KEY,
				github_id       INTEGER NOT NULL UNIQUE,
				name            TEXT NOT NULL,
				owner_user_id   TEXT REFERENCES users(id),
				owner_org_id    TEXT REFERENCES organizations(id),
				created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				CHECK ((owner_user_id IS NULL) <> (owner_org_id IS NULL))
			);
			CREATE INDEX IF NOT EXISTS idx_repositories_owner_user_id ON repositories(owner_user_id);
			CREATE INDEX IF NOT EXISTS idx_repositories_owner_org_id ON repositories(owner_org_id);`},
		{"repository_users", `
			CREATE TABLE IF NOT EXISTS repository_users (
				repository_id TEXT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
				user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				PRIMARY KEY (repository_id, user_id)
			);
			CREATE INDEX IF NOT EXISTS idx_repository_users_user_id ON repository_users(user_id);`},
	}

	for _, st := range statements {
		if _, err := db.conn.Exec(st.sql); err != nil {
			return fmt.Errorf("creating %s table: %w", st.name, err)
		}
	}
	return nil
}
