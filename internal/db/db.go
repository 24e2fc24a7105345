// Package db is the persistence adapter for users, linked provider accounts,
// sessions, verification tokens and OAuth handshake state. It runs on SQLite
// (default) or PostgreSQL through bun, with schema managed by golang-migrate.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// User is a person who can sign in through one or more providers.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID            string     `json:"id" bun:"id,pk"`
	Name          string     `json:"name,omitempty" bun:"name"`
	Email         string     `json:"email,omitempty" bun:"email,nullzero"`
	EmailVerified *time.Time `json:"email_verified,omitempty" bun:"email_verified"`
	Image         string     `json:"image,omitempty" bun:"image"`
	CreatedAt     time.Time  `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `json:"updated_at" bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// Account links a user to an identity at an external provider.
type Account struct {
	bun.BaseModel `bun:"table:accounts"`

	ID                string    `json:"id" bun:"id,pk"`
	UserID            string    `json:"user_id" bun:"user_id,notnull"`
	Type              string    `json:"type" bun:"type,notnull"`
	Provider          string    `json:"provider" bun:"provider,notnull"`
	ProviderAccountID string    `json:"provider_account_id" bun:"provider_account_id,notnull"`
	RefreshToken      string    `json:"-" bun:"refresh_token"`
	AccessToken       string    `json:"-" bun:"access_token"`
	ExpiresAt         int64     `json:"expires_at,omitempty" bun:"expires_at"` // unix seconds, 0 if unknown
	TokenType         string    `json:"token_type,omitempty" bun:"token_type"`
	Scope             string    `json:"scope,omitempty" bun:"scope"`
	IDToken           string    `json:"-" bun:"id_token"`
	CreatedAt         time.Time `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Session is a database-backed browser session.
type Session struct {
	bun.BaseModel `bun:"table:sessions"`

	SessionToken string    `json:"-" bun:"session_token,pk"`
	UserID       string    `json:"user_id" bun:"user_id,notnull"`
	Expires      time.Time `json:"expires" bun:"expires,notnull"`
	CreatedAt    time.Time `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `json:"updated_at" bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// VerificationToken is a pending magic-link sign-in. Only the hash of the
// emailed token is stored.
type VerificationToken struct {
	bun.BaseModel `bun:"table:verification_tokens"`

	Identifier string    `bun:"identifier,pk"`
	TokenHash  string    `bun:"token_hash,pk"`
	Expires    time.Time `bun:"expires,notnull"`
}

// OAuthState holds the per-attempt values of an authorization-code flow
// between the redirect to the provider and the callback.
type OAuthState struct {
	bun.BaseModel `bun:"table:oauth_states"`

	State        string    `bun:"state,pk"`
	Provider     string    `bun:"provider,notnull"`
	CodeVerifier string    `bun:"code_verifier"`
	Nonce        string    `bun:"nonce"`
	CallbackURL  string    `bun:"callback_url"`
	ExpiresAt    time.Time `bun:"expires_at,notnull"`
}

// AuditLog represents an audit log entry
type AuditLog struct {
	bun.BaseModel `bun:"table:audit_log"`

	ID        int64     `json:"id" bun:"id,pk,autoincrement"`
	Timestamp time.Time `json:"timestamp" bun:"timestamp,nullzero,notnull,default:current_timestamp"`
	UserID    string    `json:"user_id" bun:"user_id"`
	Action    string    `json:"action" bun:"action"`
	Provider  string    `json:"provider,omitempty" bun:"provider"`
	Details   string    `json:"details,omitempty" bun:"details"`
}

// DB wraps the bun.DB connection
type DB struct {
	bun    *bun.DB
	dbType string
}

// DBType returns the database type ("sqlite" or "postgres").
func (db *DB) DBType() string {
	return db.dbType
}

// Open opens a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	return OpenDB("sqlite", dbPath)
}

// OpenDB opens a database connection for the given type and DSN,
// runs any pending migrations, and returns the DB handle.
func OpenDB(dbType, dsn string) (*DB, error) {
	driverName, err := driverFor(dbType)
	if err != nil {
		return nil, err
	}

	// For SQLite in-memory databases, use shared cache so that the migration
	// connection (opened separately by golang-migrate) sees the same database.
	if dbType == "sqlite" && dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbType == "sqlite" {
		// busy_timeout waits up to 5 seconds for locks to clear
		if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
		}

		// WAL mode allows concurrent reads while writing
		if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}

		// Keep at least one connection open to prevent in-memory databases
		// from being destroyed when all connections close.
		conn.SetMaxIdleConns(1)

		// PRAGMAs above are per connection and SQLite has a single writer.
		conn.SetMaxOpenConns(1)
	}

	if err := runMigrations(dbType, dsn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	var bunDB *bun.DB
	switch dbType {
	case "sqlite":
		bunDB = bun.NewDB(conn, sqlitedialect.New())
	case "postgres":
		bunDB = bun.NewDB(conn, pgdialect.New())
	}

	return &DB{bun: bunDB, dbType: dbType}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.bun.Close()
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.bun.PingContext(ctx)
}

// ExecRaw runs a raw statement. Intended for tests and maintenance tooling.
func (db *DB) ExecRaw(query string, args ...any) (sql.Result, error) {
	return db.bun.NewRaw(query, args...).Exec(context.Background())
}

// CleanupExpired removes expired sessions, verification tokens and OAuth
// states. It returns the total number of rows removed.
func (db *DB) CleanupExpired(ctx context.Context) (int64, error) {
	now := time.Now()
	var total int64

	for _, q := range []*bun.DeleteQuery{
		db.bun.NewDelete().Model((*Session)(nil)).Where("expires < ?", now),
		db.bun.NewDelete().Model((*VerificationToken)(nil)).Where("expires < ?", now),
		db.bun.NewDelete().Model((*OAuthState)(nil)).Where("expires_at < ?", now),
	} {
		res, err := q.Exec(ctx)
		if err != nil {
			return total, err
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}
