package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

// IdentityUser is an account in the built-in identity provider.
type IdentityUser struct {
	bun.BaseModel `bun:"table:identity_users"`

	ID            string    `json:"id" bun:"id,pk"`
	Email         string    `json:"email" bun:"email,unique,notnull"`
	Name          string    `json:"name,omitempty" bun:"name"`
	Image         string    `json:"image,omitempty" bun:"image"`
	PasswordHash  string    `json:"-" bun:"password_hash"`
	EmailVerified bool      `json:"email_verified" bun:"email_verified,notnull"`
	CreatedAt     time.Time `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `json:"updated_at" bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// IdentitySession is a signed-in session. Only the hash of the session token
// is stored.
type IdentitySession struct {
	bun.BaseModel `bun:"table:identity_sessions"`

	ID        string    `json:"id" bun:"id,pk"`
	UserID    string    `json:"user_id" bun:"user_id,notnull"`
	TokenHash string    `json:"-" bun:"token_hash,unique,notnull"`
	ExpiresAt time.Time `json:"expires_at" bun:"expires_at,notnull"`
	IPAddress string    `json:"ip_address,omitempty" bun:"ip_address"`
	UserAgent string    `json:"user_agent,omitempty" bun:"user_agent"`
	CreatedAt time.Time `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `json:"updated_at" bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// IdentityAPIKey is an API key record. The raw key is never stored; Start
// keeps the first few characters so users can tell keys apart.
type IdentityAPIKey struct {
	bun.BaseModel `bun:"table:identity_api_keys"`

	ID           string        `json:"id" bun:"id,pk"`
	UserID       string        `json:"user_id" bun:"user_id,notnull"`
	Name         string        `json:"name" bun:"name"`
	Prefix       string        `json:"prefix" bun:"prefix"`
	Start        string        `json:"start" bun:"start"`
	KeyHash      string        `json:"-" bun:"key_hash,unique,notnull"`
	Permissions  PermissionMap `json:"permissions" bun:"permissions,notnull"`
	Enabled      bool          `json:"enabled" bun:"enabled,notnull"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty" bun:"expires_at"`
	LastUsedAt   *time.Time    `json:"last_used_at,omitempty" bun:"last_used_at"`
	RequestCount int64         `json:"request_count" bun:"request_count,notnull"`
	CreatedAt    time.Time     `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time     `json:"updated_at" bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// UserProfile is the CMS-owned profile row.
type UserProfile struct {
	bun.BaseModel `bun:"table:user_profiles"`

	UserID      string         `json:"user_id" bun:"user_id,pk"`
	Role        string         `json:"role" bun:"role,notnull"`
	Preferences map[string]any `json:"preferences" bun:"-"`
	CreatedAt   time.Time      `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time      `json:"updated_at" bun:"updated_at,nullzero,notnull,default:current_timestamp"`

	// JSON-serialized DB column
	PreferencesJSON string `json:"-" bun:"preferences"`
}

// AuditLog represents an audit log entry
type AuditLog struct {
	bun.BaseModel `bun:"table:audit_log"`

	ID        int64     `json:"id" bun:"id,pk,autoincrement"`
	Timestamp time.Time `json:"timestamp" bun:"timestamp,nullzero,notnull,default:current_timestamp"`
	Actor     string    `json:"actor" bun:"actor"`
	Action    string    `json:"action" bun:"action"`
	Details   string    `json:"details" bun:"details"`
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

func driverFor(dbType string) (string, error) {
	switch dbType {
	case "sqlite":
		return "sqlite", nil
	case "postgres":
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", dbType)
	}
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
	}

	// Run all pending migrations (uses its own connection to avoid m.Close() side effects)
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

// ExecRaw runs a raw statement. Placeholders use bun's "?" syntax on both
// dialects.
func (db *DB) ExecRaw(query string, args ...any) (sql.Result, error) {
	return db.bun.ExecContext(context.Background(), query, args...)
}

// affected converts a zero-row result into sql.ErrNoRows.
func affected(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
