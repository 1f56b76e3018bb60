package cachestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	errs "github.com/Neil2813/Nexus/errors"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at REAL NOT NULL,
	created_at REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_expires_at ON cache(expires_at);
`

// SQLiteTier is the durable tier, a single cache table in a SQLite file.
// Every operation opens and closes its own connection so that the sweep and
// concurrent requests never share a long-lived handle.
type SQLiteTier struct {
	path string
	dsn  string
	now  func() time.Time
}

// NewSQLiteTier creates the database file and schema if needed.
func NewSQLiteTier(ctx context.Context, path string, now func() time.Time) (*SQLiteTier, error) {
	if path == "" {
		return nil, errs.WrapInvalid(errs.ErrMissingConfig, "SQLiteTier", "New", "database path")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.WrapFatal(err, "SQLiteTier", "New", "create data dir")
		}
	}
	if now == nil {
		now = time.Now
	}

	t := &SQLiteTier{
		path: path,
		dsn:  "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		now:  now,
	}
	err := t.with(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, cacheSchema)
		return err
	})
	if err != nil {
		return nil, errs.WrapFatal(err, "SQLiteTier", "New", "create schema")
	}
	return t, nil
}

func (t *SQLiteTier) Name() string { return TierDurable }

// Path returns the database file path.
func (t *SQLiteTier) Path() string { return t.path }

func (t *SQLiteTier) with(ctx context.Context, fn func(*sql.DB) error) error {
	db, err := sql.Open("sqlite", t.dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.path, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	return fn(db)
}

func (t *SQLiteTier) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := t.with(ctx, func(db *sql.DB) error {
		now := unixSeconds(t.now())
		if _, err := db.ExecContext(ctx,
			`DELETE FROM cache WHERE key = ? AND expires_at <= ?`, key, now); err != nil {
			return err
		}
		return db.QueryRowContext(ctx,
			`SELECT value FROM cache WHERE key = ? AND expires_at > ?`, key, now).Scan(&value)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func (t *SQLiteTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.with(ctx, func(db *sql.DB) error {
		now := t.now()
		_, err := db.ExecContext(ctx,
			`INSERT OR REPLACE INTO cache (key, value, expires_at, created_at) VALUES (?, ?, ?, ?)`,
			key, string(value), unixSeconds(now.Add(ttl)), unixSeconds(now))
		return err
	})
}

func (t *SQLiteTier) Delete(ctx context.Context, key string) error {
	return t.with(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key)
		return err
	})
}

func (t *SQLiteTier) Ping(ctx context.Context) error {
	return t.with(ctx, func(db *sql.DB) error {
		return db.PingContext(ctx)
	})
}

// ClearExpired deletes every expired row and returns how many were removed.
func (t *SQLiteTier) ClearExpired(ctx context.Context) (int64, error) {
	var removed int64
	err := t.with(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM cache WHERE expires_at <= ?`, unixSeconds(t.now()))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// Count returns the number of live rows.
func (t *SQLiteTier) Count(ctx context.Context) (int64, error) {
	var n int64
	err := t.with(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM cache WHERE expires_at > ?`, unixSeconds(t.now())).Scan(&n)
	})
	return n, err
}
