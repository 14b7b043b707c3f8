package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/yangwenmai/copydeck/internal/cache"
)

var _ cache.Durable = (*SQLiteCache)(nil)

const cacheTable = "cache_entries"

// SQLiteCache is the durable cache tier on SQLite. Several processes may
// share one database file; concurrent writes to a key are last write wins.
type SQLiteCache struct {
	db      *sql.DB
	ownsDB  bool
	builder sq.StatementBuilderType
}

// NewSQLiteCache creates the cache table if needed. The caller keeps
// ownership of db.
func NewSQLiteCache(ctx context.Context, db *sql.DB) (*SQLiteCache, error) {
	c := &SQLiteCache{db: db, builder: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+cacheTable+` (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cache_entries_expiry ON `+cacheTable+`(expires_at);
	`); err != nil {
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	return c, nil
}

// OpenSQLiteCache opens path and returns a cache that closes the database
// on Close.
func OpenSQLiteCache(ctx context.Context, path string) (*SQLiteCache, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	c, err := NewSQLiteCache(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.ownsDB = true
	return c, nil
}

// Get returns the entry for key, or cache.ErrNotFound when it is absent or
// expired.
func (c *SQLiteCache) Get(ctx context.Context, key string) (cache.Entry, error) {
	query, args, err := c.builder.
		Select("value", "expires_at").
		From(cacheTable).
		Where(sq.Eq{"key": key}).
		Where(sq.Gt{"expires_at": time.Now().UnixMilli()}).
		ToSql()
	if err != nil {
		return cache.Entry{}, err
	}
	var (
		value     []byte
		expiresAt int64
	)
	err = c.db.QueryRowContext(ctx, query, args...).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, cache.ErrNotFound
	}
	if err != nil {
		return cache.Entry{}, err
	}
	return cache.Entry{Value: value, ExpiresAt: time.UnixMilli(expiresAt)}, nil
}

// Set upserts key.
func (c *SQLiteCache) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	query, args, err := c.builder.
		Insert(cacheTable).
		Columns("key", "value", "expires_at", "updated_at").
		Values(key, value, expiresAt.UnixMilli(), time.Now().UnixMilli()).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, query, args...)
	return err
}

// Invalidate deletes key. Deleting a missing key is not an error.
func (c *SQLiteCache) Invalidate(ctx context.Context, key string) error {
	query, args, err := c.builder.Delete(cacheTable).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, query, args...)
	return err
}

// Prune deletes entries that expired at or before now.
func (c *SQLiteCache) Prune(ctx context.Context, now time.Time) (int64, error) {
	query, args, err := c.builder.Delete(cacheTable).Where(sq.LtOrEq{"expires_at": now.UnixMilli()}).ToSql()
	if err != nil {
		return 0, err
	}
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats counts live and expired entries.
func (c *SQLiteCache) Stats(ctx context.Context) (cache.DurableStats, error) {
	now := time.Now().UnixMilli()
	query, args, err := c.builder.
		Select("COUNT(*)").
		Column(sq.Expr("COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0)", now)).
		Column("COALESCE(SUM(LENGTH(value)), 0)").
		From(cacheTable).
		ToSql()
	if err != nil {
		return cache.DurableStats{}, err
	}

	st := cache.DurableStats{Backend: "sqlite"}
	var total int64
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&total, &st.Expired, &st.Bytes); err != nil {
		return st, err
	}
	st.Entries = total - st.Expired
	return st, nil
}

// Close closes the database if this cache opened it.
func (c *SQLiteCache) Close() error {
	if c.ownsDB {
		return c.db.Close()
	}
	return nil
}
