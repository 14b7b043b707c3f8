package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/yangwenmai/copydeck/internal/cache"
)

var _ cache.Durable = (*BadgerCache)(nil)

var badgerPrefix = []byte("cache/")

// BadgerConfig configures a BadgerCache.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
	// GCDiscardRatio is passed to value log GC during Prune.
	GCDiscardRatio float64
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerCache is the durable cache tier on an embedded Badger store.
// Expiry is native: Badger hides entries past their deadline and value log
// GC reclaims the space.
type BadgerCache struct {
	db    *badger.DB
	ratio float64
}

// OpenBadgerCache opens or creates the store described by cfg.
func OpenBadgerCache(cfg BadgerConfig) (*BadgerCache, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	ratio := cfg.GCDiscardRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	return &BadgerCache{db: db, ratio: ratio}, nil
}

func badgerKey(key string) []byte {
	return append(append([]byte{}, badgerPrefix...), key...)
}

// Get returns the entry for key, or cache.ErrNotFound.
func (c *BadgerCache) Get(ctx context.Context, key string) (cache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return cache.Entry{}, err
	}
	var entry cache.Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if err != nil {
			return err
		}
		if exp := item.ExpiresAt(); exp > 0 {
			entry.ExpiresAt = time.Unix(int64(exp), 0)
		}
		entry.Value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return cache.Entry{}, cache.ErrNotFound
	}
	return entry, err
}

// Set writes key with an expiry. Badger expiry has second resolution.
func (c *BadgerCache) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !expiresAt.After(time.Now()) {
		return c.Invalidate(ctx, key)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(badgerKey(key), value)
		e.ExpiresAt = uint64(expiresAt.Unix())
		return txn.SetEntry(e)
	})
}

// Invalidate deletes key.
func (c *BadgerCache) Invalidate(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(key))
	})
}

// Prune runs value log GC. Expired keys are already invisible to readers,
// so the returned count is always zero.
func (c *BadgerCache) Prune(ctx context.Context, _ time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if c.db.Opts().InMemory {
		return 0, nil
	}
	err := c.db.RunValueLogGC(c.ratio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return 0, fmt.Errorf("badger value log gc: %w", err)
	}
	return 0, nil
}

// Stats counts live entries and their estimated size.
func (c *BadgerCache) Stats(ctx context.Context) (cache.DurableStats, error) {
	st := cache.DurableStats{Backend: "badger"}
	if err := ctx.Err(); err != nil {
		return st, err
	}
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = badgerPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			st.Entries++
			st.Bytes += it.Item().EstimatedSize()
		}
		return nil
	})
	return st, err
}

// Close closes the store.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}
