// Package cache implements the two-tier result cache: an in-process LRU in
// front of a durable store shared between processes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned by Durable implementations on a miss, including
// entries that exist but have expired.
var ErrNotFound = errors.New("cache: not found")

// ErrClosed is returned when the cache is used after Close.
var ErrClosed = errors.New("cache: closed")

// Entry is a durable tier record. A zero ExpiresAt means no expiry.
type Entry struct {
	Value     []byte
	ExpiresAt time.Time
}

// Durable is the shared, slower tier.
type Durable interface {
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error
	Invalidate(ctx context.Context, key string) error
	// Prune deletes entries that expired before now and returns the count.
	Prune(ctx context.Context, now time.Time) (int64, error)
	Stats(ctx context.Context) (DurableStats, error)
	Close() error
}

// Lookup is the outcome of Get.
type Lookup struct {
	Value []byte
	Hit   bool
	Tier  Tier
}

// Defaults
const (
	DefaultCapacity     = 512
	DefaultFastTTL      = 5 * time.Minute
	DefaultTTL          = 24 * time.Hour
	defaultWriteBuffer  = 64
	durableReadTimeout  = 5 * time.Second
	durableWriteTimeout = 10 * time.Second
)

// Options configures a Cache. Zero values fall back to the defaults.
type Options struct {
	Capacity    int
	FastTTL     time.Duration
	TTL         time.Duration
	WriteBuffer int
	Stats       *Stats
	Logger      *slog.Logger
	Now         func() time.Time
}

type writeOp struct {
	key       string
	value     []byte
	expiresAt time.Time
	flushed   chan struct{}
}

// Cache is safe for concurrent use.
type Cache struct {
	fast    *lru
	durable Durable
	stats   *Stats
	log     *slog.Logger
	now     func() time.Time
	fastTTL time.Duration
	ttl     time.Duration

	flight singleflight.Group

	writes    chan writeOp
	errs      chan error
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a cache over durable, which may be nil for a fast-tier-only
// cache. Close must be called to stop the background writer.
func New(durable Durable, opts Options) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.FastTTL <= 0 {
		opts.FastTTL = DefaultFastTTL
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.WriteBuffer <= 0 {
		opts.WriteBuffer = defaultWriteBuffer
	}
	if opts.Stats == nil {
		opts.Stats = NewStats(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache{
		fast:    newLRU(opts.Capacity, opts.Now),
		durable: durable,
		stats:   opts.Stats,
		log:     opts.Logger,
		now:     opts.Now,
		fastTTL: opts.FastTTL,
		ttl:     opts.TTL,
		writes:  make(chan writeOp, opts.WriteBuffer),
		errs:    make(chan error, opts.WriteBuffer),
		done:    make(chan struct{}),
	}
	c.wg.Add(2)
	go c.writeLoop()
	go c.errorLoop()
	return c
}

// Get looks key up in the fast tier, then the durable tier. Durable hits
// are copied into the fast tier for at most their remaining lifetime.
// Concurrent durable lookups for the same key share one round trip; the
// shared read is detached from any single caller's cancellation, and each
// caller stops waiting when its own ctx ends.
func (c *Cache) Get(ctx context.Context, key string) (Lookup, error) {
	if v, ok := c.fast.get(key); ok {
		c.stats.RecordHit(TierFast)
		return Lookup{Value: v, Hit: true, Tier: TierFast}, nil
	}
	c.stats.RecordMiss(TierFast)
	if c.durable == nil {
		return Lookup{Tier: TierNone}, nil
	}

	ch := c.flight.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), durableReadTimeout)
		defer cancel()
		return c.durable.Get(rctx, key)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		c.stats.RecordMiss(TierDurable)
		return Lookup{Tier: TierNone}, fmt.Errorf("durable get: %w", ctx.Err())
	}
	if errors.Is(res.Err, ErrNotFound) {
		c.stats.RecordMiss(TierDurable)
		return Lookup{Tier: TierNone}, nil
	}
	if res.Err != nil {
		c.stats.RecordMiss(TierDurable)
		return Lookup{Tier: TierNone}, fmt.Errorf("durable get: %w", res.Err)
	}

	entry := res.Val.(Entry)
	ttl := c.fastTTL
	if !entry.ExpiresAt.IsZero() {
		ttl = min(ttl, entry.ExpiresAt.Sub(c.now()))
	}
	if ttl <= 0 {
		c.stats.RecordMiss(TierDurable)
		return Lookup{Tier: TierNone}, nil
	}
	c.stats.RecordHit(TierDurable)

	value := slices.Clone(entry.Value)
	c.fast.set(key, value, ttl)
	return Lookup{Value: slices.Clone(value), Hit: true, Tier: TierDurable}, nil
}

// Set stores value in the fast tier immediately and queues the durable
// write without waiting. ttl <= 0 uses the configured default. The durable
// write runs detached from ctx; a full queue drops it. Drops and write
// failures are logged and counted, never returned.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.fast.set(key, value, min(ttl, c.fastTTL))
	if c.durable == nil {
		return nil
	}

	op := writeOp{key: key, value: slices.Clone(value), expiresAt: c.now().Add(ttl)}
	select {
	case c.writes <- op:
	default:
		c.stats.RecordWriteError()
		c.log.Warn("durable write dropped, queue full", "key", key)
	}
	return nil
}

// Invalidate removes key from the durable tier and from this process's
// fast tier. Other processes keep their fast copy until it expires.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.fast.remove(key)
	if c.durable == nil {
		return nil
	}
	if err := c.durable.Invalidate(ctx, key); err != nil {
		return fmt.Errorf("durable invalidate: %w", err)
	}
	return nil
}

// Clear empties the fast tier and resets the stats collector.
func (c *Cache) Clear() {
	c.fast.purge()
	c.stats.Reset()
}

// Stats returns the collector snapshot plus the durable tier description.
func (c *Cache) Stats(ctx context.Context) (Snapshot, error) {
	snap := c.stats.Snapshot()
	snap.FastEntries = c.fast.len()
	if c.durable == nil {
		return snap, nil
	}
	ds, err := c.durable.Stats(ctx)
	if err != nil {
		return snap, fmt.Errorf("durable stats: %w", err)
	}
	snap.Store = &ds
	return snap, nil
}

// Prune sweeps expired entries from both tiers once.
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	n := int64(c.fast.prune())
	if c.durable == nil {
		return n, nil
	}
	d, err := c.durable.Prune(ctx, c.now())
	if err != nil {
		return n, fmt.Errorf("durable prune: %w", err)
	}
	return n + d, nil
}

// RunPruner calls Prune every interval until ctx is cancelled.
func (c *Cache) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.log.Info("cache pruner started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("cache pruner stopped")
			return
		case <-ticker.C:
			n, err := c.Prune(ctx)
			if err != nil {
				c.log.Error("cache prune failed", "error", err)
				continue
			}
			if n > 0 {
				c.log.Info("cache pruned", "removed", n)
			}
		}
	}
}

// Flush blocks until every durable write queued before the call is done.
func (c *Cache) Flush(ctx context.Context) error {
	if c.durable == nil {
		return nil
	}
	op := writeOp{flushed: make(chan struct{})}
	select {
	case c.writes <- op:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-op.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending writes, stops the background goroutines and closes
// the durable tier.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		if c.durable != nil {
			err = c.durable.Close()
		}
	})
	return err
}

func (c *Cache) writeLoop() {
	defer c.wg.Done()
	defer close(c.errs)
	for {
		select {
		case op := <-c.writes:
			c.write(op)
		case <-c.done:
			for {
				select {
				case op := <-c.writes:
					c.write(op)
				default:
					return
				}
			}
		}
	}
}

func (c *Cache) write(op writeOp) {
	if op.flushed != nil {
		close(op.flushed)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), durableWriteTimeout)
	defer cancel()
	if err := c.durable.Set(ctx, op.key, op.value, op.expiresAt); err != nil {
		c.errs <- fmt.Errorf("durable set %s: %w", op.key, err)
	}
}

func (c *Cache) errorLoop() {
	defer c.wg.Done()
	for err := range c.errs {
		c.stats.RecordWriteError()
		c.log.Error("cache write failed", "error", err)
	}
}
