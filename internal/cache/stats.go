package cache

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Tier identifies where a lookup was answered.
type Tier string

// Cache tiers
const (
	TierNone    Tier = "none"
	TierFast    Tier = "fast"
	TierDurable Tier = "durable"
)

// TierStats are the counters for one tier.
type TierStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// DurableStats describes the contents of a durable tier.
type DurableStats struct {
	Backend string `json:"backend"`
	Entries int64  `json:"entries"`
	Expired int64  `json:"expired"`
	Bytes   int64  `json:"bytes"`
}

// Snapshot is a point-in-time view of cache activity.
type Snapshot struct {
	Fast        TierStats     `json:"fast"`
	Durable     TierStats     `json:"durable"`
	WriteErrors int64         `json:"write_errors"`
	FastEntries int           `json:"fast_entries"`
	Store       *DurableStats `json:"store,omitempty"`
}

type tierCounters struct {
	hits, misses atomic.Int64
}

func (c *tierCounters) snapshot() TierStats {
	s := TierStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Stats collects per-tier hit and miss counts. It is created by the caller
// and handed to the cache so several components can share one collector.
// Counters only go back to zero through Reset.
type Stats struct {
	fast        tierCounters
	durable     tierCounters
	writeErrors atomic.Int64

	lookups *prometheus.CounterVec
}

// NewStats creates a collector. lookups may be nil; when set it must carry
// the labels "tier" and "result" and receives every recorded lookup.
func NewStats(lookups *prometheus.CounterVec) *Stats {
	return &Stats{lookups: lookups}
}

// RecordHit counts a hit on tier.
func (s *Stats) RecordHit(tier Tier) {
	if c := s.counters(tier); c != nil {
		c.hits.Add(1)
	}
	s.observe(tier, "hit")
}

// RecordMiss counts a miss on tier.
func (s *Stats) RecordMiss(tier Tier) {
	if c := s.counters(tier); c != nil {
		c.misses.Add(1)
	}
	s.observe(tier, "miss")
}

// RecordWriteError counts a failed durable write.
func (s *Stats) RecordWriteError() {
	s.writeErrors.Add(1)
	s.observe(TierDurable, "write_error")
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Fast:        s.fast.snapshot(),
		Durable:     s.durable.snapshot(),
		WriteErrors: s.writeErrors.Load(),
	}
}

// Reset zeroes the in-process counters. Exported Prometheus counters are
// monotonic and are not touched.
func (s *Stats) Reset() {
	for _, c := range []*tierCounters{&s.fast, &s.durable} {
		c.hits.Store(0)
		c.misses.Store(0)
	}
	s.writeErrors.Store(0)
}

func (s *Stats) counters(tier Tier) *tierCounters {
	switch tier {
	case TierFast:
		return &s.fast
	case TierDurable:
		return &s.durable
	}
	return nil
}

func (s *Stats) observe(tier Tier, result string) {
	if s.lookups != nil {
		s.lookups.WithLabelValues(string(tier), result).Inc()
	}
}
