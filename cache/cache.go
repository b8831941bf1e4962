// Package cache memoizes computed results under opaque string keys with a
// TTL and a bounded capacity.
//
// When full, the entry with the fewest hits is evicted. Ties go to the entry
// inserted first: every insertion takes a monotonically increasing sequence
// number, and the victim is the entry with the smallest (hits, seq) pair.
package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultCapacity = 100
	DefaultTTL      = 5 * time.Minute
)

type entry[V any] struct {
	data       V
	insertedAt time.Time
	seq        uint64
	hits       uint64
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Size      int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
	// HitRate is Hits / (Hits + Misses) over Get calls.
	HitRate float64
	// ApproxHitRate is the legacy estimate: accumulated entry hits divided
	// by accumulated hits plus one per live entry.
	ApproxHitRate float64
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// WithCapacity bounds the number of entries. Non-positive values keep the default.
func WithCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithTTL sets how long an entry stays valid. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Cache is a thread-safe TTL cache with hit-count based eviction.
type Cache[V any] struct {
	cfg config

	mu        sync.Mutex
	entries   map[string]*entry[V]
	seq       uint64
	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64
}

// New creates an empty cache.
func New[V any](opts ...Option) *Cache[V] {
	cfg := config{
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Cache[V]{
		cfg:     cfg,
		entries: make(map[string]*entry[V], cfg.capacity),
	}
}

// Get returns the value stored under key and counts a hit. Expired entries
// are removed and reported as absent.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}

	if c.cfg.now().Sub(e.insertedAt) > c.cfg.ttl {
		delete(c.entries, key)
		c.misses++
		c.expired++
		return zero, false
	}

	e.hits++
	c.hits++
	return e.data, true
}

// Set stores data under key. Inserting a new key into a full cache evicts
// first; overwriting an existing key never evicts and restarts its hits
// and age.
func (c *Cache[V]) Set(key string, data V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	now := c.cfg.now()

	if e, ok := c.entries[key]; ok {
		e.data = data
		e.insertedAt = now
		e.seq = c.seq
		e.hits = 0
		return
	}

	for len(c.entries) >= c.cfg.capacity {
		c.evictLocked()
	}

	c.entries[key] = &entry[V]{data: data, insertedAt: now, seq: c.seq}
}

// evictLocked removes the entry with the smallest (hits, seq).
// Caller must hold c.mu.
func (c *Cache[V]) evictLocked() {
	var (
		victim string
		best   *entry[V]
	)
	for key, e := range c.entries {
		if best == nil || e.hits < best.hits || (e.hits == best.hits && e.seq < best.seq) {
			victim, best = key, e
		}
	}
	if best == nil {
		return
	}

	delete(c.entries, victim)
	c.evictions++

	c.cfg.logger.Debug().
		Str("key", victim).
		Uint64("hits", best.hits).
		Msg("Evicted cache entry")
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Clear removes every entry. Counters are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry[V], c.cfg.capacity)
	c.mu.Unlock()
}

// Stats reports size, capacity and hit rates.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:      len(c.entries),
		Capacity:  c.cfg.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}

	var entryHits uint64
	for _, e := range c.entries {
		entryHits += e.hits
	}
	if denom := entryHits + uint64(len(c.entries)); denom > 0 {
		s.ApproxHitRate = float64(entryHits) / float64(denom)
	}

	return s
}
