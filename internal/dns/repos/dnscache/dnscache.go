// Package dnscache holds answers obtained from upstream resolvers for a bounded
// time. Entries live for the smallest TTL among their records, capped by a
// configured ceiling, and the least recently accessed entry is evicted when the
// cache is full. Nothing here is persisted.
package dnscache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/dnscore/internal/dns/common/clock"
	"github.com/haukened/dnscore/internal/dns/common/log"
	"github.com/haukened/dnscore/internal/dns/domain"
)

const (
	DefaultMaxEntries      = 10000
	DefaultTTL             = 5 * time.Minute
	DefaultCleanupInterval = time.Minute
)

// Options configures a Cache. Zero values select the package defaults.
type Options struct {
	MaxEntries int
	DefaultTTL time.Duration
	Clock      clock.Clock
	Logger     log.Logger
}

type entry struct {
	records    []domain.Record
	createdAt  time.Time
	lastAccess time.Time
	expiresAt  time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Cache is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	lru        *lru.Cache[string, *entry]
	clock      clock.Clock
	defaultTTL time.Duration
	logger     log.Logger
}

// New returns a Cache backed by an LRU list of opts.MaxEntries entries.
func New(opts Options) (*Cache, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	c := &Cache{
		clock:      opts.Clock,
		defaultTTL: opts.DefaultTTL,
		logger:     opts.Logger,
	}
	backing, err := lru.NewWithEvict(opts.MaxEntries, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = backing
	return c, nil
}

func (c *Cache) onEvict(key string, _ *entry) {
	c.logger.Debug(map[string]any{"key": key}, "cache entry removed")
}

// Get returns a copy of the cached records for (name, t). An expired entry is
// removed and reported as a miss.
func (c *Cache) Get(name string, t domain.RRType) ([]domain.Record, bool) {
	key := domain.StoreKey(name, t)
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		c.lru.Remove(key)
		return nil, false
	}
	e.lastAccess = now
	return domain.CloneRecords(e.records), true
}

// Set stores records for (name, t), replacing any previous entry. The entry
// expires after the smallest record TTL or the default ceiling, whichever is
// shorter; an empty record list uses the ceiling.
func (c *Cache) Set(name string, t domain.RRType, records []domain.Record) {
	key := domain.StoreKey(name, t)
	now := c.clock.Now()
	ttl := c.effectiveTTL(records)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, &entry{
		records:    domain.CloneRecords(records),
		createdAt:  now,
		lastAccess: now,
		expiresAt:  now.Add(ttl),
	})
	c.logger.Debug(map[string]any{
		"key":     key,
		"records": len(records),
		"ttl":     ttl.String(),
	}, "cached upstream answer")
}

func (c *Cache) effectiveTTL(records []domain.Record) time.Duration {
	if len(records) == 0 {
		return c.defaultTTL
	}
	minTTL := records[0].TTL
	for _, r := range records[1:] {
		if r.TTL < minTTL {
			minTTL = r.TTL
		}
	}
	if minTTL < 0 {
		minTTL = 0
	}
	ttl := time.Duration(minTTL) * time.Second
	if ttl > c.defaultTTL {
		return c.defaultTTL
	}
	return ttl
}

// CleanupExpired removes every expired entry and returns how many were removed.
func (c *Cache) CleanupExpired() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && e.expired(now) {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Stats reports the number of entries held and how many of them have not expired.
func (c *Cache) Stats() (total, active int) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok {
			total++
			if !e.expired(now) {
				active++
			}
		}
	}
	return total, active
}

// EntryInfo describes one cache entry for inspection.
type EntryInfo struct {
	Key        string          `json:"key"`
	Records    []domain.Record `json:"records"`
	CreatedAt  time.Time       `json:"created_at"`
	LastAccess time.Time       `json:"last_access"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// Snapshot lists the live entries from least to most recently used without
// touching their recency.
func (c *Cache) Snapshot() []EntryInfo {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]EntryInfo, 0, c.lru.Len())
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok || e.expired(now) {
			continue
		}
		out = append(out, EntryInfo{
			Key:        key,
			Records:    domain.CloneRecords(e.records),
			CreatedAt:  e.createdAt,
			LastAccess: e.lastAccess,
			ExpiresAt:  e.expiresAt,
		})
	}
	return out
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info(map[string]any{"interval": interval.String()}, "cache cleanup started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info(nil, "cache cleanup stopped")
			return
		case <-ticker.C:
			if removed := c.CleanupExpired(); removed > 0 {
				total, _ := c.Stats()
				c.logger.Debug(map[string]any{
					"removed":   removed,
					"remaining": total,
				}, "expired cache entries removed")
			}
		}
	}
}
