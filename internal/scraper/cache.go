package scraper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a scraped dataset is served before the sources are asked again.
const DefaultCacheTTL = 5 * time.Minute

// Cache keeps the latest aggregated dataset and refreshes it from source once it is older than
// the TTL. Readers always see a whole dataset: entries are replaced, never modified.
type Cache struct {
	source   internal.Scraper
	ttl      time.Duration
	now      func() time.Time
	disabled bool

	mu    sync.RWMutex
	entry *cacheEntry
	group singleflight.Group
}

type cacheEntry struct {
	events    []internal.RawEvent
	fetchedAt time.Time
}

// CacheOption applies configuration to a Cache.
type CacheOption func(*Cache)

// WithTTL sets how long an entry is fresh. Non-positive values keep the default.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheClock sets the clock used to age entries.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithScrapeDisabled makes the cache serve the fallback dataset only. The source is never called.
func WithScrapeDisabled(disabled bool) CacheOption {
	return func(c *Cache) {
		c.disabled = disabled
	}
}

// NewCache returns a Cache over source, which is expected to already apply WithFallback.
func NewCache(source internal.Scraper, opts ...CacheOption) *Cache {
	c := &Cache{
		source: source,
		ttl:    DefaultCacheTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.source == nil {
		c.source = Fallback()
	}
	return c
}

// Get returns the current dataset, refreshing it first when it is stale. The returned slice is
// shared and must not be modified.
func (c *Cache) Get(ctx context.Context) ([]internal.RawEvent, error) {
	if c.disabled {
		return c.disabledEntry().events, nil
	}
	c.mu.RLock()
	entry := c.entry
	c.mu.RUnlock()
	if entry != nil && c.now().Sub(entry.fetchedAt) < c.ttl {
		metrics.RecordCacheLookup("shows", true)
		return entry.events, nil
	}
	metrics.RecordCacheLookup("shows", false)
	return c.Refresh(ctx)
}

// Refresh runs one aggregation cycle and replaces the entry with its result. Concurrent callers
// share one cycle. The cycle is detached from ctx: a caller that gives up gets ctx.Err() while
// the refresh still completes for everyone else.
func (c *Cache) Refresh(ctx context.Context) ([]internal.RawEvent, error) {
	if c.disabled {
		return c.disabledEntry().events, nil
	}
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan("refresh", func() (any, error) {
		events, err := c.source.ScrapeEvents(detached)
		if err != nil || len(events) == 0 {
			slog.Warn("cache: refresh produced nothing, using fallback dataset", "error", err)
			events = FallbackEvents()
		}
		entry := &cacheEntry{events: events, fetchedAt: c.now()}
		c.mu.Lock()
		c.entry = entry
		c.mu.Unlock()
		metrics.RecordRefresh(entry.fetchedAt, IsFallback(events))
		slog.Info("cache: refreshed", "events", len(events), "fetched_at", entry.fetchedAt)
		return entry, nil
	})
	select {
	case res := <-ch:
		return res.Val.(*cacheEntry).events, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) disabledEntry() *cacheEntry {
	c.mu.RLock()
	entry := c.entry
	c.mu.RUnlock()
	if entry != nil {
		return entry
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		c.entry = &cacheEntry{events: FallbackEvents(), fetchedAt: c.now()}
		slog.Info("cache: scraping disabled, serving fallback dataset")
	}
	return c.entry
}

// FetchedAt reports when the current entry was produced. ok is false before the first refresh.
func (c *Cache) FetchedAt() (t time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil {
		return time.Time{}, false
	}
	return c.entry.fetchedAt, true
}
