package vacancies

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a fetched payload is served without refetching.
	DefaultTTL = 5 * time.Minute
	// DefaultFetchTimeout bounds a single upstream fetch.
	DefaultFetchTimeout = 10 * time.Second
)

// Cache is a time-bounded cache over a Source that falls back to the last
// successful payload, of any age, when a refresh fails. It never returns errors.
type Cache struct {
	source  Source
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	records   []Record
	fetchedAt time.Time // zero = nothing cached

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithFetchTimeout overrides DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache over src.
func NewCache(src Source, opts ...Option) *Cache {
	c := &Cache{
		source:  src,
		ttl:     DefaultTTL,
		timeout: DefaultFetchTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the cached records while fresh, otherwise refreshes from the
// source. Concurrent refreshes are coalesced into one upstream call.
func (c *Cache) Get(ctx context.Context) []Record {
	c.mu.RLock()
	records, fetchedAt := c.records, c.fetchedAt
	c.mu.RUnlock()

	if !fetchedAt.IsZero() && c.now().Sub(fetchedAt) < c.ttl {
		slog.Debug("using cached vacancies", "count", len(records))
		return records
	}

	v, _, _ := c.group.Do("refresh", func() (any, error) {
		return c.refresh(ctx), nil
	})
	return v.([]Record)
}

func (c *Cache) refresh(ctx context.Context) []Record {
	// The fetch is shared by every waiter, so it must not die with the
	// first caller's context.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	records, err := c.source.Fetch(fetchCtx)
	if err != nil {
		c.mu.RLock()
		stale, fetchedAt := c.records, c.fetchedAt
		c.mu.RUnlock()
		if !fetchedAt.IsZero() {
			slog.Warn("vacancy fetch failed, serving stale cache",
				"error", err,
				"age", c.now().Sub(fetchedAt).Round(time.Second),
				"count", len(stale),
			)
			return stale
		}
		slog.Warn("vacancy fetch failed, no cache available", "error", err)
		return []Record{}
	}
	if records == nil {
		records = []Record{}
	}

	c.mu.Lock()
	c.records = records
	c.fetchedAt = c.now()
	c.mu.Unlock()

	slog.Info("vacancies refreshed", "count", len(records))
	return records
}

// Clear drops the cached payload so the next Get refetches.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.records = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
	slog.Info("vacancy cache cleared")
}

// Enrichment renders the current vacancies for the system prompt.
func (c *Cache) Enrichment(ctx context.Context) string {
	records := c.Get(ctx)
	slog.Debug("vacancies attached to prompt", "count", len(records))
	return Format(records)
}

// Search returns the vacancies whose title, description, requirements or
// location contain keywords (case-insensitive). Empty keywords return all.
func (c *Cache) Search(ctx context.Context, keywords string) []Record {
	records := c.Get(ctx)
	q := strings.ToLower(strings.TrimSpace(keywords))
	if q == "" {
		return records
	}
	var out []Record
	for _, r := range records {
		haystack := strings.ToLower(strings.Join([]string{r.Title, r.Description, r.Requirements, r.Location}, "\n"))
		if strings.Contains(haystack, q) {
			out = append(out, r)
		}
	}
	return out
}
