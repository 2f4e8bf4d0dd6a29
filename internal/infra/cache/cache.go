// Package cache provides the request cache for slow upstream lookups:
// TTL-bounded payloads, single-flight collapse of concurrent fetches
// for the same key, stale-while-revalidate serving and an optional
// persistent store that survives restarts.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"krader/internal/domain"
	"krader/internal/infra"
)

// FetchFunc produces a fresh payload for one key.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Store persists payloads across restarts. Load returns the payload
// and its expiry; a missing key comes back as domain.ErrConfigNotFound.
type Store interface {
	Load(key string) ([]byte, time.Time, error)
	Save(key string, payload []byte, expiry time.Time) error
}

type entry struct {
	payload  []byte
	expiry   time.Time
	lastUsed time.Time
}

// Cache is a keyed payload cache. Entries are served while fresh,
// served stale with a background refresh once expired, and evicted
// after sitting unused past the idle window.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry

	group      singleflight.Group
	refreshing map[string]struct{}

	ttl   time.Duration
	idle  time.Duration
	store Store // may be nil

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a cache with the given default TTL and idle-eviction
// window. store may be nil for a memory-only cache. The janitor runs
// until Close.
func New(ttl, idle time.Duration, store Store) *Cache {
	c := &Cache{
		entries:    make(map[string]*entry),
		refreshing: make(map[string]struct{}),
		ttl:        ttl,
		idle:       idle,
		store:      store,
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.janitor(ctx)

	return c
}

// Close stops the janitor and waits for in-flight refreshes.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

// Fetch returns the payload for key. A fresh entry is served directly.
// An expired entry is served as-is while one background refresh runs.
// A missing entry triggers a synchronous fetch; concurrent callers for
// the same key share a single upstream call. ttl bounds the freshness
// of a newly fetched payload; zero or negative uses the cache default.
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration, fn FetchFunc) ([]byte, error) {
	now := time.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		e.lastUsed = now
		payload := e.payload
		fresh := now.Before(e.expiry)
		c.mu.Unlock()

		if fresh {
			infra.GlobalMetrics.RecordCacheHit()
			return payload, nil
		}

		// Serve stale, refresh at most once in the background.
		infra.GlobalMetrics.RecordCacheHit()
		c.refreshAsync(key, ttl, fn)
		return payload, nil
	}
	c.mu.Unlock()

	infra.GlobalMetrics.RecordCacheMiss()

	if c.store != nil {
		if payload, expiry, err := c.store.Load(key); err == nil && now.Before(expiry) {
			c.put(key, payload, expiry, false)
			return payload, nil
		}
	}

	return c.fetch(ctx, key, ttl, fn)
}

// FetchFresh bypasses any cached entry and fetches upstream, still
// collapsing concurrent callers into one call.
func (c *Cache) FetchFresh(ctx context.Context, key string, ttl time.Duration, fn FetchFunc) ([]byte, error) {
	return c.fetch(ctx, key, ttl, fn)
}

// Invalidate drops the entry for key, if any.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// fetch performs the single-flight upstream call and installs the
// result. A failed call falls back to a stale entry when one exists.
func (c *Cache) fetch(ctx context.Context, key string, ttl time.Duration, fn FetchFunc) ([]byte, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		payload, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.put(key, payload, time.Now().Add(ttl), true)
		return payload, nil
	})
	if err != nil {
		c.mu.Lock()
		e, ok := c.entries[key]
		c.mu.Unlock()
		if ok {
			slog.Warn("Upstream fetch failed, serving stale payload",
				slog.String("key", key),
				slog.Any("error", err),
			)
			return e.payload, nil
		}
		return nil, &domain.CacheFetchError{Key: key, Err: err}
	}
	return v.([]byte), nil
}

// refreshAsync starts one background refresh for key unless one is
// already running.
func (c *Cache) refreshAsync(key string, ttl time.Duration, fn FetchFunc) {
	c.mu.Lock()
	if _, busy := c.refreshing[key]; busy {
		c.mu.Unlock()
		return
	}
	c.refreshing[key] = struct{}{}
	c.mu.Unlock()

	infra.GlobalMetrics.RecordCacheRefresh()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, key)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if _, err := c.fetch(ctx, key, ttl, fn); err != nil {
			slog.Warn("Background refresh failed",
				slog.String("key", key),
				slog.Any("error", err),
			)
		}
	}()
}

func (c *Cache) put(key string, payload []byte, expiry time.Time, persist bool) {
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = &entry{payload: payload, expiry: expiry, lastUsed: now}
	c.mu.Unlock()

	if persist && c.store != nil {
		if err := c.store.Save(key, payload, expiry); err != nil {
			slog.Warn("Cache persist failed", slog.String("key", key), slog.Any("error", err))
		}
	}
}

// janitor evicts entries unused past the idle window.
func (c *Cache) janitor(ctx context.Context) {
	defer c.wg.Done()

	interval := c.idle / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-c.idle)
			c.mu.Lock()
			for key, e := range c.entries {
				if e.lastUsed.Before(cutoff) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
