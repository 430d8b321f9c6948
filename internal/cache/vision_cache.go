// Package cache holds the content-addressed vision result cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scanium/enricher/internal/domain"
	"golang.org/x/sync/singleflight"
)

// errFlightExpired marks a shared load that hit its own deadline. A joined
// caller whose context is still live starts a fresh flight.
var errFlightExpired = errors.New("shared vision load expired")

// Loader fetches a vision result on a cache miss.
type Loader func(ctx context.Context) (*domain.VisionResult, error)

// VisionCache maps image content digests to vision results.
// Entries are shared by every job; writes for the same key are idempotent,
// so last-write-wins is safe.
type VisionCache struct {
	mu      sync.RWMutex
	entries map[string]domain.VisionCacheEntry

	ttl           time.Duration
	clock         domain.Clock
	dedupe        bool
	flightTimeout time.Duration
	group         singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// Options configures a VisionCache.
type Options struct {
	// TTL bounds entry lifetime; zero keeps entries forever.
	TTL time.Duration
	// Dedupe collapses concurrent misses for one key into a single load.
	Dedupe bool
	// FlightTimeout bounds a shared load. The load runs detached from every
	// caller, so each caller still waits only until its own ctx is done.
	FlightTimeout time.Duration
	Clock         domain.Clock
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// NewVisionCache creates an empty cache.
func NewVisionCache(opts Options) *VisionCache {
	clock := opts.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &VisionCache{
		entries: make(map[string]domain.VisionCacheEntry),
		ttl:           opts.TTL,
		clock:         clock,
		dedupe:        opts.Dedupe,
		flightTimeout: opts.FlightTimeout,
	}
}

// Key builds the cache key for an image digest. When packSensitive is set the
// domain pack participates in the key.
func Key(imageHash, domainPackID string, packSensitive bool) string {
	if packSensitive && domainPackID != "" {
		return domainPackID + ":" + imageHash
	}
	return imageHash
}

// Get returns a copy of the cached result for key. It does not touch the counters.
func (c *VisionCache) Get(key string) (*domain.VisionResult, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.expired(entry) {
		return nil, false
	}
	return entry.Result.Clone(), true
}

// Put stores result under key.
func (c *VisionCache) Put(key string, result *domain.VisionResult) {
	if result == nil {
		return
	}
	c.mu.Lock()
	c.entries[key] = domain.VisionCacheEntry{Result: result.Clone(), CachedAt: c.clock.Now()}
	c.mu.Unlock()
}

// GetOrLoad returns the cached result for key or calls load and stores its
// result. hit reports whether the provider call was skipped. Failed loads are
// never cached.
func (c *VisionCache) GetOrLoad(ctx context.Context, key string, load Loader) (result *domain.VisionResult, hit bool, err error) {
	if cached, ok := c.Get(key); ok {
		c.hits.Add(1)
		return cached, true, nil
	}
	c.misses.Add(1)

	if !c.dedupe {
		res, err := load(ctx)
		if err != nil {
			return nil, false, err
		}
		c.Put(key, res)
		return res.Clone(), false, nil
	}

	for {
		ch := c.group.DoChan(key, func() (interface{}, error) {
			return c.loadShared(ctx, key, load)
		})
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case r := <-ch:
			if errors.Is(r.Err, errFlightExpired) {
				if ctx.Err() == nil {
					continue
				}
				return nil, false, ctx.Err()
			}
			if r.Err != nil {
				return nil, false, r.Err
			}
			return r.Val.(*domain.VisionResult).Clone(), false, nil
		}
	}
}

// loadShared runs one deduplicated load on a context that no single caller
// can cancel.
func (c *VisionCache) loadShared(ctx context.Context, key string, load Loader) (*domain.VisionResult, error) {
	// Another flight may have filled the entry between Get and DoChan.
	if cached, ok := c.Get(key); ok {
		return cached, nil
	}
	flightCtx := context.WithoutCancel(ctx)
	if c.flightTimeout > 0 {
		var cancel context.CancelFunc
		flightCtx, cancel = context.WithTimeout(flightCtx, c.flightTimeout)
		defer cancel()
	}
	res, err := load(flightCtx)
	if err != nil {
		if flightCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", errFlightExpired, err)
		}
		return nil, err
	}
	c.Put(key, res)
	return res, nil
}

// Sweep drops expired entries and returns how many were removed.
func (c *VisionCache) Sweep() int {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Stats returns hit/miss counters and the current entry count.
func (c *VisionCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: n}
}

func (c *VisionCache) expired(e domain.VisionCacheEntry) bool {
	return c.ttl > 0 && !c.clock.Now().Before(e.CachedAt.Add(c.ttl))
}
