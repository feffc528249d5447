package rag

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Builder turns a document into a ready-to-search Index. The production
// implementation runs extract → chunk → embed → BuildMemoryIndex; tests
// inject counting stubs to observe cache behaviour.
type Builder interface {
	// Build constructs the index for doc. A failed build must leave no
	// partial state behind.
	Build(ctx context.Context, doc Document) (Index, error)
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(ctx context.Context, doc Document) (Index, error)

// Build calls f.
func (f BuilderFunc) Build(ctx context.Context, doc Document) (Index, error) {
	return f(ctx, doc)
}

// EvictFunc is invoked after an index is removed from the cache, with the
// evicted document's fingerprint. The index has already been closed.
type EvictFunc func(fingerprint string)

// cacheEntry is one cached index plus the bookkeeping needed for LRU eviction.
type cacheEntry struct {
	// index is the built, read-only index.
	index Index
	// lastUsed is updated on every cache hit.
	lastUsed time.Time
}

// IndexCache maps document fingerprints to built indexes, guaranteeing at
// most one build per distinct document content. Concurrent GetOrBuild calls
// for the same unseen fingerprint coalesce onto a single build via
// singleflight — independent fingerprints build in parallel, identical ones
// share one build and one resulting Index.
//
// The cache is unbounded by default, which is fine for the intended use of
// one interactive session with one document at a time. Setting MaxEntries
// turns it into a least-recently-used cache without any other change.
type IndexCache struct {
	// builder constructs indexes for fingerprints not yet cached.
	builder Builder

	// maxEntries bounds the cache size; 0 means unbounded.
	maxEntries int

	// onEvict, if set, is called after each eviction.
	onEvict EvictFunc

	// group coalesces concurrent builds per fingerprint.
	group singleflight.Group

	// mu protects entries.
	mu sync.Mutex

	// entries maps fingerprint to its cached index.
	entries map[string]*cacheEntry

	// builds counts completed successful builds, exposed for tests and metrics.
	builds atomic.Uint64

	// hits counts GetOrBuild calls satisfied without building.
	hits atomic.Uint64
}

// CacheOption configures an IndexCache.
type CacheOption func(*IndexCache)

// WithMaxEntries bounds the cache to n indexes, evicting the least recently
// used entry when a build would exceed the bound. n <= 0 leaves the cache
// unbounded.
func WithMaxEntries(n int) CacheOption {
	return func(c *IndexCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithEvictFunc registers fn to be called after each eviction.
func WithEvictFunc(fn EvictFunc) CacheOption {
	return func(c *IndexCache) { c.onEvict = fn }
}

// NewIndexCache constructs an IndexCache around builder.
func NewIndexCache(builder Builder, opts ...CacheOption) (*IndexCache, error) {
	if builder == nil {
		return nil, fmt.Errorf("rag: cache builder must not be nil")
	}
	c := &IndexCache{
		builder: builder,
		entries: make(map[string]*cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetOrBuild returns the cached index for doc's fingerprint, building it
// first if absent. Build failures cache nothing, so a retried upload of the
// same content re-attempts the build rather than replaying a cached error.
func (c *IndexCache) GetOrBuild(ctx context.Context, doc Document) (Index, error) {
	fp := doc.Fingerprint()

	if idx, ok := c.lookup(fp); ok {
		c.hits.Add(1)
		return idx, nil
	}

	v, err, _ := c.group.Do(fp, func() (any, error) {
		// A concurrent caller may have completed the build while this one
		// was queued on the flight group.
		if idx, ok := c.lookup(fp); ok {
			return idx, nil
		}

		idx, err := c.builder.Build(ctx, doc)
		if err != nil {
			return nil, err
		}

		c.store(fp, idx)
		c.builds.Add(1)
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Index), nil
}

// Evict removes the index for fingerprint, closing it and firing the evict
// hook. Evicting an absent fingerprint is a no-op.
func (c *IndexCache) Evict(fingerprint string) {
	c.mu.Lock()
	entry, ok := c.entries[fingerprint]
	if ok {
		delete(c.entries, fingerprint)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	_ = entry.index.Close()
	if c.onEvict != nil {
		c.onEvict(fingerprint)
	}
}

// Len reports the number of cached indexes.
func (c *IndexCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Builds reports how many index builds have completed successfully. Tests
// use it to verify that byte-identical re-uploads never rebuild.
func (c *IndexCache) Builds() uint64 {
	return c.builds.Load()
}

// Hits reports how many GetOrBuild calls were served from the cache.
func (c *IndexCache) Hits() uint64 {
	return c.hits.Load()
}

// lookup returns the cached index for fp, refreshing its LRU timestamp.
func (c *IndexCache) lookup(fp string) (Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[fp]
	if !ok {
		return nil, false
	}
	entry.lastUsed = time.Now()
	return entry.index, true
}

// store inserts a freshly built index, evicting the least recently used
// entry first when the cache is bounded and full.
func (c *IndexCache) store(fp string, idx Index) {
	var evicted *cacheEntry
	var evictedFP string

	c.mu.Lock()
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		evictedFP = c.oldestLocked()
		if evictedFP != "" {
			evicted = c.entries[evictedFP]
			delete(c.entries, evictedFP)
		}
	}
	c.entries[fp] = &cacheEntry{index: idx, lastUsed: time.Now()}
	c.mu.Unlock()

	if evicted != nil {
		_ = evicted.index.Close()
		if c.onEvict != nil {
			c.onEvict(evictedFP)
		}
	}
}

// oldestLocked returns the fingerprint with the oldest lastUsed timestamp.
// Caller must hold mu.
func (c *IndexCache) oldestLocked() string {
	var oldest string
	var when time.Time
	for fp, entry := range c.entries {
		if oldest == "" || entry.lastUsed.Before(when) {
			oldest = fp
			when = entry.lastUsed
		}
	}
	return oldest
}
