// Package cache provides the fingerprint memoization tables used by the dive
// service. Entries are stored epoch-stripped and every read returns a copy
// stamped with the caller's epoch.
package cache

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"divecli/internal/operations"
)

// Recorder receives hit and miss events. It is satisfied by the
// infrastructure metrics and may be nil.
type Recorder interface {
	RecordCacheLookup(cache string, hit bool)
}

// Options configures a cache
type Options struct {
	// Name labels the cache in logs and metrics
	Name string
	// MaxEntries bounds the cache with LRU eviction. Zero means unbounded.
	MaxEntries int
	Logger     *slog.Logger
	Metrics    Recorder
}

// StampFunc copies a value and stamps the copy with epoch
type StampFunc[V any] func(v V, epoch int64) V

// Stats holds cache statistics
type Stats struct {
	Name       string  `json:"name"`
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRatio   float64 `json:"hit_ratio"`
}

// Cache maps a fingerprint to a value. It holds no TTL; entries live for the
// lifetime of the owning session unless MaxEntries bounds it.
type Cache[V any] struct {
	name       string
	maxEntries int
	stamp      StampFunc[V]
	logger     *slog.Logger
	metrics    Recorder

	mu      sync.RWMutex
	entries map[string]V
	bounded *lru.Cache[string, V]

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache using stamp for copy-on-write and copy-on-read
func New[V any](opts Options, stamp StampFunc[V]) *Cache[V] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache[V]{
		name:       opts.Name,
		maxEntries: opts.MaxEntries,
		stamp:      stamp,
		logger:     logger.With(slog.String("component", "cache"), slog.String("cache", opts.Name)),
		metrics:    opts.Metrics,
		entries:    make(map[string]V),
	}
	if opts.MaxEntries > 0 {
		// lru.New only fails for a non-positive size
		c.bounded, _ = lru.New[string, V](opts.MaxEntries)
	}
	return c
}

// NewNodeCache creates a cache of resolved operation nodes
func NewNodeCache(opts Options) *Cache[*operations.Node] {
	return New(opts, func(n *operations.Node, epoch int64) *operations.Node {
		return n.Clone(epoch)
	})
}

// NewResultCache creates a cache of completed results keyed by request
func NewResultCache(opts Options) *Cache[*operations.ResultPayload] {
	return New(opts, func(r *operations.ResultPayload, epoch int64) *operations.ResultPayload {
		return r.WithEpoch(epoch)
	})
}

// NewRequestCache creates a cache of request handles keyed by operation. A
// handle keeps its identity across reads so cancellation stays visible.
func NewRequestCache(opts Options) *Cache[*operations.RequestHandle] {
	return New(opts, func(h *operations.RequestHandle, _ int64) *operations.RequestHandle {
		return h
	})
}

// Put stores an epoch-stripped copy of v
func (c *Cache[V]) Put(fingerprint string, v V) {
	stored := c.stamp(v, operations.UnboundEpoch)
	if c.bounded != nil {
		if evicted := c.bounded.Add(fingerprint, stored); evicted {
			c.logger.Debug("cache entry evicted", slog.Int("max_entries", c.maxEntries))
		}
		return
	}
	c.mu.Lock()
	c.entries[fingerprint] = stored
	c.mu.Unlock()
}

// Get returns a copy of the entry stamped with epoch
func (c *Cache[V]) Get(fingerprint string, epoch int64) (V, bool) {
	var (
		v  V
		ok bool
	)
	if c.bounded != nil {
		v, ok = c.bounded.Get(fingerprint)
	} else {
		c.mu.RLock()
		v, ok = c.entries[fingerprint]
		c.mu.RUnlock()
	}

	if !ok {
		c.misses.Add(1)
		c.record(false)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	c.record(true)
	c.logger.Debug("cache hit", slog.String("fingerprint", fingerprint), slog.Int64("epoch", epoch))
	return c.stamp(v, epoch), true
}

// Contains reports whether fingerprint is cached without counting a lookup
func (c *Cache[V]) Contains(fingerprint string) bool {
	if c.bounded != nil {
		return c.bounded.Contains(fingerprint)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[fingerprint]
	return ok
}

// Invalidate removes an entry
func (c *Cache[V]) Invalidate(fingerprint string) {
	if c.bounded != nil {
		c.bounded.Remove(fingerprint)
		return
	}
	c.mu.Lock()
	delete(c.entries, fingerprint)
	c.mu.Unlock()
}

// Clear removes every entry
func (c *Cache[V]) Clear() {
	if c.bounded != nil {
		c.bounded.Purge()
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]V)
	c.mu.Unlock()
}

// Len returns the number of entries
func (c *Cache[V]) Len() int {
	if c.bounded != nil {
		return c.bounded.Len()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cache statistics
func (c *Cache[V]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	ratio := float64(0)
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return Stats{
		Name:       c.name,
		Entries:    c.Len(),
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRatio:   ratio,
	}
}

func (c *Cache[V]) record(hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(c.name, hit)
	}
}

// MultiKeyCache maps an ordered tuple of fingerprints to a value
type MultiKeyCache[V any] struct {
	*Cache[V]
}

// NewMultiKeyNodeCache creates a multi-key cache of resolved nodes
func NewMultiKeyNodeCache(opts Options) *MultiKeyCache[*operations.Node] {
	return &MultiKeyCache[*operations.Node]{Cache: NewNodeCache(opts)}
}

// PutKeys stores v under the composite of keys
func (m *MultiKeyCache[V]) PutKeys(keys []string, v V) {
	m.Put(CompositeKey(keys), v)
}

// GetKeys looks up the composite of keys
func (m *MultiKeyCache[V]) GetKeys(keys []string, epoch int64) (V, bool) {
	return m.Get(CompositeKey(keys), epoch)
}

// CompositeKey joins keys into one order-sensitive key. Each part is length
// prefixed, so ["ab","c"] and ["a","bc"] never collide whatever bytes the
// parts contain.
func CompositeKey(keys []string) string {
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(strconv.Itoa(len(k)))
		b.WriteByte('\x1f')
		b.WriteString(k)
	}
	return b.String()
}
