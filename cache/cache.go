// Package cache implements the short-lived configuration cache used by the
// authentication core. It holds three independent namespaces (provider
// configuration, built strategies, resolved endpoints), each bounded by a
// maximum entry count and a TTL.
//
// The contract is a TTL + insertion-order bounded cache: when a namespace is
// at capacity, the entry with the oldest insertion timestamp is evicted.
// Reads do not refresh entry age. Expiry is checked lazily on read; there is
// no background sweeper.
package cache

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Namespace identifies one of the cache's independent regions.
type Namespace string

const (
	// NamespaceConfig caches provider settings. TTL 5 minutes.
	NamespaceConfig Namespace = "config"

	// NamespaceStrategy caches built per-organization strategies.
	// TTL 10 minutes.
	NamespaceStrategy Namespace = "strategy"

	// NamespaceEndpoint caches resolved endpoint sets keyed by issuer URL.
	// TTL 30 minutes.
	NamespaceEndpoint Namespace = "endpoint"
)

const defaultMaxEntries = 100

// defaultTTLs are the per-namespace time-to-live values.
var defaultTTLs = map[Namespace]time.Duration{
	NamespaceConfig:   5 * time.Minute,
	NamespaceStrategy: 10 * time.Minute,
	NamespaceEndpoint: 30 * time.Minute,
}

// entry holds a cached value with its insertion timestamp.
type entry struct {
	value      any
	insertedAt time.Time
}

// namespace is one bounded region of the cache.
type namespace struct {
	mu         sync.RWMutex
	entries    map[string]entry
	maxEntries int
	ttl        time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// Cache is the process-wide configuration cache. It is safe for concurrent
// use; inserts are last-writer-wins.
type Cache struct {
	namespaces map[Namespace]*namespace
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a cache with the default namespace TTLs and a capacity of 100
// entries per namespace.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		namespaces: make(map[Namespace]*namespace, len(defaultTTLs)),
		logger:     logger,
		now:        time.Now,
	}
	for ns, ttl := range defaultTTLs {
		c.namespaces[ns] = &namespace{
			entries:    make(map[string]entry),
			maxEntries: defaultMaxEntries,
			ttl:        ttl,
		}
	}
	return c
}

// SetTimeFunc overrides the cache's time source. Intended for tests.
func (c *Cache) SetTimeFunc(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Get returns the live value for key in the given namespace. An entry older
// than the namespace TTL is treated as absent regardless of whether it has
// been physically evicted.
func (c *Cache) Get(ns Namespace, key string) (any, bool) {
	n, ok := c.namespaces[ns]
	if !ok {
		return nil, false
	}

	n.mu.RLock()
	e, ok := n.entries[key]
	n.mu.RUnlock()

	if !ok || c.now().Sub(e.insertedAt) > n.ttl {
		n.misses.Add(1)
		return nil, false
	}

	n.hits.Add(1)
	return e.value, true
}

// Set inserts a value into the given namespace, evicting the entry with the
// oldest insertion timestamp if the namespace is at capacity.
func (c *Cache) Set(ns Namespace, key string, value any) {
	n, ok := c.namespaces[ns]
	if !ok {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.entries[key]; !exists && len(n.entries) >= n.maxEntries {
		c.evictOldest(ns, n)
	}

	n.entries[key] = entry{value: value, insertedAt: c.now()}
}

// evictOldest removes the entry with the oldest insertion timestamp.
// Caller must hold the namespace write lock.
func (c *Cache) evictOldest(ns Namespace, n *namespace) {
	var oldestKey string
	var oldestTime time.Time

	for key, e := range n.entries {
		if oldestKey == "" || e.insertedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.insertedAt
		}
	}

	if oldestKey != "" {
		delete(n.entries, oldestKey)
		c.logger.Debug("Cache eviction",
			"namespace", string(ns),
			"key", oldestKey,
			"inserted_at", oldestTime)
	}
}

// Invalidate removes a single entry. Called whenever the underlying provider
// configuration changes.
func (c *Cache) Invalidate(ns Namespace, key string) {
	n, ok := c.namespaces[ns]
	if !ok {
		return
	}

	n.mu.Lock()
	delete(n.entries, key)
	n.mu.Unlock()
}

// ClearAll empties every namespace.
func (c *Cache) ClearAll() {
	for ns, n := range c.namespaces {
		n.mu.Lock()
		count := len(n.entries)
		n.entries = make(map[string]entry)
		n.mu.Unlock()
		if count > 0 {
			c.logger.Debug("Cache namespace cleared", "namespace", string(ns), "entries_removed", count)
		}
	}
}

// NamespaceStats holds counters for one namespace.
type NamespaceStats struct {
	Namespace Namespace
	Entries   int
	Hits      int64
	Misses    int64
}

// Stats returns per-namespace counters for health reporting.
func (c *Cache) Stats() []NamespaceStats {
	stats := make([]NamespaceStats, 0, len(c.namespaces))
	for ns, n := range c.namespaces {
		n.mu.RLock()
		count := len(n.entries)
		n.mu.RUnlock()
		stats = append(stats, NamespaceStats{
			Namespace: ns,
			Entries:   count,
			Hits:      n.hits.Load(),
			Misses:    n.misses.Load(),
		})
	}
	return stats
}
