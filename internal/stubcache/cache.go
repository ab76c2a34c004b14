// Package stubcache caches loader stubs keyed by (tenant, worker), guarded
// by the worker version. Entries are replaceable handles, never sources of
// truth: any configuration change at any inheritance level invalidates by
// key removal.
package stubcache

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/substrate-host/substrate/internal/loader"
	"github.com/substrate-host/substrate/internal/observability"
)

// DefaultSize bounds the number of live stubs kept per process.
const DefaultSize = 1024

// Entry pairs a stub with the worker version it was loaded for.
type Entry struct {
	Version int
	Stub    loader.Stub
}

// Cache is a bounded LRU of loader stubs. All methods are safe for
// concurrent use; writes are last-writer-wins (all stubs for the same
// version are equivalent).
type Cache struct {
	entries *lru.Cache[string, Entry]
}

// New creates a stub cache. size <= 0 selects DefaultSize.
func New(size int) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	// Err is only returned for non-positive sizes, which we normalised away.
	entries, _ := lru.New[string, Entry](size)
	return &Cache{entries: entries}
}

func key(tenantID, workerID string) string {
	return tenantID + ":" + workerID
}

// Get returns the cached entry for a worker if one exists.
func (c *Cache) Get(tenantID, workerID string) (Entry, bool) {
	e, ok := c.entries.Get(key(tenantID, workerID))
	if ok {
		observability.StubCacheTotal.WithLabelValues("hit").Inc()
	} else {
		observability.StubCacheTotal.WithLabelValues("miss").Inc()
	}
	return e, ok
}

// Put stores a stub for a worker version.
func (c *Cache) Put(tenantID, workerID string, version int, stub loader.Stub) {
	c.entries.Add(key(tenantID, workerID), Entry{Version: version, Stub: stub})
}

// InvalidateWorker drops the entry for one worker.
func (c *Cache) InvalidateWorker(tenantID, workerID string) {
	c.entries.Remove(key(tenantID, workerID))
}

// InvalidateTenant drops every entry belonging to a tenant.
func (c *Cache) InvalidateTenant(tenantID string) {
	prefix := tenantID + ":"
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.entries.Remove(k)
		}
	}
}

// InvalidateAll drops every entry. Used when platform defaults change.
func (c *Cache) InvalidateAll() {
	c.entries.Purge()
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}
