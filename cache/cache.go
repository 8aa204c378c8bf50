// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package cache deduplicates resource loads by path. It keeps handles
// in least recently used order and drops the oldest decoded ones once
// their total size goes over a byte budget. Dropping an entry never
// releases the resource, whoever holds the handle keeps a usable one.
package cache

import (
	"container/list"
	"sync"

	"github.com/devblok/korures/resource"
	log "github.com/sirupsen/logrus"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Len       int    `json:"len"`
	Bytes     int64  `json:"bytes"`
	Budget    int64  `json:"budget"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type entry struct {
	key    resource.Key
	handle *resource.Handle
	size   int64 // as counted in Cache.bytes
}

// New creates a cache that sweeps down to byteBudget bytes.
// A budget of 0 never sweeps.
func New(byteBudget int64, logger log.FieldLogger) *Cache {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{
		budget:  byteBudget,
		entries: make(map[resource.Key]*list.Element),
		order:   list.New(),
		logger:  logger,
	}
}

// Cache maps resource keys to live handles. Safe for concurrent use.
type Cache struct {
	mutex   sync.Mutex
	budget  int64
	entries map[resource.Key]*list.Element
	order   *list.List // front is most recently used
	bytes   int64

	hits, misses, evictions uint64

	logger log.FieldLogger
}

// GetOrCreate returns the live handle for key, or builds one with
// factory under the cache lock. created reports whether factory ran,
// in which case the caller must issue the load.
func (c *Cache) GetOrCreate(key resource.Key, factory func() *resource.Handle) (h *resource.Handle, created bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if el, ok := c.entries[key]; ok {
		c.hits++
		c.order.MoveToFront(el)
		return el.Value.(*entry).handle, false
	}

	c.misses++
	h = factory()
	e := &entry{key: key, handle: h, size: h.Size()}
	c.entries[key] = c.order.PushFront(e)
	c.bytes += e.size
	h.OnResize(c.resized)

	if c.budget > 0 && c.bytes > c.budget {
		c.sweepLocked()
	}
	return h, true
}

// Get returns the live handle for key without creating one.
func (c *Cache) Get(key resource.Key) (*resource.Handle, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).handle, true
}

// Evict drops the entry for key. Returns false if there was none.
func (c *Cache) Evict(key resource.Key) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// EvictHandle drops the entry for h's key only while it still maps to h.
func (c *Cache) EvictHandle(h *resource.Handle) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	el, ok := c.entries[h.Key()]
	if !ok || el.Value.(*entry).handle != h {
		return false
	}
	c.removeLocked(el)
	return true
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[resource.Key]*list.Element)
	c.order.Init()
	c.bytes = 0
}

// Sweep drops least recently used decoded entries until the cached bytes
// fit the budget and returns how many were dropped. Entries still
// waiting on decode have no size yet and are never swept.
func (c *Cache) Sweep() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.budget <= 0 {
		return 0
	}
	return c.sweepLocked()
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// Bytes returns the summed size of the cached handles.
func (c *Cache) Bytes() int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.bytes
}

// Keys returns the cached keys, most recently used first.
func (c *Cache) Keys() []resource.Key {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	keys := make([]resource.Key, 0, len(c.entries))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return Stats{
		Len:       len(c.entries),
		Bytes:     c.bytes,
		Budget:    c.budget,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *Cache) sweepLocked() int {
	var dropped int
	for el := c.order.Back(); el != nil && c.bytes > c.budget; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if size := e.size; size > 0 {
			c.removeLocked(el)
			c.evictions++
			dropped++
			c.logger.WithFields(log.Fields{
				"path": e.key,
				"size": size,
			}).Debug("cache entry swept")
		}
		el = prev
	}
	return dropped
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.entries, e.key)
	c.order.Remove(el)
	c.bytes -= e.size
}

// resized keeps the byte total in step with sizes reported by decode.
// Handles no longer cached are ignored.
func (c *Cache) resized(h *resource.Handle) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	el, ok := c.entries[h.Key()]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	if e.handle != h {
		return
	}
	size := h.Size()
	c.bytes += size - e.size
	e.size = size
}
