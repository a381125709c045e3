// Package cache implements the namespaced generic cache from spec §4.3:
// get/set/delete/clear over (namespace, key), with per-entry TTL and one of
// four persistence levels (memory-only, on-change, periodic, on-shutdown).
//
// Grounded on vanducng-goclaw's singleton Cache (spec.md §9 explicitly asks
// for that singleton to become an explicitly-constructed service instead) —
// generalized from a single flat map into per-namespace maps guarded by a
// per-namespace mutex (spec §5 "Cache: per-namespace mutex guards in-memory
// map; persistence flush takes a read snapshot under the lock then releases
// before I/O").
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Persistence controls when a cache entry is written through to the backing Store.
type Persistence string

const (
	PersistMemoryOnly Persistence = "memory-only"
	PersistOnChange    Persistence = "on-change"
	PersistPeriodic    Persistence = "periodic"
	PersistOnShutdown  Persistence = "on-shutdown"
)

// Store is the durable backing for periodic/on-change/on-shutdown entries.
// A real implementation lives on top of internal/storage; tests can supply
// an in-memory fake.
type Store interface {
	SaveCacheEntry(ctx context.Context, namespace, key string, value []byte) error
	LoadCacheEntry(ctx context.Context, namespace, key string) ([]byte, bool, error)
	DeleteCacheEntry(ctx context.Context, namespace, key string) error
	ClearCacheNamespace(ctx context.Context, namespace string) error
}

// entry is one cached value plus its bookkeeping.
type entry struct {
	value       []byte
	createdAt   time.Time
	ttl         time.Duration // zero = no expiry
	accessCount int64
	dirty       bool
	persistence Persistence
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) >= e.ttl
}

// Cache is the namespaced generic cache. A background worker flushes
// periodic-persistence dirty entries on a timer while the cache is running.
type Cache struct {
	store       Store
	flushPeriod time.Duration

	mu         sync.RWMutex
	namespaces map[string]map[string]*entry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Cache backed by store, flushing periodic entries every
// flushPeriod (default 5 minutes if zero).
func New(store Store, flushPeriod time.Duration) *Cache {
	if flushPeriod <= 0 {
		flushPeriod = 5 * time.Minute
	}
	return &Cache{
		store:       store,
		flushPeriod: flushPeriod,
		namespaces:  make(map[string]map[string]*entry),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the periodic-flush background worker.
func (c *Cache) Start() {
	c.wg.Add(1)
	go c.flushLoop()
}

// Stop halts the periodic worker and flushes every still-dirty
// periodic/on-shutdown entry, honoring spec's "on-shutdown" persistence
// level — those entries are only ever written here.
func (c *Cache) Stop(ctx context.Context) {
	close(c.stopCh)
	c.wg.Wait()
	c.flushDirty(ctx, func(p Persistence) bool {
		return p == PersistPeriodic || p == PersistOnShutdown
	})
}

func (c *Cache) flushLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.flushPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.flushDirty(context.Background(), func(p Persistence) bool {
				return p == PersistPeriodic
			})
		}
	}
}

// flushDirty snapshots dirty entries matching the predicate under lock, then
// writes them without holding the lock.
func (c *Cache) flushDirty(ctx context.Context, match func(Persistence) bool) {
	type kv struct {
		ns, key string
		value   []byte
		e       *entry
	}
	var toFlush []kv

	c.mu.RLock()
	for ns, m := range c.namespaces {
		for key, e := range m {
			if e.dirty && match(e.persistence) {
				toFlush = append(toFlush, kv{ns, key, e.value, e})
			}
		}
	}
	c.mu.RUnlock()

	for _, item := range toFlush {
		if err := c.store.SaveCacheEntry(ctx, item.ns, item.key, item.value); err != nil {
			slog.Warn("cache: periodic flush failed", "namespace", item.ns, "key", item.key, "error", err)
			continue
		}
		item.e.dirty = false
	}
}

// Get returns the raw JSON value and true on a live hit. An expired entry is
// a miss and is deleted lazily (spec B4).
func (c *Cache) Get(ns, key string) (json.RawMessage, bool) {
	c.mu.Lock()
	m, ok := c.namespaces[ns]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	e, ok := m[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(m, key)
		c.mu.Unlock()
		return nil, false
	}
	e.accessCount++
	value := e.value
	c.mu.Unlock()
	return json.RawMessage(value), true
}

// Set stores value under (ns, key) with the given ttl (zero = no expiry) and
// persistence level. For PersistOnChange the write-through happens
// synchronously and its error is returned; other levels never fail here (a
// write failure degrades to a log-warn per spec's cache failure model).
func (c *Cache) Set(ctx context.Context, ns, key string, value interface{}, ttl time.Duration, persistence Persistence) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	e := &entry{
		value:       raw,
		createdAt:   time.Now(),
		ttl:         ttl,
		persistence: persistence,
	}

	c.mu.Lock()
	m, ok := c.namespaces[ns]
	if !ok {
		m = make(map[string]*entry)
		c.namespaces[ns] = m
	}
	m[key] = e
	c.mu.Unlock()

	switch persistence {
	case PersistOnChange:
		if err := c.store.SaveCacheEntry(ctx, ns, key, raw); err != nil {
			slog.Warn("cache: on-change write failed", "namespace", ns, "key", key, "error", err)
			return err
		}
	case PersistPeriodic, PersistOnShutdown:
		c.mu.Lock()
		e.dirty = true
		c.mu.Unlock()
	case PersistMemoryOnly:
		// never persisted
	}
	return nil
}

// Delete removes an entry from memory and, best-effort, from the store.
func (c *Cache) Delete(ctx context.Context, ns, key string) {
	c.mu.Lock()
	if m, ok := c.namespaces[ns]; ok {
		delete(m, key)
	}
	c.mu.Unlock()

	if err := c.store.DeleteCacheEntry(ctx, ns, key); err != nil {
		slog.Warn("cache: delete failed", "namespace", ns, "key", key, "error", err)
	}
}

// Clear removes every entry in a namespace, in memory and in the store.
func (c *Cache) Clear(ctx context.Context, ns string) {
	c.mu.Lock()
	delete(c.namespaces, ns)
	c.mu.Unlock()

	if err := c.store.ClearCacheNamespace(ctx, ns); err != nil {
		slog.Warn("cache: clear failed", "namespace", ns, "error", err)
	}
}

// GetOrLoad returns a live hit, or on miss loads from the backing store
// (supporting the "fresh read from a cold cache" scenario in spec P3) and
// repopulates memory as memory-only (the loader is responsible for re-Set
// with the correct persistence if it wants the value to stay durable).
func (c *Cache) GetOrLoad(ctx context.Context, ns, key string) (json.RawMessage, bool) {
	if v, ok := c.Get(ns, key); ok {
		return v, true
	}
	raw, ok, err := c.store.LoadCacheEntry(ctx, ns, key)
	if err != nil || !ok {
		return nil, false
	}
	c.mu.Lock()
	m, ok := c.namespaces[ns]
	if !ok {
		m = make(map[string]*entry)
		c.namespaces[ns] = m
	}
	m[key] = &entry{value: raw, createdAt: time.Now(), persistence: PersistMemoryOnly}
	c.mu.Unlock()
	return json.RawMessage(raw), true
}
