// Package cache defines the external Cache collaborator from the resolver's
// contract (an opaque async get/set key-value store with per-entry TTL) and
// provides one default in-memory implementation. The core never reaches past
// the Cache interface into this package's internals.
package cache

import (
	"sync"
	"time"
)

// Answer is the cached form of a resource record: its canonical string data,
// type and the TTL it was written with. Expiry is tracked separately as an
// absolute deadline on the entry, not on Answer itself; TTL here is only the
// originally-observed record lifetime, returned to callers on a cache hit.
type Answer struct {
	Data string
	Type uint16
	TTL  uint32
}

// Cache is the collaborator the core depends on. Get reports whether key is
// present and unexpired; Set stores value under key for the given TTL.
// NegativeTTL is the fixed TTL (300s, RFC 2308 §7.1) the core uses whenever it
// calls Set with an empty value slice.
type Cache interface {
	Get(key string) ([]Answer, bool)
	Set(key string, value []Answer, ttl time.Duration)
}

const NegativeTTL = 300 * time.Second

type entry struct {
	value  []Answer
	expiry time.Time
}

// Memory is a default in-memory TTL cache, generalized from the teacher's
// internal/resolver/cache.go: an RWMutex-guarded map, expiry checked on read,
// stale entries swept lazily rather than by a background timer.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

func (c *Memory) Get(key string) ([]Answer, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiry) {
		go c.evict(key, e.expiry)
		return nil, false
	}
	return e.value, true
}

func (c *Memory) Set(key string, value []Answer, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiry: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// evict removes key only if it hasn't been overwritten since the caller
// observed it expired, matching the teacher's ClearExpired's care not to
// clobber a fresher write that raced with the read.
func (c *Memory) evict(key string, observedExpiry time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.expiry.Equal(observedExpiry) {
		delete(c.entries, key)
	}
}
