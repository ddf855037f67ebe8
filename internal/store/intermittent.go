package store

import "sync"

// Intermittent is the process-lifetime companion to Persistent: running
// job flags and other transient coordination that must not survive a
// reboot (spec.md §4.B).
type Intermittent struct {
	mu     sync.RWMutex
	caches map[string]map[string][]byte
}

// NewIntermittent returns an empty intermittent store.
func NewIntermittent() *Intermittent {
	return &Intermittent{caches: make(map[string]map[string][]byte)}
}

// Cache returns a handle scoped to one named cache.
func (s *Intermittent) Cache(name string) *IntermittentCache {
	return &IntermittentCache{store: s, name: name}
}

// IntermittentCache is a scoped view over one named in-memory cache.
type IntermittentCache struct {
	store *Intermittent
	name  string
}

func (c *IntermittentCache) Get(key string) ([]byte, bool) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	bucket, ok := c.store.caches[c.name]
	if !ok {
		return nil, false
	}
	v, ok := bucket[key]
	return v, ok
}

func (c *IntermittentCache) Set(key string, value []byte) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	bucket, ok := c.store.caches[c.name]
	if !ok {
		bucket = make(map[string][]byte)
		c.store.caches[c.name] = bucket
	}
	bucket[key] = value
}

func (c *IntermittentCache) Delete(key string) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if bucket, ok := c.store.caches[c.name]; ok {
		delete(bucket, key)
	}
}

// Keys returns every key currently in the cache.
func (c *IntermittentCache) Keys() []string {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	bucket := c.store.caches[c.name]
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		keys = append(keys, k)
	}
	return keys
}
