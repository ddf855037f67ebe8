// Package store implements the two key-value caches spec.md §4.B names:
// a bbolt-backed persistent store (calibrations, throughput counters) and
// an in-memory intermittent store (running-job flags). Both are keyed by
// cache name, with scoped exclusive access per open/close.
package store

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Persistent is a bbolt-backed store surviving process restarts. Each
// cache name is a bbolt bucket; keys/values are raw byte strings, as
// spec.md §4.B specifies.
type Persistent struct {
	db *bolt.DB
}

// OpenPersistent opens (creating if absent) the database file at path.
func OpenPersistent(path string) (*Persistent, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open persistent db: %w", err)
	}
	return &Persistent{db: db}, nil
}

func (p *Persistent) Close() error { return p.db.Close() }

// Cache returns a handle scoped to one named cache (bbolt bucket). The
// bucket is created lazily on first write.
func (p *Persistent) Cache(name string) *PersistentCache {
	return &PersistentCache{db: p.db, bucket: []byte(name)}
}

// PersistentCache is a scoped view over one bucket. Every method opens
// its own bbolt transaction — bbolt already serializes writers per-db,
// which gives us the "exclusive access per-cache during the scope"
// contract spec.md §4.B asks for without an extra lock layer.
type PersistentCache struct {
	db     *bolt.DB
	bucket []byte
}

func (c *PersistentCache) Get(key string) ([]byte, bool, error) {
	var val []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	return val, val != nil, err
}

func (c *PersistentCache) Set(key string, value []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(c.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

func (c *PersistentCache) Delete(key string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// Keys returns every key currently in the cache.
func (c *PersistentCache) Keys() ([]string, error) {
	var keys []string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Update runs fn inside one read-write transaction against this cache's
// bucket, for callers needing a read-modify-write that must not
// interleave with another writer (e.g. throughput counter increments).
func (c *PersistentCache) Update(fn func(get func(string) []byte, put func(string, []byte) error) error) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(c.bucket)
		if err != nil {
			return err
		}
		get := func(k string) []byte { return b.Get([]byte(k)) }
		put := func(k string, v []byte) error { return b.Put([]byte(k), v) }
		return fn(get, put)
	})
}
