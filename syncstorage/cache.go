// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package syncstorage

import "sync"

// CollectionCache is the process-wide, read-mostly {name<->id} map,
// pre-seeded with the 13 well-known collection ids and shared across every
// Backend connection in the pool.
//
// Writers only call Publish after a commit succeeds, so an id created by a
// transaction that later rolls back is never cached.
type CollectionCache struct {
	mu     sync.RWMutex
	byName map[string]int64
	byID   map[int64]string
}

// NewCollectionCache returns a cache pre-seeded with the well-known ids
// 1..13.
func NewCollectionCache() *CollectionCache {
	c := &CollectionCache{
		byName: make(map[string]int64, len(WellKnownCollections)+8),
		byID:   make(map[int64]string, len(WellKnownCollections)+8),
	}
	for i, name := range WellKnownCollections {
		id := int64(i + 1)
		c.byName[name] = id
		c.byID[id] = name
	}
	return c
}

// Lookup returns the id for name, if cached.
func (c *CollectionCache) Lookup(name string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[name]
	return id, ok
}

// LookupName returns the name for id, if cached.
func (c *CollectionCache) LookupName(id int64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.byID[id]
	return name, ok
}

// Publish adds a newly-committed (name, id) pair to the cache. Safe to call
// redundantly.
func (c *CollectionCache) Publish(name string, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[name] = id
	c.byID[id] = name
}
