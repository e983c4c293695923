// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package replica

import (
	"sort"
	"sync"
	"time"

	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/schema"
)

// Origin records which path put an entry into the cache. Both paths
// carry server-stamped entities; the origin is diagnostic only.
type Origin string

const (
	// OriginCatchUp marks entries from a full space fetch: the
	// post-connect catch-up or a periodic refresh.
	OriginCatchUp Origin = "catch-up"

	// OriginFetch marks entries fetched point-wise to serve a read
	// that missed the cache.
	OriginFetch Origin = "fetch"

	// OriginNotify marks entries refetched in response to a change
	// envelope.
	OriginNotify Origin = "notify"
)

// Entry is one cached entity with its bookkeeping.
type Entry struct {
	Entity    schema.Entity
	FetchedAt time.Time
	Origin    Origin
}

// cache is the client-side replica of one space's entities. The only
// write rule is last-write-wins on the server's ModifiedAt stamp: an
// incoming value no older than the cached one replaces it, a strictly
// older one is discarded no matter which path delivered it. Equal
// stamps accept the later arrival, which makes duplicate deliveries
// idempotent.
type cache struct {
	mu      sync.Mutex
	entries map[ref.EntityID]Entry
}

func newCache() *cache {
	return &cache{entries: make(map[ref.EntityID]Entry)}
}

// apply offers an entity to the cache. It reports whether the entity
// was accepted.
func (c *cache) apply(entity schema.Entity, origin Origin, fetchedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.entries[entity.ID]
	if ok && entity.ModifiedAt.Before(existing.Entity.ModifiedAt) {
		return false
	}
	c.entries[entity.ID] = Entry{Entity: entity, FetchedAt: fetchedAt, Origin: origin}
	return true
}

// get returns the cached entity, if any.
func (c *cache) get(id ref.EntityID) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	return entry, ok
}

// list returns every cached entity, most recently modified first.
func (c *cache) list() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Entity.ModifiedAt.Equal(entries[j].Entity.ModifiedAt) {
			return entries[i].Entity.ModifiedAt.After(entries[j].Entity.ModifiedAt)
		}
		return entries[i].Entity.ID.String() < entries[j].Entity.ID.String()
	})
	return entries
}

// remove drops the cached entity, if present. Used when the server of
// record answers NotFound for an ID we hold.
func (c *cache) remove(id ref.EntityID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// clear drops everything. Called on disconnect and scope switch so a
// reconnect starts from the catch-up fetch alone.
func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[ref.EntityID]Entry)
}

func (c *cache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
