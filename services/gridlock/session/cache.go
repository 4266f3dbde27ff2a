// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"github.com/AleutianAI/Gridlock/services/gridlock/datatypes"
)

// Default cache sizing. At roughly 1KB of grid state per session, a full
// cache costs about 1MB of resident memory.
const (
	defaultCacheCapacity  = 1000
	defaultCacheThreshold = 0.9
)

// cacheEntry is one session's in-memory working state.
//
// # Fields
//
//   - state: Current solve grid. Ahead of the store while dirty.
//   - puzzleID: Immutable session metadata, cached so lazy grid
//     initialization doesn't need a store read.
//   - lastAccess: Monotonic access stamp used for LRU ordering.
//   - dirty: True when state has edits not yet flushed to the store.
//   - gen: Bumped on every edit. A flush captures gen before its store
//     write and may only clear dirty if no edit arrived in between.
type cacheEntry struct {
	state      datatypes.Grid
	puzzleID   string
	lastAccess uint64
	dirty      bool
	gen        uint64
}

// sessionCache is a bounded write-back cache of session states.
//
// # Description
//
// Eviction is dirty-aware: when an insert pushes the cache past capacity,
// least-recently-accessed clean entries are removed until the size drops to
// the cleanup threshold. Dirty entries are never evicted, whatever their
// age; unflushed edits must not be lost to memory pressure. If every entry
// is dirty the cache is allowed to exceed capacity.
//
// # Thread Safety
//
// NOT thread-safe. The Coordinator guards all access with its mutex; the
// cache itself stays lock-free so eviction and generation checks compose
// atomically with timer bookkeeping.
type sessionCache struct {
	capacity  int
	threshold float64
	entries   map[string]*cacheEntry
	tick      uint64
	evictions uint64
}

func newSessionCache(capacity int, threshold float64) *sessionCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	if threshold <= 0 || threshold > 1 {
		threshold = defaultCacheThreshold
	}
	return &sessionCache{
		capacity:  capacity,
		threshold: threshold,
		entries:   make(map[string]*cacheEntry),
	}
}

// get returns the entry and bumps its access stamp.
func (c *sessionCache) get(sessionID string) (*cacheEntry, bool) {
	e, ok := c.entries[sessionID]
	if !ok {
		return nil, false
	}
	c.tick++
	e.lastAccess = c.tick
	return e, true
}

// peek returns the entry without touching LRU order.
func (c *sessionCache) peek(sessionID string) (*cacheEntry, bool) {
	e, ok := c.entries[sessionID]
	return e, ok
}

// put inserts or replaces an entry, evicting clean entries if the insert
// pushed the cache past capacity. Returns the number of entries evicted.
func (c *sessionCache) put(sessionID string, state datatypes.Grid, puzzleID string, dirty bool) (*cacheEntry, int) {
	e, ok := c.entries[sessionID]
	if !ok {
		e = &cacheEntry{puzzleID: puzzleID}
		c.entries[sessionID] = e
	}
	c.tick++
	e.state = state
	e.lastAccess = c.tick
	if dirty {
		e.dirty = true
		e.gen++
	}

	evicted := 0
	if len(c.entries) > c.capacity {
		evicted = c.evictDown()
	}
	return e, evicted
}

// markDirty flags an existing entry as edited and bumps its generation.
func (c *sessionCache) markDirty(e *cacheEntry, state datatypes.Grid) {
	e.state = state
	e.dirty = true
	e.gen++
}

// clearDirty clears the dirty flag only if the entry's generation still
// matches gen. An edit that landed during the store write keeps the entry
// dirty so the next flush picks it up.
func (c *sessionCache) clearDirty(sessionID string, gen uint64) bool {
	e, ok := c.entries[sessionID]
	if !ok || e.gen != gen {
		return false
	}
	e.dirty = false
	return true
}

// invalidate drops an entry regardless of its dirty state. Used when the
// durable row changed underneath the cache (reconciliation, delete).
func (c *sessionCache) invalidate(sessionID string) {
	delete(c.entries, sessionID)
}

// len returns the current entry count.
func (c *sessionCache) len() int {
	return len(c.entries)
}

// dirtyCount returns the number of entries awaiting a flush.
func (c *sessionCache) dirtyCount() int {
	n := 0
	for _, e := range c.entries {
		if e.dirty {
			n++
		}
	}
	return n
}

// dirtySessionIDs returns the ids of all dirty entries.
func (c *sessionCache) dirtySessionIDs() []string {
	ids := make([]string, 0)
	for id, e := range c.entries {
		if e.dirty {
			ids = append(ids, id)
		}
	}
	return ids
}

// evictDown removes least-recently-accessed clean entries until the size
// reaches the cleanup threshold or only dirty entries remain.
func (c *sessionCache) evictDown() int {
	target := int(float64(c.capacity) * c.threshold)
	evicted := 0
	for len(c.entries) > target {
		victimID := ""
		var victimAccess uint64
		for id, e := range c.entries {
			if e.dirty {
				continue
			}
			if victimID == "" || e.lastAccess < victimAccess {
				victimID = id
				victimAccess = e.lastAccess
			}
		}
		if victimID == "" {
			break // everything left is dirty
		}
		delete(c.entries, victimID)
		evicted++
	}
	c.evictions += uint64(evicted)
	return evicted
}
