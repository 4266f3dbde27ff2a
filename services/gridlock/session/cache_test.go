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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/Gridlock/services/gridlock/datatypes"
)

func TestSessionCache_EvictionBound(t *testing.T) {
	c := newSessionCache(10, 0.9)

	for i := 0; i < 11; i++ {
		c.put(fmt.Sprintf("s%d", i), datatypes.Grid{"A"}, "p1", false)
	}

	t.Run("overflow shrinks to threshold", func(t *testing.T) {
		assert.Equal(t, 9, c.len())
	})

	t.Run("least recently accessed evicted first", func(t *testing.T) {
		_, ok := c.peek("s0")
		assert.False(t, ok, "oldest entry should be gone")
		_, ok = c.peek("s10")
		assert.True(t, ok, "newest entry should survive")
	})
}

func TestSessionCache_DirtySurvivesEviction(t *testing.T) {
	c := newSessionCache(10, 0.9)

	// Five dirty entries, oldest in LRU order.
	for i := 0; i < 5; i++ {
		c.put(fmt.Sprintf("dirty%d", i), datatypes.Grid{"A"}, "p1", true)
	}
	for i := 0; i < 6; i++ {
		c.put(fmt.Sprintf("clean%d", i), datatypes.Grid{"A"}, "p1", false)
	}

	for i := 0; i < 5; i++ {
		e, ok := c.peek(fmt.Sprintf("dirty%d", i))
		assert.True(t, ok, "dirty entry must never be evicted")
		assert.True(t, e.dirty)
	}
}

func TestSessionCache_AllDirtyExceedsCapacity(t *testing.T) {
	c := newSessionCache(5, 0.9)

	for i := 0; i < 8; i++ {
		c.put(fmt.Sprintf("s%d", i), datatypes.Grid{"A"}, "p1", true)
	}

	// Nothing evictable; the cache runs over capacity rather than losing
	// unflushed edits.
	assert.Equal(t, 8, c.len())
	assert.Equal(t, 8, c.dirtyCount())
}

func TestSessionCache_AccessRefreshesLRU(t *testing.T) {
	c := newSessionCache(10, 0.5)

	for i := 0; i < 10; i++ {
		c.put(fmt.Sprintf("s%d", i), datatypes.Grid{"A"}, "p1", false)
	}
	// Touch the oldest so it outlives the cleanup.
	_, ok := c.get("s0")
	assert.True(t, ok)

	c.put("s10", datatypes.Grid{"A"}, "p1", false)

	_, ok = c.peek("s0")
	assert.True(t, ok, "recently read entry should survive")
	_, ok = c.peek("s1")
	assert.False(t, ok)
}

func TestSessionCache_GenerationGuard(t *testing.T) {
	c := newSessionCache(10, 0.9)

	e, _ := c.put("s1", datatypes.Grid{"A "}, "p1", true)
	gen := e.gen

	t.Run("edit during flush keeps entry dirty", func(t *testing.T) {
		c.markDirty(e, datatypes.Grid{"AB"})
		assert.False(t, c.clearDirty("s1", gen))
		assert.True(t, e.dirty)
	})

	t.Run("clean flush clears dirty", func(t *testing.T) {
		assert.True(t, c.clearDirty("s1", e.gen))
		assert.False(t, e.dirty)
	})

	t.Run("unknown session is a no-op", func(t *testing.T) {
		assert.False(t, c.clearDirty("nope", 1))
	})
}
