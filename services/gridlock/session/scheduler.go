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
	"sync"
	"time"
)

// defaultDebounce is how long the scheduler waits after the first edit
// before flushing. Keystrokes inside the window coalesce into one durable
// write of the latest state.
const defaultDebounce = 1000 * time.Millisecond

// saveScheduler debounces durable writes, one timer per session.
//
// # Description
//
// Schedule arms a timer for the session unless one is already armed; the
// duplicate call is a no-op, which is what coalesces a burst of edits into
// a single flush. When the timer fires it is removed from the table BEFORE
// the flush callback runs, so an edit arriving mid-flush arms a fresh
// window instead of being silently absorbed into a write that has already
// captured its snapshot.
//
// # Thread Safety
//
// Safe for concurrent use. The timer table has its own lock; flush
// callbacks run on timer goroutines without it held.
type saveScheduler struct {
	mu       sync.Mutex
	timers   map[string]*time.Timer
	debounce time.Duration
	flush    func(sessionID string)
	stopped  bool

	// coalesced counts Schedule calls absorbed by an armed timer.
	coalesced uint64
}

func newSaveScheduler(debounce time.Duration, flush func(sessionID string)) *saveScheduler {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &saveScheduler{
		timers:   make(map[string]*time.Timer),
		debounce: debounce,
		flush:    flush,
	}
}

// Schedule arms the session's debounce timer. Returns false if a timer was
// already armed (the call coalesced into the pending flush).
func (s *saveScheduler) Schedule(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, armed := s.timers[sessionID]; armed {
		s.coalesced++
		return false
	}
	s.timers[sessionID] = time.AfterFunc(s.debounce, func() {
		s.fire(sessionID)
	})
	return true
}

// Cancel disarms a pending timer, if any. Used by delete and by the
// reconciliation path when an anonymous session is absorbed.
func (s *saveScheduler) Cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
		delete(s.timers, sessionID)
	}
}

// Pending reports whether a timer is armed for the session.
func (s *saveScheduler) Pending(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, armed := s.timers[sessionID]
	return armed
}

// Stop disarms all timers and rejects further scheduling. In-flight flush
// callbacks may still be running when Stop returns; the coordinator's
// final flush pass makes their work redundant, not lost.
func (s *saveScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *saveScheduler) fire(sessionID string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, sessionID)
	s.mu.Unlock()

	s.flush(sessionID)
}
