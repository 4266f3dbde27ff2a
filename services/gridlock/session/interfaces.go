// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session implements the collaborative solving core: the write-back
// session cache, the debounced save scheduler, first-solver-wins word
// attribution, and reconciliation of anonymous sessions into authenticated
// accounts.
//
// The Coordinator is the single entry point; handlers and the realtime hub
// never touch the cache or the store directly.
package session

import (
	"github.com/AleutianAI/Gridlock/services/gridlock/datatypes"
)

// Broadcaster fans room-scoped events out to connected clients.
//
// # Description
//
// The coordinator publishes through this interface so the solving core has
// no dependency on the websocket layer. Implementations must not block:
// broadcast happens on the request hot path, before the cache write.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
type Broadcaster interface {
	// BroadcastCellUpdate announces a single-cell edit to the session's
	// room. senderID lets clients suppress their own echo.
	BroadcastCellUpdate(sessionID string, row, col int, value, senderID string)

	// BroadcastStateReplaced announces a full-state replacement.
	BroadcastStateReplaced(sessionID string, state datatypes.Grid, senderID string)

	// BroadcastWordClaimed announces a granted attribution to the whole
	// room, the claimant included.
	BroadcastWordClaimed(sessionID, clueKey string, attribution datatypes.Attribution)
}

// NopBroadcaster discards all broadcasts. Used when the realtime hub is
// disabled and in tests.
type NopBroadcaster struct{}

var _ Broadcaster = NopBroadcaster{}

func (NopBroadcaster) BroadcastCellUpdate(string, int, int, string, string)       {}
func (NopBroadcaster) BroadcastStateReplaced(string, datatypes.Grid, string)      {}
func (NopBroadcaster) BroadcastWordClaimed(string, string, datatypes.Attribution) {}

// Event is a post-commit notification about session activity.
type Event struct {
	// Type is the event kind: "cell_committed", "state_replaced",
	// "session_completed".
	Type string

	// SessionID identifies the session the event concerns.
	SessionID string

	// PuzzleID is the puzzle the session solves.
	PuzzleID string

	// Timestamp is when the event was emitted (Unix milliseconds UTC).
	Timestamp int64
}

// Event types emitted by the coordinator.
const (
	EventCellCommitted    = "cell_committed"
	EventStateReplaced    = "state_replaced"
	EventSessionCompleted = "session_completed"
)

// Notifier receives fire-and-forget events after a write commits.
//
// # Description
//
// Publish must never block and never surface errors to the caller; delivery
// is best-effort. The notify package provides a buffered dispatcher.
type Notifier interface {
	Publish(event Event)
}

// NopNotifier discards all events.
type NopNotifier struct{}

var _ Notifier = NopNotifier{}

func (NopNotifier) Publish(Event) {}
