// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "fmt"

// Attribution records first-solver credit for one clue.
//
// # Description
//
// Attributions are append-only: once a clue key has an entry, it is never
// overwritten, not even by the original claimant. Timestamps are Unix
// milliseconds UTC.
type Attribution struct {
	// SolverID identifies the solver. Empty for anonymous participants
	// that never supplied an identity.
	SolverID string `json:"solver_id,omitempty"`

	// SolverName is the display name the solver claimed the word under.
	SolverName string `json:"solver_name"`

	// Timestamp is when the claim was recorded (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp"`
}

// ClueKey builds the attribution map key for a clue.
//
// Keys take the form "<number>-<direction>", e.g. "14-across".
func ClueKey(number int, direction string) string {
	return fmt.Sprintf("%d-%s", number, direction)
}

// Session is one party's attempt at solving one puzzle.
//
// # Description
//
// A session is owned either by an authenticated user (OwnerUserID > 0) or
// by an anonymous client (AnonymousID set). A session may retain a stale
// AnonymousID after being claimed; OwnerUserID wins whenever it is set.
//
// State is the solve grid; an empty grid means the session has not been
// initialized yet. IsComplete is derived (filled cells >= puzzle letter
// count) and recomputed on every durable flush, not on every in-memory
// mutation.
//
// # Fields
//
//   - SessionID: Opaque random identifier, immutable after creation.
//   - PuzzleID: The puzzle this session solves. Read-only here.
//   - OwnerUserID: Authenticated owner, 0 when unowned.
//   - AnonymousID: Anonymous owner, may go stale after a claim.
//   - State: The solve grid.
//   - IsComplete: Derived completion flag.
//   - Attributions: Append-only clue key -> first solver map.
//   - CreatedAt, UpdatedAt: Unix milliseconds UTC. UpdatedAt bumps on
//     every durable flush.
type Session struct {
	SessionID    string                 `json:"session_id"`
	PuzzleID     string                 `json:"puzzle_id"`
	OwnerUserID  int64                  `json:"owner_user_id,omitempty"`
	AnonymousID  string                 `json:"anonymous_id,omitempty"`
	State        Grid                   `json:"state,omitempty"`
	IsComplete   bool                   `json:"is_complete"`
	Attributions map[string]Attribution `json:"attributions,omitempty"`
	CreatedAt    int64                  `json:"created_at"`
	UpdatedAt    int64                  `json:"updated_at"`
}

// Owned reports whether an authenticated user owns this session.
func (s *Session) Owned() bool {
	return s.OwnerUserID > 0
}

// Summary returns the admin-facing view of the session, excluding raw
// state for bandwidth.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		SessionID:   s.SessionID,
		PuzzleID:    s.PuzzleID,
		OwnerUserID: s.OwnerUserID,
		AnonymousID: s.AnonymousID,
		IsComplete:  s.IsComplete,
		FilledCells: s.State.FilledCount(),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// SessionSummary is the state-free projection of a Session used by the
// admin listing endpoint.
type SessionSummary struct {
	SessionID   string `json:"session_id"`
	PuzzleID    string `json:"puzzle_id"`
	OwnerUserID int64  `json:"owner_user_id,omitempty"`
	AnonymousID string `json:"anonymous_id,omitempty"`
	IsComplete  bool   `json:"is_complete"`
	FilledCells int    `json:"filled_cells"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}
