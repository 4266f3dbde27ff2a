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
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/Gridlock/services/gridlock/datatypes"
	"github.com/AleutianAI/Gridlock/services/gridlock/observability"
	"github.com/AleutianAI/Gridlock/services/gridlock/storage"
)

// claimOutcome classifies what happened to one reconciliation candidate.
type claimOutcome string

const (
	claimReassigned claimOutcome = "reassigned"
	claimMerged     claimOutcome = "merged"
	claimSkipped    claimOutcome = "skipped"
)

// Claim reconciles anonymous sessions into an authenticated account.
//
// # Description
//
// Called when a user signs in and presents the anonymous session ids their
// browser accumulated. Each candidate is processed independently: a failure
// on one is logged and excluded from the count while the batch continues.
// Re-invoking with the same ids is safe; already-claimed sessions are
// skipped.
//
// Per candidate:
//   - Missing or already-owned sessions are skipped.
//   - If the user has no session for the puzzle, ownership is reassigned
//     in place and the cache entry invalidated.
//   - If the user already has a session for the puzzle, the grids are
//     merged cell by cell (anonymous non-blank wins), completion is
//     recomputed, the merge is persisted onto the user's session, both
//     cache entries are invalidated, the absorbed session's pending save
//     is cancelled, and the anonymous row is deleted.
//
// # Inputs
//
//   - ctx: Request context.
//   - userID: Authenticated user taking ownership. Must be positive.
//   - sessionIDs: Candidate anonymous session ids.
//
// # Outputs
//
//   - int: Number of sessions reassigned or merged.
//   - error: Non-nil only for invalid input; per-candidate failures are
//     logged, not returned.
func (c *Coordinator) Claim(ctx context.Context, userID int64, sessionIDs []string) (int, error) {
	if userID <= 0 {
		return 0, errors.New("user id must be positive")
	}

	count := 0
	for _, sessionID := range sessionIDs {
		outcome, err := c.claimOne(ctx, userID, sessionID)
		if err != nil {
			c.logger.Warn("reconcile: claim failed for session",
				slog.String("session_id", sessionID),
				slog.Int64("user_id", userID),
				slog.String("error", err.Error()))
			if m := observability.DefaultMetrics; m != nil {
				m.MergesTotal.WithLabelValues("error").Inc()
			}
			continue
		}
		if m := observability.DefaultMetrics; m != nil {
			m.MergesTotal.WithLabelValues(string(outcome)).Inc()
		}
		if outcome != claimSkipped {
			count++
		}
	}
	return count, nil
}

func (c *Coordinator) claimOne(ctx context.Context, userID int64, sessionID string) (claimOutcome, error) {
	unlock := c.lockRow(sessionID)

	anon, err := c.store.Get(ctx, sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		unlock()
		return claimSkipped, nil
	}
	if err != nil {
		unlock()
		return claimSkipped, err
	}
	if anon.Owned() {
		unlock()
		return claimSkipped, nil
	}

	existing, err := c.store.FindByOwnerAndPuzzle(ctx, userID, anon.PuzzleID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		defer unlock()
		return c.reassign(ctx, userID, anon)
	}
	if err != nil {
		unlock()
		return claimSkipped, err
	}
	if existing.SessionID == anon.SessionID {
		unlock()
		return claimSkipped, nil
	}

	// The merge rewrites the user's row too, so both rows must be held.
	// Release the single lock and retake the pair in stripe order, then
	// re-read both rows: either may have changed in the gap.
	existingID := existing.SessionID
	unlock()
	unlock = c.lockRows(sessionID, existingID)
	defer unlock()

	anon, err = c.store.Get(ctx, sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return claimSkipped, nil
	}
	if err != nil {
		return claimSkipped, err
	}
	if anon.Owned() {
		return claimSkipped, nil
	}
	existing, err = c.store.Get(ctx, existingID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		// The user's session vanished mid-claim; the next invocation
		// reassigns this one instead.
		return claimSkipped, nil
	}
	if err != nil {
		return claimSkipped, err
	}
	return c.merge(ctx, anon, existing)
}

// reassign transfers ownership of an unowned session in place.
func (c *Coordinator) reassign(ctx context.Context, userID int64, anon *datatypes.Session) (claimOutcome, error) {
	c.sched.Cancel(anon.SessionID)

	anon.OwnerUserID = userID
	anon.UpdatedAt = c.now().UnixMilli()
	if err := c.store.Put(ctx, anon); err != nil {
		return claimSkipped, fmt.Errorf("reassign: %w", err)
	}

	c.mu.Lock()
	c.cache.invalidate(anon.SessionID)
	c.mu.Unlock()

	c.logger.Info("reconcile: session reassigned",
		slog.String("session_id", anon.SessionID),
		slog.String("puzzle_id", anon.PuzzleID),
		slog.Int64("user_id", userID))
	return claimReassigned, nil
}

// merge folds an anonymous session into the user's existing session for
// the same puzzle and deletes the anonymous row.
func (c *Coordinator) merge(ctx context.Context, anon, existing *datatypes.Session) (claimOutcome, error) {
	existing.State = mergeGrids(anon.State, existing.State)
	if complete, ok := c.completeFor(existing.State, existing.PuzzleID); ok {
		existing.IsComplete = complete
	}
	// Attributions earned anonymously come along; first write still wins
	// where both sessions credited the same clue.
	for key, attr := range anon.Attributions {
		if _, taken := existing.Attributions[key]; taken {
			continue
		}
		if existing.Attributions == nil {
			existing.Attributions = make(map[string]datatypes.Attribution)
		}
		existing.Attributions[key] = attr
	}
	existing.UpdatedAt = c.now().UnixMilli()

	if err := c.store.Put(ctx, existing); err != nil {
		return claimSkipped, fmt.Errorf("persist merge: %w", err)
	}

	c.sched.Cancel(anon.SessionID)
	c.mu.Lock()
	c.cache.invalidate(anon.SessionID)
	c.cache.invalidate(existing.SessionID)
	c.mu.Unlock()

	if err := c.store.Delete(ctx, anon.SessionID); err != nil {
		// Merge already persisted; the orphaned row is retried by the
		// next claim invocation and merges idempotently.
		return claimSkipped, fmt.Errorf("delete absorbed session: %w", err)
	}

	c.logger.Info("reconcile: sessions merged",
		slog.String("absorbed_session_id", anon.SessionID),
		slog.String("session_id", existing.SessionID),
		slog.String("puzzle_id", existing.PuzzleID))
	return claimMerged, nil
}

// mergeGrids combines two solve grids cell by cell.
//
// # Description
//
// The anonymous grid's non-blank cells win every conflict: it holds the
// work done most recently, on the device the user just signed in from.
// Grids of different shapes are compared over the union of their bounds,
// blank-padding the shorter side. If the user grid is empty the anonymous
// grid is adopted wholesale.
func mergeGrids(anon, user datatypes.Grid) datatypes.Grid {
	if user.IsEmpty() {
		return anon.Clone()
	}
	if anon.IsEmpty() {
		return user.Clone()
	}

	rows := len(user)
	if len(anon) > rows {
		rows = len(anon)
	}
	out := make(datatypes.Grid, rows)
	for i := 0; i < rows; i++ {
		var anonRow, userRow string
		if i < len(anon) {
			anonRow = anon[i]
		}
		if i < len(user) {
			userRow = user[i]
		}
		width := len(userRow)
		if len(anonRow) > width {
			width = len(anonRow)
		}
		merged := make([]byte, width)
		for j := 0; j < width; j++ {
			ch := byte(datatypes.Blank)
			if j < len(userRow) {
				ch = userRow[j]
			}
			if j < len(anonRow) && anonRow[j] != datatypes.Blank {
				ch = anonRow[j]
			}
			merged[j] = ch
		}
		out[i] = string(merged)
	}
	return out
}
