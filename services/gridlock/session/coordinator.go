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
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/Gridlock/services/gridlock/datatypes"
	"github.com/AleutianAI/Gridlock/services/gridlock/observability"
	"github.com/AleutianAI/Gridlock/services/gridlock/storage"
)

// ErrNoIdentity is returned when an operation requires a user or anonymous
// identity and the request carried neither.
var ErrNoIdentity = errors.New("no identity supplied")

// flushTimeout bounds the store write of a single debounced flush.
const flushTimeout = 5 * time.Second

// rowLockStripes sizes the striped mutex table that serializes durable
// read-modify-write cycles per session.
const rowLockStripes = 64

// Config holds the coordinator's construction parameters.
type Config struct {
	// Store is the durable session store. Required.
	Store storage.SessionStore

	// Catalog supplies puzzle dimensions and letter counts. Required.
	Catalog storage.PuzzleCatalog

	// Broadcaster fans events out to the realtime fabric.
	// Defaults to NopBroadcaster.
	Broadcaster Broadcaster

	// Notifier receives post-commit events. Defaults to NopNotifier.
	Notifier Notifier

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger

	// CacheCapacity is the session cache bound. Defaults to 1000.
	CacheCapacity int

	// CacheThreshold is the fraction of capacity eviction shrinks to.
	// Defaults to 0.9.
	CacheThreshold float64

	// SaveDebounce is the write-coalescing window. Defaults to 1s.
	SaveDebounce time.Duration
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = NopBroadcaster{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = defaultCacheCapacity
	}
	if cfg.CacheThreshold <= 0 || cfg.CacheThreshold > 1 {
		cfg.CacheThreshold = defaultCacheThreshold
	}
	if cfg.SaveDebounce <= 0 {
		cfg.SaveDebounce = defaultDebounce
	}
}

// Coordinator owns the session cache, the save scheduler, and the merge
// logic. It is the only writer of session state.
//
// # Description
//
// The coordinator gives collaborative solving its latency profile: edits go
// to the in-memory cache and the room broadcast immediately, while durable
// writes trail behind on a per-session debounce window. One mutex guards
// the cache so the read-modify-write of an edit is atomic; store I/O always
// happens outside the lock.
//
// # Thread Safety
//
// Safe for concurrent use.
type Coordinator struct {
	mu    sync.Mutex
	cache *sessionCache

	// rowMu serializes Get-modify-Put cycles against the store per
	// session, so a claim, a flush, and a delete for the same row
	// cannot interleave and lose each other's writes. Lock order:
	// rowMu before mu, never the reverse.
	rowMu [rowLockStripes]sync.Mutex

	sched       *saveScheduler
	store       storage.SessionStore
	catalog     storage.PuzzleCatalog
	broadcaster Broadcaster
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewCoordinator constructs a coordinator from the given configuration.
//
// # Inputs
//
//   - cfg: Construction parameters. Store and Catalog are required.
//
// # Outputs
//
//   - *Coordinator: Ready to serve. Caller must call Close() on shutdown.
//   - error: Non-nil if a required dependency is missing.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("puzzle catalog is required")
	}
	applyConfigDefaults(&cfg)

	c := &Coordinator{
		cache:       newSessionCache(cfg.CacheCapacity, cfg.CacheThreshold),
		store:       cfg.Store,
		catalog:     cfg.Catalog,
		broadcaster: cfg.Broadcaster,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger,
		now:         time.Now,
	}
	c.sched = newSaveScheduler(cfg.SaveDebounce, c.flush)
	return c, nil
}

// SetBroadcaster swaps the broadcast fabric in after construction.
//
// The hub needs the coordinator to serve join snapshots, and the
// coordinator needs the hub to publish; this breaks the construction
// cycle. Must be called before the service starts accepting traffic.
func (c *Coordinator) SetBroadcaster(b Broadcaster) {
	if b == nil {
		b = NopBroadcaster{}
	}
	c.broadcaster = b
}

func rowLockIndex(sessionID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return int(h.Sum32() % rowLockStripes)
}

// lockRow takes the stripe guarding one session's durable row. The
// returned func releases it.
func (c *Coordinator) lockRow(sessionID string) func() {
	m := &c.rowMu[rowLockIndex(sessionID)]
	m.Lock()
	return m.Unlock
}

// lockRows takes the stripes guarding two sessions' rows in stripe order,
// so concurrent two-row operations cannot deadlock.
func (c *Coordinator) lockRows(a, b string) func() {
	i, j := rowLockIndex(a), rowLockIndex(b)
	if i == j {
		m := &c.rowMu[i]
		m.Lock()
		return m.Unlock
	}
	if j < i {
		i, j = j, i
	}
	first, second := &c.rowMu[i], &c.rowMu[j]
	first.Lock()
	second.Lock()
	return func() {
		second.Unlock()
		first.Unlock()
	}
}

// Close stops the save scheduler and synchronously flushes every dirty
// entry so a clean shutdown loses no edits.
func (c *Coordinator) Close(ctx context.Context) error {
	c.sched.Stop()

	c.mu.Lock()
	ids := c.cache.dirtySessionIDs()
	c.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := c.flushSession(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// StartOrResume returns the caller's session for a puzzle, creating one if
// none exists.
//
// # Description
//
// Sessions are unique per {user, puzzle} and per {anonymousID, puzzle}. An
// authenticated identity takes precedence over an anonymous one when both
// are present. The new session starts with an empty (uninitialized) grid;
// materialization is deferred until the first edit.
//
// # Inputs
//
//   - ctx: Request context.
//   - userID: Authenticated user, 0 if anonymous.
//   - anonymousID: Anonymous client id, empty if authenticated-only.
//   - puzzleID: Puzzle to solve. Must exist in the catalog.
//
// # Outputs
//
//   - *datatypes.Session: The existing or newly created session.
//   - bool: True if a session was created.
//   - error: ErrNoIdentity, ErrPuzzleNotFound, or a store failure.
func (c *Coordinator) StartOrResume(ctx context.Context, userID int64, anonymousID, puzzleID string) (*datatypes.Session, bool, error) {
	if userID <= 0 && anonymousID == "" {
		return nil, false, ErrNoIdentity
	}
	if _, err := c.catalog.Get(puzzleID); err != nil {
		return nil, false, err
	}

	var existing *datatypes.Session
	var err error
	if userID > 0 {
		existing, err = c.store.FindByOwnerAndPuzzle(ctx, userID, puzzleID)
	} else {
		existing, err = c.store.FindByAnonAndPuzzle(ctx, anonymousID, puzzleID)
	}
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrSessionNotFound) {
		return nil, false, err
	}

	nowMs := c.now().UnixMilli()
	created := &datatypes.Session{
		SessionID:   uuid.NewString(),
		PuzzleID:    puzzleID,
		OwnerUserID: userID,
		AnonymousID: anonymousID,
		State:       datatypes.Grid{},
		CreatedAt:   nowMs,
		UpdatedAt:   nowMs,
	}
	if userID > 0 {
		// Authenticated sessions are keyed by owner alone.
		created.AnonymousID = ""
	}
	if err := c.store.Put(ctx, created); err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	c.logger.Info("coordinator: session created",
		slog.String("session_id", created.SessionID),
		slog.String("puzzle_id", puzzleID),
		slog.Int64("user_id", userID))
	return created, true, nil
}

// GetState returns the current solve grid through the cache.
//
// # Description
//
// Cache hits see in-flight edits that have not reached the store yet, which
// is what late joiners need for their snapshot. A missing session is
// reported as found=false, never as an error.
func (c *Coordinator) GetState(ctx context.Context, sessionID string) (datatypes.Grid, bool, error) {
	found, err := c.ensureLoaded(ctx, sessionID)
	if err != nil || !found {
		return nil, false, err
	}

	c.mu.Lock()
	e, ok := c.cache.get(sessionID)
	var state datatypes.Grid
	if ok {
		state = e.state.Clone()
	}
	c.mu.Unlock()

	if !ok {
		// Evicted between load and read. Treat as a miss.
		return nil, false, nil
	}
	return state, true, nil
}

// UpdateCell applies a single-cell edit.
//
// # Description
//
// The room broadcast happens FIRST, before any cache or store work, so
// collaborator latency never pays for persistence. An empty cached grid is
// lazily materialized to the puzzle's dimensions before the write. A
// missing session is a silent no-op: the broadcast has already gone to an
// empty room and there is nothing durable to corrupt.
//
// # Inputs
//
//   - ctx: Request context.
//   - sessionID: Target session.
//   - row, col: Cell position. Out-of-range positions are ignored.
//   - value: Replacement character; empty erases the cell.
//   - senderID: Connection id of the editor, for self-echo suppression.
func (c *Coordinator) UpdateCell(ctx context.Context, sessionID string, row, col int, value, senderID string) error {
	c.broadcaster.BroadcastCellUpdate(sessionID, row, col, value, senderID)
	if m := observability.DefaultMetrics; m != nil {
		m.BroadcastsTotal.WithLabelValues("cell_updated").Inc()
	}

	found, err := c.ensureLoaded(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		c.logger.Debug("coordinator: cell update for unknown session",
			slog.String("session_id", sessionID))
		return nil
	}

	c.mu.Lock()
	e, ok := c.cache.get(sessionID)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	state := e.state
	if state.IsEmpty() {
		rows, cols, derr := c.catalog.Dimensions(e.puzzleID)
		if derr != nil {
			c.mu.Unlock()
			c.logger.Warn("coordinator: cannot materialize grid, puzzle unknown",
				slog.String("session_id", sessionID),
				slog.String("puzzle_id", e.puzzleID))
			return nil
		}
		state = datatypes.NewGrid(rows, cols)
	}
	state = state.WithCell(row, col, value)
	c.cache.markDirty(e, state)
	dirty := c.cache.dirtyCount()
	puzzleID := e.puzzleID
	c.mu.Unlock()

	c.scheduleSave(sessionID)
	if m := observability.DefaultMetrics; m != nil {
		m.DirtyPending.Set(float64(dirty))
	}
	c.notifier.Publish(Event{
		Type:      EventCellCommitted,
		SessionID: sessionID,
		PuzzleID:  puzzleID,
		Timestamp: c.now().UnixMilli(),
	})
	return nil
}

// ReplaceState replaces the whole solve grid.
//
// # Description
//
// The incoming grid is broadcast verbatim and cached verbatim; shape
// normalization happens at the store boundary, not here. Unlike UpdateCell
// a missing session is an error, so the HTTP handler can 404.
func (c *Coordinator) ReplaceState(ctx context.Context, sessionID string, state datatypes.Grid, senderID string) error {
	c.broadcaster.BroadcastStateReplaced(sessionID, state, senderID)
	if m := observability.DefaultMetrics; m != nil {
		m.BroadcastsTotal.WithLabelValues("state_replaced").Inc()
	}

	found, err := c.ensureLoaded(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return storage.ErrSessionNotFound
	}

	c.mu.Lock()
	e, ok := c.cache.get(sessionID)
	if !ok {
		c.mu.Unlock()
		return storage.ErrSessionNotFound
	}
	c.cache.markDirty(e, state.Clone())
	dirty := c.cache.dirtyCount()
	puzzleID := e.puzzleID
	c.mu.Unlock()

	c.scheduleSave(sessionID)
	if m := observability.DefaultMetrics; m != nil {
		m.DirtyPending.Set(float64(dirty))
	}
	c.notifier.Publish(Event{
		Type:      EventStateReplaced,
		SessionID: sessionID,
		PuzzleID:  puzzleID,
		Timestamp: c.now().UnixMilli(),
	})
	return nil
}

// ClaimWord records first-solver credit for a clue.
//
// # Description
//
// First write wins: a clue that already has an attribution is never
// overwritten and the duplicate claim reports false. The row lock makes
// that hold under concurrency; the loser of a claim race reads the
// winner's attribution, not the pre-claim record. Granted claims are
// persisted immediately, bypassing the debounce window, because attribution
// is the one piece of state users notice losing. The grant is broadcast to
// the whole room, claimant included.
//
// # Outputs
//
//   - bool: True if this call recorded the attribution.
//   - error: Non-nil only on store failure. A missing session is false, nil.
func (c *Coordinator) ClaimWord(ctx context.Context, sessionID, clueKey, solverID, solverName string) (bool, error) {
	unlock := c.lockRow(sessionID)
	defer unlock()

	sess, err := c.store.Get(ctx, sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		if m := observability.DefaultMetrics; m != nil {
			m.WordClaimsTotal.WithLabelValues("rejected").Inc()
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, taken := sess.Attributions[clueKey]; taken {
		if m := observability.DefaultMetrics; m != nil {
			m.WordClaimsTotal.WithLabelValues("duplicate").Inc()
		}
		return false, nil
	}

	attr := datatypes.Attribution{
		SolverID:   solverID,
		SolverName: solverName,
		Timestamp:  c.now().UnixMilli(),
	}
	if sess.Attributions == nil {
		sess.Attributions = make(map[string]datatypes.Attribution)
	}
	sess.Attributions[clueKey] = attr

	// Fold in unflushed edits so the immediate write doesn't roll the
	// stored grid backwards.
	c.mu.Lock()
	if e, ok := c.cache.peek(sessionID); ok && e.dirty {
		sess.State = e.state.Clone()
	}
	c.mu.Unlock()
	if complete, ok := c.completeFor(sess.State, sess.PuzzleID); ok {
		sess.IsComplete = complete
	}
	sess.UpdatedAt = attr.Timestamp

	if err := c.store.Put(ctx, sess); err != nil {
		return false, fmt.Errorf("persist word claim: %w", err)
	}

	c.broadcaster.BroadcastWordClaimed(sessionID, clueKey, attr)
	if m := observability.DefaultMetrics; m != nil {
		m.WordClaimsTotal.WithLabelValues("granted").Inc()
		m.BroadcastsTotal.WithLabelValues("word_claimed").Inc()
	}
	return true, nil
}

// Delete removes a session: pending save cancelled, cache entry dropped,
// durable row deleted.
func (c *Coordinator) Delete(ctx context.Context, sessionID string) error {
	c.sched.Cancel(sessionID)

	// Hold the row lock so a flush already past its cache snapshot
	// finishes its write first instead of resurrecting the row after
	// the delete.
	unlock := c.lockRow(sessionID)
	defer unlock()

	c.mu.Lock()
	c.cache.invalidate(sessionID)
	c.mu.Unlock()

	return c.store.Delete(ctx, sessionID)
}

// List returns state-free summaries of all stored sessions.
func (c *Coordinator) List(ctx context.Context) ([]datatypes.SessionSummary, error) {
	return c.store.ListSummaries(ctx)
}

// Attributions returns the session's attribution map from the store.
// Used by the join snapshot.
func (c *Coordinator) Attributions(ctx context.Context, sessionID string) (map[string]datatypes.Attribution, error) {
	sess, err := c.store.Get(ctx, sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess.Attributions, nil
}

// FlushPending reports whether a debounced save is armed. Exposed for the
// admin surface and tests.
func (c *Coordinator) FlushPending(sessionID string) bool {
	return c.sched.Pending(sessionID)
}

// ensureLoaded guarantees a cache entry for the session, reading through to
// the store on a miss. Returns false when the session does not exist.
func (c *Coordinator) ensureLoaded(ctx context.Context, sessionID string) (bool, error) {
	c.mu.Lock()
	_, hit := c.cache.get(sessionID)
	c.mu.Unlock()
	if hit {
		if m := observability.DefaultMetrics; m != nil {
			m.CacheOpsTotal.WithLabelValues("hit").Inc()
		}
		return true, nil
	}
	if m := observability.DefaultMetrics; m != nil {
		m.CacheOpsTotal.WithLabelValues("miss").Inc()
	}

	sess, err := c.store.Get(ctx, sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	state := sess.State
	if !state.IsEmpty() {
		if rows, cols, derr := c.catalog.Dimensions(sess.PuzzleID); derr == nil {
			state = state.Normalize(rows, cols)
		}
	}

	c.mu.Lock()
	evicted := 0
	// A concurrent edit may have populated the entry while we were at the
	// store; its state is newer, keep it.
	if _, ok := c.cache.peek(sessionID); !ok {
		_, evicted = c.cache.put(sessionID, state, sess.PuzzleID, false)
	}
	size := c.cache.len()
	c.mu.Unlock()

	if m := observability.DefaultMetrics; m != nil {
		if evicted > 0 {
			m.CacheEvictionsTotal.Add(float64(evicted))
		}
		m.CacheSize.Set(float64(size))
	}
	return true, nil
}

func (c *Coordinator) scheduleSave(sessionID string) {
	if !c.sched.Schedule(sessionID) {
		if m := observability.DefaultMetrics; m != nil {
			m.SavesCoalescedTotal.Inc()
		}
	}
}

// flush is the scheduler callback for an expired debounce window.
func (c *Coordinator) flush(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := c.flushSession(ctx, sessionID); err != nil {
		c.logger.Error("coordinator: flush failed, entry stays dirty",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}

// flushSession writes one dirty entry through to the store.
//
// # Description
//
// The row lock serializes the Get-Put round trip against claims, merges
// and deletes for the same session, so the flush only ever rewrites
// state, updatedAt and isComplete on a fresh copy of the row. The state
// snapshot and generation are captured under the cache lock, the store
// round trip happens outside it, and dirty is cleared only if the
// generation is unchanged. An edit that landed mid-write keeps the entry
// dirty for the next window. On write failure the entry also stays dirty;
// there is no retry loop, the next edit's flush carries the state forward.
func (c *Coordinator) flushSession(ctx context.Context, sessionID string) error {
	unlock := c.lockRow(sessionID)
	defer unlock()

	c.mu.Lock()
	e, ok := c.cache.peek(sessionID)
	if !ok || !e.dirty {
		c.mu.Unlock()
		if m := observability.DefaultMetrics; m != nil {
			m.SavesTotal.WithLabelValues("skipped").Inc()
		}
		return nil
	}
	state := e.state
	gen := e.gen
	puzzleID := e.puzzleID
	c.mu.Unlock()

	sess, err := c.store.Get(ctx, sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		// Row deleted while edits were pending. Drop them.
		c.mu.Lock()
		c.cache.invalidate(sessionID)
		c.mu.Unlock()
		c.logger.Warn("coordinator: dropping edits for deleted session",
			slog.String("session_id", sessionID))
		if m := observability.DefaultMetrics; m != nil {
			m.SavesTotal.WithLabelValues("skipped").Inc()
		}
		return nil
	}
	if err != nil {
		if m := observability.DefaultMetrics; m != nil {
			m.SavesTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	wasComplete := sess.IsComplete
	sess.State = state
	sess.UpdatedAt = c.now().UnixMilli()
	if complete, cok := c.completeFor(state, puzzleID); cok {
		sess.IsComplete = complete
	}

	if err := c.store.Put(ctx, sess); err != nil {
		if m := observability.DefaultMetrics; m != nil {
			m.SavesTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	c.mu.Lock()
	cleared := c.cache.clearDirty(sessionID, gen)
	dirty := c.cache.dirtyCount()
	c.mu.Unlock()
	if !cleared {
		// An edit landed during the store write. Its own schedule call
		// normally re-arms the timer; this covers the narrow gap.
		c.sched.Schedule(sessionID)
	}

	if m := observability.DefaultMetrics; m != nil {
		m.SavesTotal.WithLabelValues("success").Inc()
		m.DirtyPending.Set(float64(dirty))
	}
	if !wasComplete && sess.IsComplete {
		c.notifier.Publish(Event{
			Type:      EventSessionCompleted,
			SessionID: sessionID,
			PuzzleID:  puzzleID,
			Timestamp: sess.UpdatedAt,
		})
	}
	return nil
}

// completeFor derives the completion flag. ok is false when the puzzle is
// not in the catalog, in which case the stored flag is left alone.
func (c *Coordinator) completeFor(state datatypes.Grid, puzzleID string) (bool, bool) {
	letters, err := c.catalog.LetterCount(puzzleID)
	if err != nil {
		return false, false
	}
	if letters <= 0 {
		return false, false
	}
	return state.FilledCount() >= letters, true
}
