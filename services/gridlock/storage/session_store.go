// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/Gridlock/services/gridlock/datatypes"
)

// ErrSessionNotFound is returned when a session lookup misses.
//
// Lookup misses are an expected condition, not a failure: handlers map this
// to a null/404 response and the reconciliation engine treats it as "nothing
// to merge".
var ErrSessionNotFound = errors.New("session not found")

// sessionSchemaVersion is the current record format.
//
// Version history:
//   - 0 (implicit, no field): state stored as one newline-joined string.
//   - 1: state stored as a JSON array of row strings.
const sessionSchemaVersion = 1

// Key layout:
//
//	session/<sessionID>            -> sessionRecord JSON
//	owner/<userID>/<puzzleID>      -> sessionID
//	anon/<anonymousID>/<puzzleID>  -> sessionID
//
// The index keys make the one-session-per-identity-per-puzzle lookups O(1)
// instead of a full prefix scan.
const (
	sessionKeyPrefix = "session/"
	ownerKeyPrefix   = "owner/"
	anonKeyPrefix    = "anon/"
)

func sessionKey(sessionID string) []byte {
	return []byte(sessionKeyPrefix + sessionID)
}

func ownerKey(userID int64, puzzleID string) []byte {
	return []byte(fmt.Sprintf("%s%d/%s", ownerKeyPrefix, userID, puzzleID))
}

func anonKey(anonymousID, puzzleID string) []byte {
	return []byte(anonKeyPrefix + anonymousID + "/" + puzzleID)
}

// sessionRecord is the on-disk form of a session.
//
// State is held as raw JSON so older records (schema version 0, where state
// was a single newline-joined string) can be migrated on read instead of
// requiring an offline rewrite.
type sessionRecord struct {
	SchemaVersion int                              `json:"schema_version"`
	SessionID     string                           `json:"session_id"`
	PuzzleID      string                           `json:"puzzle_id"`
	OwnerUserID   int64                            `json:"owner_user_id,omitempty"`
	AnonymousID   string                           `json:"anonymous_id,omitempty"`
	State         json.RawMessage                  `json:"state,omitempty"`
	IsComplete    bool                             `json:"is_complete"`
	Attributions  map[string]datatypes.Attribution `json:"attributions,omitempty"`
	CreatedAt     int64                            `json:"created_at"`
	UpdatedAt     int64                            `json:"updated_at"`
}

// SessionStore is the durable home for sessions.
//
// # Description
//
// The store is the source of truth the write-back cache flushes into. It is
// deliberately dumb: no debouncing, no merging, no completion logic. Callers
// hand it fully formed sessions.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
type SessionStore interface {
	// Get loads a session by id. Returns ErrSessionNotFound on a miss.
	Get(ctx context.Context, sessionID string) (*datatypes.Session, error)

	// Put writes the full session record and maintains the identity indexes.
	Put(ctx context.Context, session *datatypes.Session) error

	// Delete removes a session and its index entries. Deleting a missing
	// session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// FindByOwnerAndPuzzle returns the authenticated user's session for a
	// puzzle. Returns ErrSessionNotFound when none exists.
	FindByOwnerAndPuzzle(ctx context.Context, userID int64, puzzleID string) (*datatypes.Session, error)

	// FindByAnonAndPuzzle returns the anonymous client's session for a
	// puzzle. Returns ErrSessionNotFound when none exists.
	FindByAnonAndPuzzle(ctx context.Context, anonymousID, puzzleID string) (*datatypes.Session, error)

	// ListSummaries returns state-free summaries of every stored session.
	ListSummaries(ctx context.Context) ([]datatypes.SessionSummary, error)
}

// badgerSessionStore implements SessionStore on the embedded database.
type badgerSessionStore struct {
	db     *DB
	logger *slog.Logger
}

var _ SessionStore = (*badgerSessionStore)(nil)

// NewSessionStore creates a SessionStore backed by the given database.
//
// # Inputs
//
//   - db: Open database. Caller retains ownership of its lifecycle.
//   - logger: Structured logger. If nil, slog.Default() is used.
func NewSessionStore(db *DB, logger *slog.Logger) SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &badgerSessionStore{db: db, logger: logger}
}

// Get loads a session by id.
func (s *badgerSessionStore) Get(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	var session *datatypes.Session
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get session %s: %w", sessionID, err)
		}
		return item.Value(func(val []byte) error {
			session, err = s.decodeRecord(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Put writes a session and its identity index entries.
//
// # Description
//
// The session key and both index keys are written in one transaction, so a
// crash never leaves an index pointing at a missing session. Stale index
// entries from a previous owner are not cleaned here; claims go through
// Delete of the anonymous session, which removes its indexes.
func (s *badgerSessionStore) Put(ctx context.Context, session *datatypes.Session) error {
	if session.SessionID == "" {
		return errors.New("session id must not be empty")
	}

	data, err := encodeRecord(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.SessionID, err)
	}

	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(sessionKey(session.SessionID), data); err != nil {
			return fmt.Errorf("put session %s: %w", session.SessionID, err)
		}
		id := []byte(session.SessionID)
		if session.OwnerUserID > 0 {
			if err := txn.Set(ownerKey(session.OwnerUserID, session.PuzzleID), id); err != nil {
				return fmt.Errorf("put owner index for %s: %w", session.SessionID, err)
			}
		}
		if session.AnonymousID != "" {
			if err := txn.Set(anonKey(session.AnonymousID, session.PuzzleID), id); err != nil {
				return fmt.Errorf("put anon index for %s: %w", session.SessionID, err)
			}
		}
		return nil
	})
}

// Delete removes a session and its index entries.
func (s *badgerSessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get session %s for delete: %w", sessionID, err)
		}

		var session *datatypes.Session
		err = item.Value(func(val []byte) error {
			session, err = s.decodeRecord(val)
			return err
		})
		if err != nil {
			// Undecodable record: still remove the primary key.
			s.logger.Warn("session store: deleting undecodable record",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
			return txn.Delete(sessionKey(sessionID))
		}

		if err := txn.Delete(sessionKey(sessionID)); err != nil {
			return fmt.Errorf("delete session %s: %w", sessionID, err)
		}
		if session.OwnerUserID > 0 {
			if err := txn.Delete(ownerKey(session.OwnerUserID, session.PuzzleID)); err != nil {
				return fmt.Errorf("delete owner index for %s: %w", sessionID, err)
			}
		}
		if session.AnonymousID != "" {
			if err := txn.Delete(anonKey(session.AnonymousID, session.PuzzleID)); err != nil {
				return fmt.Errorf("delete anon index for %s: %w", sessionID, err)
			}
		}
		return nil
	})
}

// FindByOwnerAndPuzzle returns the authenticated user's session for a puzzle.
func (s *badgerSessionStore) FindByOwnerAndPuzzle(ctx context.Context, userID int64, puzzleID string) (*datatypes.Session, error) {
	return s.findByIndex(ctx, ownerKey(userID, puzzleID))
}

// FindByAnonAndPuzzle returns the anonymous client's session for a puzzle.
func (s *badgerSessionStore) FindByAnonAndPuzzle(ctx context.Context, anonymousID, puzzleID string) (*datatypes.Session, error) {
	if anonymousID == "" {
		return nil, ErrSessionNotFound
	}
	return s.findByIndex(ctx, anonKey(anonymousID, puzzleID))
}

func (s *badgerSessionStore) findByIndex(ctx context.Context, indexKey []byte) (*datatypes.Session, error) {
	var session *datatypes.Session
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get index %s: %w", indexKey, err)
		}

		var sessionID string
		if err := item.Value(func(val []byte) error {
			sessionID = string(val)
			return nil
		}); err != nil {
			return err
		}

		sessionItem, err := txn.Get(sessionKey(sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			// Dangling index. Treat as a miss; the next Put repairs it.
			s.logger.Warn("session store: dangling index entry",
				slog.String("index_key", string(indexKey)),
				slog.String("session_id", sessionID))
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get session %s via index: %w", sessionID, err)
		}
		return sessionItem.Value(func(val []byte) error {
			session, err = s.decodeRecord(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSummaries returns summaries of every stored session.
func (s *badgerSessionStore) ListSummaries(ctx context.Context) ([]datatypes.SessionSummary, error) {
	summaries := make([]datatypes.SessionSummary, 0)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				session, err := s.decodeRecord(val)
				if err != nil {
					// One bad record must not poison the listing.
					s.logger.Warn("session store: skipping undecodable record in listing",
						slog.String("key", string(it.Item().Key())),
						slog.String("error", err.Error()))
					return nil
				}
				summaries = append(summaries, session.Summary())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// encodeRecord converts a session to its current on-disk form.
func encodeRecord(session *datatypes.Session) ([]byte, error) {
	var state json.RawMessage
	if !session.State.IsEmpty() {
		data, err := json.Marshal(session.State)
		if err != nil {
			return nil, err
		}
		state = data
	}
	return json.Marshal(sessionRecord{
		SchemaVersion: sessionSchemaVersion,
		SessionID:     session.SessionID,
		PuzzleID:      session.PuzzleID,
		OwnerUserID:   session.OwnerUserID,
		AnonymousID:   session.AnonymousID,
		State:         state,
		IsComplete:    session.IsComplete,
		Attributions:  session.Attributions,
		CreatedAt:     session.CreatedAt,
		UpdatedAt:     session.UpdatedAt,
	})
}

// decodeRecord converts an on-disk record back to a session, migrating
// legacy state formats.
//
// # Description
//
// Schema version 1 stores state as a JSON array of rows. Version 0 records
// (written before the field existed) stored it as one newline-joined string.
// State that decodes as neither is logged and replaced with an empty grid;
// corrupt state must degrade to "start over", never to a failed load.
func (s *badgerSessionStore) decodeRecord(data []byte) (*datatypes.Session, error) {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}
	if rec.SessionID == "" {
		return nil, errors.New("session record missing session_id")
	}

	session := &datatypes.Session{
		SessionID:    rec.SessionID,
		PuzzleID:     rec.PuzzleID,
		OwnerUserID:  rec.OwnerUserID,
		AnonymousID:  rec.AnonymousID,
		IsComplete:   rec.IsComplete,
		Attributions: rec.Attributions,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	session.State = s.decodeState(rec.SessionID, rec.State)
	return session, nil
}

func (s *badgerSessionStore) decodeState(sessionID string, raw json.RawMessage) datatypes.Grid {
	if len(raw) == 0 {
		return datatypes.Grid{}
	}

	var rows []string
	if err := json.Unmarshal(raw, &rows); err == nil {
		return datatypes.Grid(rows)
	}

	// Legacy (version 0): one newline-joined string.
	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		if joined == "" {
			return datatypes.Grid{}
		}
		return datatypes.Grid(strings.Split(joined, "\n"))
	}

	s.logger.Warn("session store: malformed state, resetting to empty grid",
		slog.String("session_id", sessionID))
	return datatypes.Grid{}
}
