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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/Gridlock/services/gridlock/datatypes"
)

// ErrPuzzleNotFound is returned when a puzzle id is not in the catalog.
var ErrPuzzleNotFound = errors.New("puzzle not found")

// defaultReloadDebounce coalesces bursts of filesystem events (editors often
// write a file several times in quick succession) into one reload.
const defaultReloadDebounce = 500 * time.Millisecond

// PuzzleCatalog serves read-only puzzle metadata to the session engine.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
type PuzzleCatalog interface {
	// Get returns the puzzle definition, or ErrPuzzleNotFound.
	Get(puzzleID string) (*datatypes.Puzzle, error)

	// LetterCount returns the number of playable cells, or ErrPuzzleNotFound.
	LetterCount(puzzleID string) (int, error)

	// Dimensions returns (rows, cols), or ErrPuzzleNotFound.
	Dimensions(puzzleID string) (int, int, error)

	// Len returns the number of loaded puzzles.
	Len() int
}

// FileCatalog loads puzzle definitions from *.json files in a directory and
// hot-reloads when the directory changes.
type FileCatalog struct {
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	puzzles map[string]*datatypes.Puzzle

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var _ PuzzleCatalog = (*FileCatalog)(nil)

// NewFileCatalog loads the catalog directory and starts watching it.
//
// # Description
//
// Every *.json file in the directory is parsed as one puzzle definition.
// Invalid files are logged and skipped; a bad file must not take the catalog
// down. Filesystem changes trigger a debounced full reload, so dropping a
// new puzzle file in place publishes it without a restart.
//
// # Inputs
//
//   - dir: Catalog directory. Must exist.
//   - logger: Structured logger. If nil, slog.Default() is used.
//
// # Outputs
//
//   - *FileCatalog: Running catalog. Caller must call Close() when done.
//   - error: Non-nil if the directory cannot be read or watched.
func NewFileCatalog(dir string, logger *slog.Logger) (*FileCatalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &FileCatalog{
		dir:     dir,
		logger:  logger,
		puzzles: make(map[string]*datatypes.Puzzle),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if err := c.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create catalog watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch catalog directory %s: %w", dir, err)
	}
	c.watcher = watcher
	go c.watchLoop()

	return c, nil
}

// NewStaticCatalog builds a catalog from in-memory definitions, for tests
// and embedded use. It performs no filesystem access and needs no Close.
func NewStaticCatalog(puzzles ...datatypes.Puzzle) PuzzleCatalog {
	c := &FileCatalog{
		puzzles: make(map[string]*datatypes.Puzzle, len(puzzles)),
		logger:  slog.Default(),
	}
	for i := range puzzles {
		p := puzzles[i]
		c.puzzles[p.ID] = &p
	}
	return c
}

// Close stops the directory watcher. The last loaded catalog remains
// readable.
func (c *FileCatalog) Close() error {
	if c.watcher == nil {
		return nil
	}
	close(c.stopCh)
	<-c.doneCh
	return c.watcher.Close()
}

// Get returns the puzzle definition.
func (c *FileCatalog) Get(puzzleID string) (*datatypes.Puzzle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.puzzles[puzzleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPuzzleNotFound, puzzleID)
	}
	return p, nil
}

// LetterCount returns the number of playable cells.
func (c *FileCatalog) LetterCount(puzzleID string) (int, error) {
	p, err := c.Get(puzzleID)
	if err != nil {
		return 0, err
	}
	return p.LetterCount, nil
}

// Dimensions returns (rows, cols).
func (c *FileCatalog) Dimensions(puzzleID string) (int, int, error) {
	p, err := c.Get(puzzleID)
	if err != nil {
		return 0, 0, err
	}
	return p.Rows, p.Cols, nil
}

// Len returns the number of loaded puzzles.
func (c *FileCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.puzzles)
}

// reload re-reads the whole catalog directory and swaps the map in one shot.
func (c *FileCatalog) reload() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read catalog directory %s: %w", c.dir, err)
	}

	loaded := make(map[string]*datatypes.Puzzle)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		puzzle, err := loadPuzzleFile(path)
		if err != nil {
			c.logger.Warn("puzzle catalog: skipping invalid file",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		if _, dup := loaded[puzzle.ID]; dup {
			c.logger.Warn("puzzle catalog: duplicate puzzle id, keeping first",
				slog.String("puzzle_id", puzzle.ID),
				slog.String("path", path))
			continue
		}
		loaded[puzzle.ID] = puzzle
	}

	c.mu.Lock()
	c.puzzles = loaded
	c.mu.Unlock()

	c.logger.Info("puzzle catalog: loaded",
		slog.String("dir", c.dir),
		slog.Int("puzzle_count", len(loaded)))
	return nil
}

func loadPuzzleFile(path string) (*datatypes.Puzzle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var puzzle datatypes.Puzzle
	if err := json.Unmarshal(data, &puzzle); err != nil {
		return nil, fmt.Errorf("parse puzzle file: %w", err)
	}
	if err := puzzle.Validate(); err != nil {
		return nil, err
	}
	return &puzzle, nil
}

// watchLoop debounces filesystem events into full reloads.
func (c *FileCatalog) watchLoop() {
	defer close(c.doneCh)

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-c.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
				!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(defaultReloadDebounce)
				debounceCh = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(defaultReloadDebounce)
			}

		case <-debounceCh:
			debounce = nil
			debounceCh = nil
			if err := c.reload(); err != nil {
				c.logger.Error("puzzle catalog: reload failed",
					slog.String("error", err.Error()))
			}

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("puzzle catalog: watcher error",
				slog.String("error", err.Error()))
		}
	}
}
