// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the core data model for the Gridlock session
// engine: solve grids, sessions, word attributions, and puzzle metadata.
//
// Types in this package are pure data. All behavior beyond normalization
// lives in the session, storage, and realtime packages.
package datatypes

import "strings"

// Blank is the character representing an unfilled playable cell.
const Blank = ' '

// Grid is a puzzle's solve state: an ordered list of equal-width rows over
// the alphabet {A-Z, space}.
//
// # Description
//
// A Grid is either empty (nil or zero-length, meaning "not yet initialized")
// or fully materialized to the puzzle's dimensions. It is never sparse and
// rows are never partial-width once initialized. Callers that mutate a Grid
// must work on a copy obtained via Clone; Grids held by the session cache
// are treated as immutable snapshots.
//
// # Thread Safety
//
// Grid is a value type with no internal synchronization. Concurrent use
// requires external coordination (the session cache provides it).
type Grid []string

// NewGrid returns a blank grid of the given dimensions, every cell a space.
//
// # Inputs
//
//   - rows: Number of rows. Non-positive yields an empty grid.
//   - cols: Number of columns. Non-positive yields an empty grid.
//
// # Outputs
//
//   - Grid: Fully materialized blank grid.
func NewGrid(rows, cols int) Grid {
	if rows <= 0 || cols <= 0 {
		return Grid{}
	}
	blank := strings.Repeat(string(Blank), cols)
	g := make(Grid, rows)
	for i := range g {
		g[i] = blank
	}
	return g
}

// IsEmpty reports whether the grid is uninitialized.
func (g Grid) IsEmpty() bool {
	return len(g) == 0
}

// Clone returns an independent copy of the grid.
func (g Grid) Clone() Grid {
	if g == nil {
		return nil
	}
	out := make(Grid, len(g))
	copy(out, g)
	return out
}

// FilledCount returns the number of non-blank cells across all rows.
//
// # Description
//
// Used to derive the completion flag: a session is complete when the filled
// count reaches the puzzle's letter count. Block cells never hold letters,
// so counting non-blank characters is sufficient.
func (g Grid) FilledCount() int {
	count := 0
	for _, row := range g {
		for _, ch := range row {
			if ch != Blank {
				count++
			}
		}
	}
	return count
}

// CharAt returns the character at (row, col), or Blank if the position is
// out of bounds.
func (g Grid) CharAt(row, col int) byte {
	if row < 0 || row >= len(g) {
		return Blank
	}
	if col < 0 || col >= len(g[row]) {
		return Blank
	}
	return g[row][col]
}

// WithCell returns a copy of the grid with the cell at (row, col) replaced.
//
// # Description
//
// The grid must already be materialized to dimensions that contain the
// target position; out-of-bounds writes return the receiver unchanged.
// Only the first byte of value is written; an empty value writes a blank
// (cell erase).
//
// # Inputs
//
//   - row: Target row index.
//   - col: Target column index.
//   - value: Replacement character. Empty string erases the cell.
//
// # Outputs
//
//   - Grid: New grid with the cell replaced, or the receiver if out of bounds.
func (g Grid) WithCell(row, col int, value string) Grid {
	if row < 0 || row >= len(g) {
		return g
	}
	if col < 0 || col >= len(g[row]) {
		return g
	}
	ch := byte(Blank)
	if value != "" {
		ch = value[0]
	}
	out := g.Clone()
	line := []byte(out[row])
	line[col] = ch
	out[row] = string(line)
	return out
}

// Normalize returns a copy of the grid padded or truncated to the given
// dimensions.
//
// # Description
//
// Rows shorter than cols are right-padded with blanks; longer rows are
// truncated. Missing rows are appended blank; surplus rows are dropped.
// Applied at the storage boundary so the in-memory shape always matches the
// puzzle's current dimensions even when a stored row predates a puzzle
// correction.
//
// An empty grid normalizes to an empty grid: uninitialized state is
// preserved, not materialized.
func (g Grid) Normalize(rows, cols int) Grid {
	if g.IsEmpty() || rows <= 0 || cols <= 0 {
		return Grid{}
	}
	out := make(Grid, rows)
	for i := 0; i < rows; i++ {
		var row string
		if i < len(g) {
			row = g[i]
		}
		if len(row) < cols {
			row += strings.Repeat(string(Blank), cols-len(row))
		} else if len(row) > cols {
			row = row[:cols]
		}
		out[i] = row
	}
	return out
}
