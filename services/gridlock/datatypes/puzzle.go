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

// Puzzle is the read-only metadata the session engine needs about a puzzle.
//
// # Description
//
// Puzzle authoring, grid transcription, and clue management happen outside
// this service; the engine only consumes finished puzzle definitions from
// the catalog. LetterCount is the number of playable (non-block) cells and
// drives the completion check.
type Puzzle struct {
	// ID is the catalog identifier, unique across the catalog directory.
	ID string `json:"id"`

	// Title is the display title.
	Title string `json:"title,omitempty"`

	// Rows and Cols are the grid dimensions.
	Rows int `json:"rows"`
	Cols int `json:"cols"`

	// LetterCount is the number of playable cells in the solution.
	LetterCount int `json:"letter_count"`
}

// Validate checks that the puzzle definition is usable.
//
// # Outputs
//
//   - error: Non-nil if the id is missing, dimensions are non-positive, or
//     the letter count exceeds the cell count.
func (p *Puzzle) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("puzzle id must not be empty")
	}
	if p.Rows <= 0 || p.Cols <= 0 {
		return fmt.Errorf("puzzle %s: dimensions must be positive, got %dx%d", p.ID, p.Rows, p.Cols)
	}
	if p.LetterCount < 0 || p.LetterCount > p.Rows*p.Cols {
		return fmt.Errorf("puzzle %s: letter count %d outside 0..%d", p.ID, p.LetterCount, p.Rows*p.Cols)
	}
	return nil
}
