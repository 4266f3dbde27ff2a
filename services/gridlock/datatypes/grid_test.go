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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewGrid(t *testing.T) {
	t.Run("materializes blank rows", func(t *testing.T) {
		g := NewGrid(2, 3)
		assert.Equal(t, Grid{"   ", "   "}, g)
		assert.False(t, g.IsEmpty())
	})

	t.Run("non-positive dimensions yield empty grid", func(t *testing.T) {
		assert.True(t, NewGrid(0, 3).IsEmpty())
		assert.True(t, NewGrid(3, 0).IsEmpty())
		assert.True(t, NewGrid(-1, -1).IsEmpty())
	})
}

func TestGrid_FilledCount(t *testing.T) {
	t.Run("empty grid has zero filled", func(t *testing.T) {
		assert.Equal(t, 0, Grid{}.FilledCount())
		assert.Equal(t, 0, Grid(nil).FilledCount())
	})

	t.Run("counts non-blank cells only", func(t *testing.T) {
		g := Grid{"A B", "   ", "CDE"}
		assert.Equal(t, 5, g.FilledCount())
	})
}

func TestGrid_WithCell(t *testing.T) {
	t.Run("writes a single character", func(t *testing.T) {
		g := NewGrid(2, 2)
		got := g.WithCell(0, 1, "X")
		assert.Equal(t, Grid{" X", "  "}, got)
		// Receiver untouched.
		assert.Equal(t, Grid{"  ", "  "}, g)
	})

	t.Run("empty value erases the cell", func(t *testing.T) {
		g := Grid{"AB"}
		assert.Equal(t, Grid{"A "}, g.WithCell(0, 1, ""))
	})

	t.Run("out of bounds is a no-op", func(t *testing.T) {
		g := Grid{"AB"}
		assert.Equal(t, g, g.WithCell(1, 0, "X"))
		assert.Equal(t, g, g.WithCell(0, 2, "X"))
		assert.Equal(t, g, g.WithCell(-1, 0, "X"))
	})
}

func TestGrid_Normalize(t *testing.T) {
	t.Run("pads short rows and appends missing rows", func(t *testing.T) {
		g := Grid{"AB"}
		assert.Equal(t, Grid{"AB ", "   "}, g.Normalize(2, 3))
	})

	t.Run("truncates long rows and drops surplus rows", func(t *testing.T) {
		g := Grid{"ABCD", "EFGH", "IJKL"}
		assert.Equal(t, Grid{"AB", "EF"}, g.Normalize(2, 2))
	})

	t.Run("empty grid stays empty", func(t *testing.T) {
		assert.True(t, Grid{}.Normalize(3, 3).IsEmpty())
	})
}

func TestGrid_CharAt(t *testing.T) {
	g := Grid{"AB", "C "}
	assert.Equal(t, byte('A'), g.CharAt(0, 0))
	assert.Equal(t, byte(' '), g.CharAt(1, 1))
	assert.Equal(t, byte(Blank), g.CharAt(5, 5))
	assert.Equal(t, byte(Blank), g.CharAt(-1, 0))
}

func TestClueKey(t *testing.T) {
	assert.Equal(t, "14-across", ClueKey(14, "across"))
	assert.Equal(t, "3-down", ClueKey(3, "down"))
}

func TestPuzzle_Validate(t *testing.T) {
	t.Run("valid puzzle", func(t *testing.T) {
		p := Puzzle{ID: "mon-001", Rows: 5, Cols: 5, LetterCount: 21}
		assert.NoError(t, p.Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		p := Puzzle{Rows: 5, Cols: 5}
		assert.Error(t, p.Validate())
	})

	t.Run("letter count exceeding cells", func(t *testing.T) {
		p := Puzzle{ID: "bad", Rows: 2, Cols: 2, LetterCount: 5}
		err := p.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "letter count")
	})
}
