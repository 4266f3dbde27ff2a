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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Gridlock/services/gridlock/datatypes"
)

func writePuzzleFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestFileCatalog_Load(t *testing.T) {
	dir := t.TempDir()
	writePuzzleFile(t, dir, "mon-001.json",
		`{"id":"mon-001","title":"Monday","rows":5,"cols":5,"letter_count":21}`)
	writePuzzleFile(t, dir, "broken.json", `{"id":"","rows":0}`)
	writePuzzleFile(t, dir, "notes.txt", `not a puzzle`)

	catalog, err := NewFileCatalog(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	t.Run("valid puzzle loads", func(t *testing.T) {
		p, err := catalog.Get("mon-001")
		require.NoError(t, err)
		assert.Equal(t, "Monday", p.Title)

		count, err := catalog.LetterCount("mon-001")
		require.NoError(t, err)
		assert.Equal(t, 21, count)

		rows, cols, err := catalog.Dimensions("mon-001")
		require.NoError(t, err)
		assert.Equal(t, 5, rows)
		assert.Equal(t, 5, cols)
	})

	t.Run("invalid file is skipped, not fatal", func(t *testing.T) {
		assert.Equal(t, 1, catalog.Len())
	})

	t.Run("unknown id returns ErrPuzzleNotFound", func(t *testing.T) {
		_, err := catalog.Get("nope")
		assert.ErrorIs(t, err, ErrPuzzleNotFound)
	})
}

func TestFileCatalog_MissingDirectory(t *testing.T) {
	_, err := NewFileCatalog(filepath.Join(t.TempDir(), "absent"), nil)
	assert.Error(t, err)
}

func TestStaticCatalog(t *testing.T) {
	catalog := NewStaticCatalog(
		datatypes.Puzzle{ID: "p1", Rows: 3, Cols: 3, LetterCount: 9},
		datatypes.Puzzle{ID: "p2", Rows: 5, Cols: 5, LetterCount: 20},
	)

	assert.Equal(t, 2, catalog.Len())

	count, err := catalog.LetterCount("p2")
	require.NoError(t, err)
	assert.Equal(t, 20, count)

	_, _, err = catalog.Dimensions("p3")
	assert.ErrorIs(t, err, ErrPuzzleNotFound)
}
