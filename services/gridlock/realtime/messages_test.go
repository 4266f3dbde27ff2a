// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A cell edit at the origin erasing a letter is all zero values; the wire
// format must still spell the fields out for non-Go consumers.
func TestCellFieldsSurviveZeroValues(t *testing.T) {
	t.Run("server frame", func(t *testing.T) {
		data, err := json.Marshal(ServerMessage{
			Type:      MsgCellUpdated,
			SessionID: "s1",
			SenderID:  "conn-1",
		})
		require.NoError(t, err)

		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.Contains(t, frame, "row")
		assert.Contains(t, frame, "col")
		assert.Contains(t, frame, "value")
		assert.Equal(t, "", frame["value"])
	})

	t.Run("client frame", func(t *testing.T) {
		data, err := json.Marshal(ClientMessage{
			Type:      MsgUpdateCell,
			SessionID: "s1",
		})
		require.NoError(t, err)

		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.Contains(t, frame, "row")
		assert.Contains(t, frame, "col")
		assert.Contains(t, frame, "value")
	})
}
