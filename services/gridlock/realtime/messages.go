// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package realtime implements the websocket fabric: per-session rooms over
// gorilla/websocket, join snapshots, and fan-out of solving events.
package realtime

import (
	"github.com/AleutianAI/Gridlock/services/gridlock/datatypes"
)

// Client-to-server message types.
const (
	MsgJoin        = "join"
	MsgUpdateState = "update_state"
	MsgUpdateCell  = "update_cell"
	MsgClaimWord   = "claim_word"
)

// Server-to-client message types.
const (
	MsgSnapshot      = "snapshot"
	MsgStateReplaced = "state_replaced"
	MsgCellUpdated   = "cell_updated"
	MsgWordClaimed   = "word_claimed"
	MsgError         = "error"
)

// ClientMessage is the inbound wire format. Fields beyond Type and
// SessionID are message-type specific.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`

	// update_state
	State datatypes.Grid `json:"state,omitempty"`

	// update_cell. No omitempty: row 0, col 0 and the blank value are
	// all legitimate payloads and must survive the wire.
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Value string `json:"value"`

	// claim_word
	ClueNumber int    `json:"clue_number,omitempty"`
	Direction  string `json:"direction,omitempty"`
	SolverName string `json:"solver_name,omitempty"`
}

// ServerMessage is the outbound wire format.
//
// SenderID carries the connection id that caused the event so clients can
// suppress the echo of their own edits.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	SenderID  string `json:"sender_id,omitempty"`

	State        datatypes.Grid                   `json:"state,omitempty"`
	Row          int                              `json:"row"`
	Col          int                              `json:"col"`
	Value        string                           `json:"value"`
	ClueKey      string                           `json:"clue_key,omitempty"`
	Attribution  *datatypes.Attribution           `json:"attribution,omitempty"`
	Attributions map[string]datatypes.Attribution `json:"attributions,omitempty"`
	Error        string                           `json:"error,omitempty"`
}
