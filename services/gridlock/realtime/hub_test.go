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
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Gridlock/services/gridlock/datatypes"
)

// fakeEngine records engine calls and serves canned session state.
type fakeEngine struct {
	mu       sync.Mutex
	states   map[string]datatypes.Grid
	attrs    map[string]map[string]datatypes.Attribution
	cellOps  []string
	claimOps []string
	grant    bool
}

var _ Engine = (*fakeEngine)(nil)

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		states: make(map[string]datatypes.Grid),
		attrs:  make(map[string]map[string]datatypes.Attribution),
		grant:  true,
	}
}

func (f *fakeEngine) GetState(_ context.Context, sessionID string) (datatypes.Grid, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[sessionID]
	return state, ok, nil
}

func (f *fakeEngine) Attributions(_ context.Context, sessionID string) (map[string]datatypes.Attribution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attrs[sessionID], nil
}

func (f *fakeEngine) UpdateCell(_ context.Context, sessionID string, row, col int, value, senderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cellOps = append(f.cellOps, sessionID)
	return nil
}

func (f *fakeEngine) ReplaceState(_ context.Context, sessionID string, state datatypes.Grid, senderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[sessionID] = state
	return nil
}

func (f *fakeEngine) ClaimWord(_ context.Context, sessionID, clueKey, solverID, solverName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimOps = append(f.claimOps, sessionID+"/"+clueKey+"/"+solverID)
	return f.grant, nil
}

// drain reads one queued frame from a client, failing if none is pending.
func drain(t *testing.T, c *Client) ServerMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg ServerMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	default:
		t.Fatal("expected a queued message")
		return ServerMessage{}
	}
}

func joinTestClient(t *testing.T, h *Hub, sessionID string) *Client {
	t.Helper()
	c := h.newClient(0, "anon-test")
	h.join(context.Background(), c, sessionID)
	msg := drain(t, c)
	require.Equal(t, MsgSnapshot, msg.Type)
	return c
}

func TestHub_JoinSnapshot(t *testing.T) {
	engine := newFakeEngine()
	engine.states["s1"] = datatypes.Grid{"AB", "  "}
	engine.attrs["s1"] = map[string]datatypes.Attribution{
		"1-across": {SolverName: "Ada", Timestamp: 5},
	}
	h := NewHub(engine, nil)

	c := h.newClient(7, "")
	h.join(context.Background(), c, "s1")

	msg := drain(t, c)
	assert.Equal(t, MsgSnapshot, msg.Type)
	assert.Equal(t, datatypes.Grid{"AB", "  "}, msg.State)
	assert.Equal(t, "Ada", msg.Attributions["1-across"].SolverName)
	assert.Equal(t, 1, h.roomSize("s1"))
}

func TestHub_JoinUnknownSession(t *testing.T) {
	h := NewHub(newFakeEngine(), nil)
	c := h.newClient(0, "a1")

	h.join(context.Background(), c, "ghost")

	msg := drain(t, c)
	assert.Equal(t, MsgError, msg.Type)
	assert.Equal(t, 0, h.roomSize("ghost"))
}

func TestHub_SwitchingRoomsLeavesTheOld(t *testing.T) {
	engine := newFakeEngine()
	engine.states["s1"] = datatypes.Grid{"A"}
	engine.states["s2"] = datatypes.Grid{"B"}
	h := NewHub(engine, nil)

	c := joinTestClient(t, h, "s1")
	h.join(context.Background(), c, "s2")
	drain(t, c)

	assert.Equal(t, 0, h.roomSize("s1"))
	assert.Equal(t, 1, h.roomSize("s2"))
}

func TestHub_CellUpdateExcludesSender(t *testing.T) {
	engine := newFakeEngine()
	engine.states["s1"] = datatypes.Grid{"  "}
	h := NewHub(engine, nil)

	sender := joinTestClient(t, h, "s1")
	peer := joinTestClient(t, h, "s1")

	h.BroadcastCellUpdate("s1", 0, 1, "X", sender.ID())

	msg := drain(t, peer)
	assert.Equal(t, MsgCellUpdated, msg.Type)
	assert.Equal(t, 0, msg.Row)
	assert.Equal(t, 1, msg.Col)
	assert.Equal(t, "X", msg.Value)
	assert.Equal(t, sender.ID(), msg.SenderID)

	select {
	case <-sender.send:
		t.Fatal("sender must not receive its own echo")
	default:
	}
}

func TestHub_WordClaimedReachesEveryone(t *testing.T) {
	engine := newFakeEngine()
	engine.states["s1"] = datatypes.Grid{"  "}
	h := NewHub(engine, nil)

	a := joinTestClient(t, h, "s1")
	b := joinTestClient(t, h, "s1")

	h.BroadcastWordClaimed("s1", "3-down", datatypes.Attribution{SolverName: "Ada"})

	for _, c := range []*Client{a, b} {
		msg := drain(t, c)
		assert.Equal(t, MsgWordClaimed, msg.Type)
		assert.Equal(t, "3-down", msg.ClueKey)
		require.NotNil(t, msg.Attribution)
		assert.Equal(t, "Ada", msg.Attribution.SolverName)
	}
}

func TestHub_SlowConsumerDisconnected(t *testing.T) {
	engine := newFakeEngine()
	engine.states["s1"] = datatypes.Grid{"  "}
	h := NewHub(engine, nil)

	slow := joinTestClient(t, h, "s1")

	// Fill the slow client's buffer, then one more to trip the policy.
	for i := 0; i <= sendBufferSize; i++ {
		h.BroadcastStateReplaced("s1", datatypes.Grid{"A"}, "")
	}

	assert.Equal(t, 0, h.roomSize("s1"), "slow consumer removed from the room")
	slow.mu.Lock()
	assert.True(t, slow.closed)
	slow.mu.Unlock()
}

func TestHub_HandleMessage(t *testing.T) {
	engine := newFakeEngine()
	engine.states["s1"] = datatypes.Grid{"   ", "   ", "   "}
	h := NewHub(engine, nil)
	c := joinTestClient(t, h, "s1")

	t.Run("update_cell reaches the engine with the sender id", func(t *testing.T) {
		h.handleMessage(c, []byte(`{"type":"update_cell","session_id":"s1","row":1,"col":2,"value":"Q"}`))
		engine.mu.Lock()
		defer engine.mu.Unlock()
		require.Len(t, engine.cellOps, 1)
	})

	t.Run("claim_word builds the clue key", func(t *testing.T) {
		h.handleMessage(c, []byte(`{"type":"claim_word","session_id":"s1","clue_number":14,"direction":"across","solver_name":"Ada"}`))
		engine.mu.Lock()
		defer engine.mu.Unlock()
		require.Len(t, engine.claimOps, 1)
		assert.Contains(t, engine.claimOps[0], "s1/14-across/")
	})

	t.Run("losing a claim notifies only the claimant", func(t *testing.T) {
		engine.grant = false
		h.handleMessage(c, []byte(`{"type":"claim_word","session_id":"s1","clue_number":14,"direction":"across","solver_name":"Eve"}`))
		msg := drain(t, c)
		assert.Equal(t, MsgError, msg.Type)
	})

	t.Run("malformed json gets an error frame", func(t *testing.T) {
		h.handleMessage(c, []byte(`{not json`))
		msg := drain(t, c)
		assert.Equal(t, MsgError, msg.Type)
	})

	t.Run("missing session id gets an error frame", func(t *testing.T) {
		h.handleMessage(c, []byte(`{"type":"update_cell"}`))
		msg := drain(t, c)
		assert.Equal(t, MsgError, msg.Type)
	})

	t.Run("unknown type gets an error frame", func(t *testing.T) {
		h.handleMessage(c, []byte(`{"type":"dance","session_id":"s1"}`))
		msg := drain(t, c)
		assert.Equal(t, MsgError, msg.Type)
	})
}
