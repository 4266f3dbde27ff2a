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
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/Gridlock/services/gridlock/datatypes"
	"github.com/AleutianAI/Gridlock/services/gridlock/observability"
)

const (
	// writeWait is the deadline for a single websocket write.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames. Full grids are a few KB.
	maxMessageSize = 64 * 1024

	// sendBufferSize is the per-client outbound queue. A client that falls
	// this far behind is disconnected rather than allowed to stall fan-out.
	sendBufferSize = 64

	// Update-message rate limiting per client. Human typing tops out well
	// under this; the limit only bites floods.
	defaultRateLimit = rate.Limit(30)
	defaultRateBurst = 60

	// rateDropDisconnect is how many consecutive rate-limited messages a
	// client may send before being dropped.
	rateDropDisconnect = 50

	// handlerTimeout bounds engine calls made on behalf of a websocket
	// message.
	handlerTimeout = 10 * time.Second
)

// Engine is the slice of the session coordinator the hub drives.
type Engine interface {
	GetState(ctx context.Context, sessionID string) (datatypes.Grid, bool, error)
	Attributions(ctx context.Context, sessionID string) (map[string]datatypes.Attribution, error)
	UpdateCell(ctx context.Context, sessionID string, row, col int, value, senderID string) error
	ReplaceState(ctx context.Context, sessionID string, state datatypes.Grid, senderID string) error
	ClaimWord(ctx context.Context, sessionID, clueKey, solverID, solverName string) (bool, error)
}

// Client is one websocket connection.
type Client struct {
	id     string
	userID int64
	anonID string

	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	mu        sync.Mutex
	sessionID string // current room, empty before the first join
	closed    bool
}

// ID returns the connection id used for self-echo suppression.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setRoom(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

// enqueue queues an outbound frame. Returns false if the client's buffer is
// full or the client is closed; the caller disconnects it.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// solverID returns the identity string recorded on attributions.
func (c *Client) solverID() string {
	if c.userID > 0 {
		return "user:" + strconv.FormatInt(c.userID, 10)
	}
	if c.anonID != "" {
		return "anon:" + c.anonID
	}
	return ""
}

// Hub owns the per-session rooms and fans events out to them.
//
// # Description
//
// The hub implements session.Broadcaster, so the coordinator can publish
// without knowing about websockets. Fan-out writes only to per-client
// buffered channels and never blocks: a client whose buffer is full is
// disconnected (slow-consumer policy). Room membership changes go through
// the hub's lock; broadcasts take it read-only.
//
// # Thread Safety
//
// Safe for concurrent use.
type Hub struct {
	engine Engine
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	upgrader websocket.Upgrader

	rateLimit rate.Limit
	rateBurst int
}

// NewHub constructs a hub bound to the given engine.
func NewHub(engine Engine, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		engine: engine,
		logger: logger,
		rooms:  make(map[string]map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from the app origin; the reverse
			// proxy enforces origin policy in production.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rateLimit: defaultRateLimit,
		rateBurst: defaultRateBurst,
	}
}

// Serve upgrades the request and runs the connection until it closes.
//
// # Inputs
//
//   - w, r: The HTTP exchange to upgrade.
//   - userID: Authenticated user id, 0 if anonymous.
//   - anonID: Anonymous id, may be empty.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int64, anonID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := h.newClient(userID, anonID)
	client.conn = conn

	if m := observability.DefaultMetrics; m != nil {
		m.RoomClients.Inc()
	}
	h.logger.Debug("realtime: client connected",
		slog.String("client_id", client.id),
		slog.Int64("user_id", userID))

	go client.writePump()
	go client.readPump()
	return nil
}

// newClient builds an unattached client. Split from Serve for tests.
func (h *Hub) newClient(userID int64, anonID string) *Client {
	return &Client{
		id:      uuid.NewString(),
		userID:  userID,
		anonID:  anonID,
		hub:     h,
		send:    make(chan []byte, sendBufferSize),
		limiter: rate.NewLimiter(h.rateLimit, h.rateBurst),
	}
}

// BroadcastCellUpdate implements session.Broadcaster.
func (h *Hub) BroadcastCellUpdate(sessionID string, row, col int, value, senderID string) {
	h.broadcast(sessionID, senderID, ServerMessage{
		Type:      MsgCellUpdated,
		SessionID: sessionID,
		SenderID:  senderID,
		Row:       row,
		Col:       col,
		Value:     value,
	})
}

// BroadcastStateReplaced implements session.Broadcaster.
func (h *Hub) BroadcastStateReplaced(sessionID string, state datatypes.Grid, senderID string) {
	h.broadcast(sessionID, senderID, ServerMessage{
		Type:      MsgStateReplaced,
		SessionID: sessionID,
		SenderID:  senderID,
		State:     state,
	})
}

// BroadcastWordClaimed implements session.Broadcaster. The claimant hears
// their own grant; it doubles as the success acknowledgement.
func (h *Hub) BroadcastWordClaimed(sessionID, clueKey string, attribution datatypes.Attribution) {
	h.broadcast(sessionID, "", ServerMessage{
		Type:        MsgWordClaimed,
		SessionID:   sessionID,
		ClueKey:     clueKey,
		Attribution: &attribution,
	})
}

// broadcast fans a message out to a room, excluding the sender when
// excludeID is non-empty.
func (h *Hub) broadcast(sessionID, excludeID string, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("realtime: marshal broadcast",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	room := h.rooms[sessionID]
	var slow []*Client
	for client := range room {
		if excludeID != "" && client.id == excludeID {
			continue
		}
		if !client.enqueue(data) {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("realtime: dropping slow consumer",
			slog.String("client_id", client.id),
			slog.String("session_id", sessionID))
		if m := observability.DefaultMetrics; m != nil {
			m.ClientDisconnectsTotal.WithLabelValues("slow_consumer").Inc()
		}
		h.disconnect(client)
	}
}

// join moves a client into a session's room and pushes the snapshot.
//
// # Description
//
// The snapshot is read through the session cache, so a late joiner sees
// edits still inside the debounce window. Attributions ride along so the
// client can render solver credits immediately.
func (h *Hub) join(ctx context.Context, client *Client, sessionID string) {
	state, found, err := h.engine.GetState(ctx, sessionID)
	if err != nil {
		h.sendError(client, sessionID, "session load failed")
		return
	}
	if !found {
		h.sendError(client, sessionID, "unknown session")
		return
	}

	h.mu.Lock()
	if prev := client.room(); prev != "" && prev != sessionID {
		h.removeFromRoomLocked(client, prev)
	}
	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[*Client]struct{})
	}
	h.rooms[sessionID][client] = struct{}{}
	h.mu.Unlock()
	client.setRoom(sessionID)

	attrs, err := h.engine.Attributions(ctx, sessionID)
	if err != nil {
		h.logger.Warn("realtime: snapshot attributions unavailable",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}

	h.sendTo(client, ServerMessage{
		Type:         MsgSnapshot,
		SessionID:    sessionID,
		State:        state,
		Attributions: attrs,
	})
}

// handleMessage dispatches one inbound frame.
func (h *Hub) handleMessage(client *Client, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(client, "", "malformed message")
		return
	}
	if msg.SessionID == "" {
		h.sendError(client, "", "session_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	switch msg.Type {
	case MsgJoin:
		h.join(ctx, client, msg.SessionID)

	case MsgUpdateCell:
		if err := h.engine.UpdateCell(ctx, msg.SessionID, msg.Row, msg.Col, msg.Value, client.id); err != nil {
			h.logger.Warn("realtime: cell update failed",
				slog.String("session_id", msg.SessionID),
				slog.String("error", err.Error()))
		}

	case MsgUpdateState:
		if err := h.engine.ReplaceState(ctx, msg.SessionID, msg.State, client.id); err != nil {
			h.logger.Warn("realtime: state replace failed",
				slog.String("session_id", msg.SessionID),
				slog.String("error", err.Error()))
		}

	case MsgClaimWord:
		clueKey := datatypes.ClueKey(msg.ClueNumber, msg.Direction)
		granted, err := h.engine.ClaimWord(ctx, msg.SessionID, clueKey, client.solverID(), msg.SolverName)
		if err != nil {
			h.logger.Warn("realtime: word claim failed",
				slog.String("session_id", msg.SessionID),
				slog.String("clue_key", clueKey),
				slog.String("error", err.Error()))
			return
		}
		if !granted {
			// Losing a claim race is normal; tell only the claimant.
			h.sendError(client, msg.SessionID, "word already claimed")
		}

	default:
		h.sendError(client, msg.SessionID, "unknown message type")
	}
}

// isUpdate reports whether a message type counts against the rate limit.
// Joins and claims are low-volume and exempt.
func isUpdate(msgType string) bool {
	return msgType == MsgUpdateCell || msgType == MsgUpdateState
}

func (h *Hub) sendTo(client *Client, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if !client.enqueue(data) {
		if m := observability.DefaultMetrics; m != nil {
			m.ClientDisconnectsTotal.WithLabelValues("slow_consumer").Inc()
		}
		h.disconnect(client)
	}
}

func (h *Hub) sendError(client *Client, sessionID, text string) {
	h.sendTo(client, ServerMessage{
		Type:      MsgError,
		SessionID: sessionID,
		Error:     text,
	})
}

// disconnect removes a client from its room and closes its send channel,
// which terminates the write pump and the connection.
func (h *Hub) disconnect(client *Client) {
	h.mu.Lock()
	if room := client.room(); room != "" {
		h.removeFromRoomLocked(client, room)
	}
	h.mu.Unlock()
	client.close()
}

func (h *Hub) removeFromRoomLocked(client *Client, sessionID string) {
	room := h.rooms[sessionID]
	if room == nil {
		return
	}
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

// roomSize returns the number of clients in a session's room.
func (h *Hub) roomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// readPump consumes inbound frames until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		_ = c.conn.Close()
		if m := observability.DefaultMetrics; m != nil {
			m.RoomClients.Dec()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	rateDrops := 0
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("realtime: read error",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()))
			}
			return
		}

		var peek struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(data, &peek)
		if isUpdate(peek.Type) && !c.limiter.Allow() {
			rateDrops++
			if rateDrops >= rateDropDisconnect {
				c.hub.logger.Warn("realtime: disconnecting flooding client",
					slog.String("client_id", c.id))
				if m := observability.DefaultMetrics; m != nil {
					m.ClientDisconnectsTotal.WithLabelValues("rate_limited").Inc()
				}
				return
			}
			continue
		}
		rateDrops = 0

		c.hub.handleMessage(c, data)
	}
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
