// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Gridlock/services/gridlock/datatypes"
	"github.com/AleutianAI/Gridlock/services/gridlock/middleware"
	"github.com/AleutianAI/Gridlock/services/gridlock/session"
	"github.com/AleutianAI/Gridlock/services/gridlock/storage"
)

// StartSession starts or resumes the caller's session for a puzzle.
//
// POST /v1/sessions  {"puzzle_id": "..."}
//
// Returns 201 when a session was created, 200 when an existing one was
// resumed.
func StartSession(coord *session.Coordinator) gin.HandlerFunc {
	type request struct {
		PuzzleID string `json:"puzzle_id" binding:"required"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "puzzle_id is required"})
			return
		}
		id := middleware.GetIdentity(c)

		sess, created, err := coord.StartOrResume(c.Request.Context(), id.UserID, id.AnonymousID, req.PuzzleID)
		switch {
		case errors.Is(err, session.ErrNoIdentity):
			c.JSON(http.StatusBadRequest, gin.H{"error": "a user or anonymous identity is required"})
			return
		case errors.Is(err, storage.ErrPuzzleNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown puzzle"})
			return
		case err != nil:
			slog.Error("start session failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, sess)
	}
}

// ListSessions returns state-free summaries of every session.
//
// GET /v1/sessions
func ListSessions(coord *session.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		summaries, err := coord.List(c.Request.Context())
		if err != nil {
			slog.Error("list sessions failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": summaries, "count": len(summaries)})
	}
}

// GetSessionState returns the cached solve grid.
//
// GET /v1/sessions/:sessionId/state
func GetSessionState(coord *session.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		state, found, err := coord.GetState(c.Request.Context(), sessionID)
		if err != nil {
			slog.Error("get session state failed", "sessionId", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session state"})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "state": state})
	}
}

// ReplaceSessionState replaces the whole solve grid.
//
// PUT /v1/sessions/:sessionId/state  {"state": ["AB ", ...]}
func ReplaceSessionState(coord *session.Coordinator) gin.HandlerFunc {
	type request struct {
		State datatypes.Grid `json:"state"`
	}
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "state must be an array of row strings"})
			return
		}

		err := coord.ReplaceState(c.Request.Context(), sessionID, req.State, "")
		if errors.Is(err, storage.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err != nil {
			slog.Error("replace session state failed", "sessionId", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replace state"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "accepted", "session_id": sessionID})
	}
}

// UpdateSessionCell applies a single-cell edit.
//
// POST /v1/sessions/:sessionId/cell  {"row": 0, "col": 2, "value": "A"}
//
// Always answers 202: the edit is applied to the cache and persisted on the
// debounce window, and an unknown session is deliberately a no-op.
func UpdateSessionCell(coord *session.Coordinator) gin.HandlerFunc {
	type request struct {
		Row   int    `json:"row"`
		Col   int    `json:"col"`
		Value string `json:"value"`
	}
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cell update"})
			return
		}

		if err := coord.UpdateCell(c.Request.Context(), sessionID, req.Row, req.Col, req.Value, ""); err != nil {
			slog.Error("cell update failed", "sessionId", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply cell update"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	}
}

// ClaimSessionWord records first-solver credit for a clue.
//
// POST /v1/sessions/:sessionId/words/claim
// {"clue_number": 14, "direction": "across", "solver_name": "Ada"}
func ClaimSessionWord(coord *session.Coordinator) gin.HandlerFunc {
	type request struct {
		ClueNumber int    `json:"clue_number" binding:"required"`
		Direction  string `json:"direction" binding:"required"`
		SolverName string `json:"solver_name" binding:"required"`
	}
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest,
				gin.H{"error": "clue_number, direction and solver_name are required"})
			return
		}
		if req.Direction != "across" && req.Direction != "down" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be across or down"})
			return
		}

		id := middleware.GetIdentity(c)
		clueKey := datatypes.ClueKey(req.ClueNumber, req.Direction)
		granted, err := coord.ClaimWord(c.Request.Context(), sessionID, clueKey, solverID(id), req.SolverName)
		if err != nil {
			slog.Error("word claim failed", "sessionId", sessionID, "clueKey", clueKey, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record claim"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"claimed": granted, "clue_key": clueKey})
	}
}

// ClaimSessions reconciles anonymous sessions into the authenticated user.
//
// POST /v1/sessions/claim  {"session_ids": ["...", "..."]}
func ClaimSessions(coord *session.Coordinator) gin.HandlerFunc {
	type request struct {
		SessionIDs []string `json:"session_ids" binding:"required"`
	}
	return func(c *gin.Context) {
		id := middleware.GetIdentity(c)
		if id.UserID <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_ids is required"})
			return
		}

		count, err := coord.Claim(c.Request.Context(), id.UserID, req.SessionIDs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"claimed_count": count})
	}
}

// DeleteSession removes a session and cancels any pending save.
//
// DELETE /v1/sessions/:sessionId
func DeleteSession(coord *session.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		if err := coord.Delete(c.Request.Context(), sessionID); err != nil {
			slog.Error("delete session failed", "sessionId", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
			return
		}
		slog.Info("session deleted", "sessionId", sessionID)
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": sessionID})
	}
}

// solverID renders an identity as the stable string recorded on
// attributions.
func solverID(id middleware.Identity) string {
	switch {
	case id.UserID > 0:
		return "user:" + strconv.FormatInt(id.UserID, 10)
	case id.AnonymousID != "":
		return "anon:" + id.AnonymousID
	default:
		return ""
	}
}
