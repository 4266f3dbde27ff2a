// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Gridlock/services/gridlock/datatypes"
	"github.com/AleutianAI/Gridlock/services/gridlock/middleware"
	"github.com/AleutianAI/Gridlock/services/gridlock/realtime"
	"github.com/AleutianAI/Gridlock/services/gridlock/routes"
	"github.com/AleutianAI/Gridlock/services/gridlock/session"
	"github.com/AleutianAI/Gridlock/services/gridlock/storage"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	catalog := storage.NewStaticCatalog(
		datatypes.Puzzle{ID: "daily", Title: "Daily", Rows: 3, Cols: 3, LetterCount: 9},
	)

	coord, err := session.NewCoordinator(session.Config{
		Store:        storage.NewSessionStore(db, nil),
		Catalog:      catalog,
		SaveDebounce: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close(context.Background()) })

	hub := realtime.NewHub(coord, nil)

	router := gin.New()
	routes.SetupRoutes(router, coord, hub, nil)
	return router
}

type apiCall struct {
	method string
	path   string
	body   string
	userID string
	anonID string
}

func do(t *testing.T, router *gin.Engine, call apiCall) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if call.body != "" {
		reader = strings.NewReader(call.body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(call.method, call.path, reader)
	req.Header.Set("Content-Type", "application/json")
	if call.userID != "" {
		req.Header.Set(middleware.HeaderUser, call.userID)
	}
	if call.anonID != "" {
		req.Header.Set(middleware.HeaderAnon, call.anonID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var parsed map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	}
	return w, parsed
}

func startSession(t *testing.T, router *gin.Engine, anonID string) string {
	t.Helper()
	w, body := do(t, router, apiCall{
		method: http.MethodPost, path: "/v1/sessions",
		body: `{"puzzle_id":"daily"}`, anonID: anonID,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	return body["session_id"].(string)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)
	w, body := do(t, router, apiCall{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestStartSession(t *testing.T) {
	router := newTestRouter(t)

	t.Run("creates for an anonymous caller", func(t *testing.T) {
		w, body := do(t, router, apiCall{
			method: http.MethodPost, path: "/v1/sessions",
			body: `{"puzzle_id":"daily"}`, anonID: "browser-1",
		})
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NotEmpty(t, body["session_id"])
		assert.Equal(t, "daily", body["puzzle_id"])
	})

	t.Run("resumes on repeat", func(t *testing.T) {
		_, first := do(t, router, apiCall{
			method: http.MethodPost, path: "/v1/sessions",
			body: `{"puzzle_id":"daily"}`, userID: "7",
		})
		w, second := do(t, router, apiCall{
			method: http.MethodPost, path: "/v1/sessions",
			body: `{"puzzle_id":"daily"}`, userID: "7",
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, first["session_id"], second["session_id"])
	})

	t.Run("identity required", func(t *testing.T) {
		w, _ := do(t, router, apiCall{
			method: http.MethodPost, path: "/v1/sessions",
			body: `{"puzzle_id":"daily"}`,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown puzzle", func(t *testing.T) {
		w, _ := do(t, router, apiCall{
			method: http.MethodPost, path: "/v1/sessions",
			body: `{"puzzle_id":"nope"}`, anonID: "browser-1",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing puzzle_id", func(t *testing.T) {
		w, _ := do(t, router, apiCall{
			method: http.MethodPost, path: "/v1/sessions",
			body: `{}`, anonID: "browser-1",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSessionStateEndpoints(t *testing.T) {
	router := newTestRouter(t)
	sessionID := startSession(t, router, "browser-2")

	t.Run("unknown session is 404", func(t *testing.T) {
		w, _ := do(t, router, apiCall{
			method: http.MethodGet, path: "/v1/sessions/ghost/state",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("cell update is visible before the flush", func(t *testing.T) {
		w, _ := do(t, router, apiCall{
			method: http.MethodPost, path: "/v1/sessions/" + sessionID + "/cell",
			body: `{"row":0,"col":1,"value":"A"}`, anonID: "browser-2",
		})
		assert.Equal(t, http.StatusAccepted, w.Code)

		w, body := do(t, router, apiCall{
			method: http.MethodGet, path: "/v1/sessions/" + sessionID + "/state",
		})
		require.Equal(t, http.StatusOK, w.Code)
		state := body["state"].([]any)
		assert.Equal(t, " A ", state[0])
	})

	t.Run("full replace", func(t *testing.T) {
		w, _ := do(t, router, apiCall{
			method: http.MethodPut, path: "/v1/sessions/" + sessionID + "/state",
			body: `{"state":["XYZ","   ","   "]}`, anonID: "browser-2",
		})
		assert.Equal(t, http.StatusOK, w.Code)

		_, body := do(t, router, apiCall{
			method: http.MethodGet, path: "/v1/sessions/" + sessionID + "/state",
		})
		state := body["state"].([]any)
		assert.Equal(t, "XYZ", state[0])
	})

	t.Run("replace on unknown session is 404", func(t *testing.T) {
		w, _ := do(t, router, apiCall{
			method: http.MethodPut, path: "/v1/sessions/ghost/state",
			body: `{"state":["A"]}`,
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestWordClaimEndpoint(t *testing.T) {
	router := newTestRouter(t)
	sessionID := startSession(t, router, "browser-3")
	path := "/v1/sessions/" + sessionID + "/words/claim"

	t.Run("first claim granted", func(t *testing.T) {
		w, body := do(t, router, apiCall{
			method: http.MethodPost, path: path,
			body: `{"clue_number":14,"direction":"across","solver_name":"Ada"}`, anonID: "browser-3",
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, body["claimed"])
		assert.Equal(t, "14-across", body["clue_key"])
	})

	t.Run("duplicate refused", func(t *testing.T) {
		w, body := do(t, router, apiCall{
			method: http.MethodPost, path: path,
			body: `{"clue_number":14,"direction":"across","solver_name":"Eve"}`, anonID: "other",
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, body["claimed"])
	})

	t.Run("bad direction rejected", func(t *testing.T) {
		w, _ := do(t, router, apiCall{
			method: http.MethodPost, path: path,
			body: `{"clue_number":14,"direction":"sideways","solver_name":"Ada"}`,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestClaimSessionsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	sessionID := startSession(t, router, "browser-4")

	t.Run("requires authentication", func(t *testing.T) {
		w, _ := do(t, router, apiCall{
			method: http.MethodPost, path: "/v1/sessions/claim",
			body: `{"session_ids":["` + sessionID + `"]}`, anonID: "browser-4",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("claims the anonymous session", func(t *testing.T) {
		w, body := do(t, router, apiCall{
			method: http.MethodPost, path: "/v1/sessions/claim",
			body: `{"session_ids":["` + sessionID + `","ghost"]}`, userID: "42",
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), body["claimed_count"])
	})
}

func TestListAndDeleteEndpoints(t *testing.T) {
	router := newTestRouter(t)
	sessionID := startSession(t, router, "browser-5")

	t.Run("list excludes raw state", func(t *testing.T) {
		w, body := do(t, router, apiCall{method: http.MethodGet, path: "/v1/sessions"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), body["count"])
		entry := body["sessions"].([]any)[0].(map[string]any)
		assert.NotContains(t, entry, "state")
	})

	t.Run("delete removes the session", func(t *testing.T) {
		w, _ := do(t, router, apiCall{
			method: http.MethodDelete, path: "/v1/sessions/" + sessionID,
		})
		assert.Equal(t, http.StatusOK, w.Code)

		w, _ = do(t, router, apiCall{
			method: http.MethodGet, path: "/v1/sessions/" + sessionID + "/state",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
