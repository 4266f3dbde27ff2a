// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolveThroughRouter(t *testing.T, headers map[string]string) Identity {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(IdentityMiddleware(nil))

	var got Identity
	router.GET("/probe", func(c *gin.Context) {
		got = GetIdentity(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return got
}

func TestIdentityMiddleware(t *testing.T) {
	t.Run("authenticated user", func(t *testing.T) {
		id := resolveThroughRouter(t, map[string]string{HeaderUser: "42"})
		assert.Equal(t, int64(42), id.UserID)
		assert.True(t, id.Known())
	})

	t.Run("anonymous client", func(t *testing.T) {
		id := resolveThroughRouter(t, map[string]string{HeaderAnon: "browser-abc"})
		assert.Equal(t, int64(0), id.UserID)
		assert.Equal(t, "browser-abc", id.AnonymousID)
		assert.True(t, id.Known())
	})

	t.Run("both headers keep both identities", func(t *testing.T) {
		id := resolveThroughRouter(t, map[string]string{
			HeaderUser: "7",
			HeaderAnon: "browser-abc",
		})
		assert.Equal(t, int64(7), id.UserID)
		assert.Equal(t, "browser-abc", id.AnonymousID)
	})

	t.Run("garbage user header degrades to anonymous", func(t *testing.T) {
		id := resolveThroughRouter(t, map[string]string{HeaderUser: "not-a-number"})
		assert.Equal(t, int64(0), id.UserID)
		assert.False(t, id.Known())
	})

	t.Run("no headers is an unknown identity", func(t *testing.T) {
		id := resolveThroughRouter(t, nil)
		assert.False(t, id.Known())
	})
}

func TestGetIdentity_WithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, Identity{}, GetIdentity(c))
}
