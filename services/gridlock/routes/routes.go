// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/Gridlock/services/gridlock/handlers"
	"github.com/AleutianAI/Gridlock/services/gridlock/middleware"
	"github.com/AleutianAI/Gridlock/services/gridlock/realtime"
	"github.com/AleutianAI/Gridlock/services/gridlock/session"
)

func SetupRoutes(router *gin.Engine, coord *session.Coordinator, hub *realtime.Hub,
	provider middleware.IdentityProvider) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.IdentityMiddleware(provider))
	{
		v1.GET("/ws", handlers.HandleWebSocket(hub))

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(coord))
			sessions.POST("", handlers.StartSession(coord))
			sessions.POST("/claim", handlers.ClaimSessions(coord))
			sessions.GET("/:sessionId/state", handlers.GetSessionState(coord))
			sessions.PUT("/:sessionId/state", handlers.ReplaceSessionState(coord))
			sessions.POST("/:sessionId/cell", handlers.UpdateSessionCell(coord))
			sessions.POST("/:sessionId/words/claim", handlers.ClaimSessionWord(coord))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(coord))
		}
	}
}
