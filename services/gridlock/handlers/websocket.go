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
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Gridlock/services/gridlock/middleware"
	"github.com/AleutianAI/Gridlock/services/gridlock/realtime"
)

// HandleWebSocket upgrades the request into the realtime hub.
//
// GET /v1/ws
func HandleWebSocket(hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.GetIdentity(c)
		if err := hub.Serve(c.Writer, c.Request, id.UserID, id.AnonymousID); err != nil {
			// Serve has already written the upgrade failure response.
			slog.Warn("websocket upgrade failed", "error", err)
		}
	}
}
