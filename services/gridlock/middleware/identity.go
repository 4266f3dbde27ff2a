// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the Gridlock service.
//
// # Identity Flow
//
// The identity middleware resolves who is making the request — an
// authenticated user id, an anonymous client id, or both — and stores the
// result in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	IdentityMiddleware
//	   │
//	   ├─► provider.Resolve(r)
//	   │
//	   └─► Store Identity in context
//	           │
//	           ▼
//	       Handler (retrieves via GetIdentity)
//
// The session engine never validates credentials itself; it trusts the
// resolved identity. The default HeaderProvider reads trusted headers set
// by an authenticating reverse proxy. Deployments with their own auth
// stack supply a custom IdentityProvider.
package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// identityKey is the context key for storing Identity.
const identityKey = "gridlock_identity"

// Headers read by the default HeaderProvider.
const (
	// HeaderUser carries the authenticated user id, set by the proxy.
	HeaderUser = "X-Gridlock-User"

	// HeaderAnon carries the browser's anonymous id, set by the client.
	HeaderAnon = "X-Gridlock-Anon"
)

// Identity is the resolved caller of a request.
type Identity struct {
	// UserID is the authenticated user, 0 if anonymous.
	UserID int64

	// AnonymousID is the client-generated anonymous id, may be empty.
	AnonymousID string
}

// Known reports whether the request carried any identity at all.
func (id Identity) Known() bool {
	return id.UserID > 0 || id.AnonymousID != ""
}

// IdentityProvider resolves the caller of a request.
type IdentityProvider interface {
	Resolve(r *http.Request) Identity
}

// HeaderProvider resolves identity from trusted proxy headers.
type HeaderProvider struct{}

var _ IdentityProvider = HeaderProvider{}

// Resolve reads HeaderUser and HeaderAnon. An unparseable user header is
// treated as anonymous rather than rejected; the proxy owns validation.
func (HeaderProvider) Resolve(r *http.Request) Identity {
	var id Identity
	if raw := r.Header.Get(HeaderUser); raw != "" {
		if userID, err := strconv.ParseInt(raw, 10, 64); err == nil && userID > 0 {
			id.UserID = userID
		}
	}
	id.AnonymousID = r.Header.Get(HeaderAnon)
	return id
}

// SetIdentity stores the resolved identity in the Gin context.
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(identityKey, id)
}

// GetIdentity retrieves the resolved identity. Returns a zero Identity if
// the middleware did not run.
func GetIdentity(c *gin.Context) Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}

// IdentityMiddleware resolves and stores the caller's identity on every
// request. It never rejects; endpoints that require an identity enforce
// that themselves.
func IdentityMiddleware(provider IdentityProvider) gin.HandlerFunc {
	if provider == nil {
		provider = HeaderProvider{}
	}
	return func(c *gin.Context) {
		SetIdentity(c, provider.Resolve(c.Request))
		c.Next()
	}
}
