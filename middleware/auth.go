// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the chat service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header,
// validates it using the configured AuthProvider, and stores the resulting
// Identity in the Gin context for downstream handlers.
//
// # Local Behavior
//
// When using NopAuthProvider (default), all requests are authenticated as
// "local-user", with an X-User-Id header override for multi-user testing.
// This lets deployments run without any authentication infrastructure.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ErrUnauthorized is returned by AuthProvider implementations for invalid
// credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the authenticated caller.
type Identity struct {
	UserID string
}

// AuthProvider validates bearer tokens.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	// Validate checks a bearer token and returns the caller's identity.
	// An empty token is valid for providers that allow anonymous access.
	Validate(ctx context.Context, token string) (*Identity, error)
}

// NopAuthProvider authenticates every request as a fixed local identity.
type NopAuthProvider struct{}

// Validate always succeeds with the "local-user" identity.
func (NopAuthProvider) Validate(ctx context.Context, token string) (*Identity, error) {
	return &Identity{UserID: "local-user"}, nil
}

// =============================================================================
// Context Keys
// =============================================================================

// identityKey is the context key for the authenticated identity.
const identityKey = "im_identity"

// SetIdentity stores the authenticated identity in the Gin context.
func SetIdentity(c *gin.Context, id *Identity) {
	c.Set(identityKey, id)
}

// GetIdentity retrieves the authenticated identity, or nil if the request
// was not authenticated.
func GetIdentity(c *gin.Context) *Identity {
	if v, exists := c.Get(identityKey); exists {
		if id, ok := v.(*Identity); ok {
			return id
		}
	}
	return nil
}

// UserID returns the caller's user ID. An X-User-Id header overrides the
// authenticated identity so local deployments can exercise multiple users.
func UserID(c *gin.Context) string {
	if override := c.GetHeader("X-User-Id"); override != "" {
		return override
	}
	if id := GetIdentity(c); id != nil {
		return id.UserID
	}
	return "local-user"
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Extracts the bearer token from the Authorization header, validates it with
// the provider, and stores the resulting Identity in the context. Requests
// failing validation are aborted with 401.
func AuthMiddleware(provider AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		identity, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetIdentity(c, identity)
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>". Returns "" if
// the header is missing or malformed. The scheme is case-insensitive per
// RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
