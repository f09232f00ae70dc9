// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the contracts service.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo and token in the Gin and request contexts
//	           │
//	           ▼
//	       Handler (GetAuthInfo, or extensions.AuthInfoFromContext
//	       further down the call chain)
//
// The token is kept in the request context so calls made on the user's
// behalf (the remote generation gateway) forward the same credential
// through extensions.RequestCredentialSource.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// authInfoKey is the Gin context key for AuthInfo.
const authInfoKey = "contracts_auth_info"

// SetAuthInfo stores the authenticated user in the Gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the authenticated user, or nil when the request was
// not authenticated.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// AuthMiddleware authenticates every request with provider.
//
// # Description
//
// Extracts the bearer token, validates it and stores the identity for
// downstream handlers. Both the identity and the raw token are also put on
// the request's context.Context. Failures abort with 401 and the standard
// error envelope.
//
// # Inputs
//
//   - provider: Validates tokens. Must not be nil.
//
// # Thread Safety
//
// The returned middleware can be used concurrently.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil || authInfo == nil {
			detail := "authentication failed"
			if errors.Is(err, extensions.ErrUnauthorized) {
				detail = "unauthorized"
			}
			slog.Debug("request rejected", "path", c.FullPath(), "reason", detail)
			c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.ErrorResponse{
				Detail: detail,
				Kind:   string(datatypes.KindUnauthenticated),
			})
			return
		}

		SetAuthInfo(c, authInfo)
		ctx := extensions.ContextWithAuthInfo(c.Request.Context(), authInfo)
		if token != "" {
			ctx = extensions.ContextWithToken(ctx, token)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// extractBearerToken returns the token from "Authorization: Bearer <token>",
// or "" when the header is missing or uses another scheme. The scheme is
// case-insensitive.
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
