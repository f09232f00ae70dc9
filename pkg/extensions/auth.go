// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when a bearer token fails validation.
//
// Example:
//
//	if !validToken {
//	    return nil, fmt.Errorf("token revoked: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo contains identity information returned after successful authentication.
//
// In the contracts service the authenticated actor is also Party 1 of every
// contract they draft, so the display fields (Name, Phone, Address) are
// carried here rather than looked up separately.
//
// Example:
//
//	info := &AuthInfo{
//	    UserID: "user-123",
//	    Email:  "user@example.com",
//	    Roles:  []string{"drafter"},
//	    Metadata: map[string]string{"party_type": "company"},
//	}
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user. Never empty.
	UserID string

	// Email is the user's email address. May be empty.
	Email string

	// Name is the display or legal name used when the user is a party.
	Name string

	// Roles contains the user's role memberships.
	Roles []string

	// Metadata holds additional claims from the identity provider.
	//
	// Keys read by the contracts service:
	//   - "phone", "address": copied into Party 1
	//   - "party_type": individual, company, government, nonprofit
	Metadata map[string]string
}

// HasRole checks if the user has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Claim returns a metadata value or "" when absent.
func (a *AuthInfo) Claim(key string) string {
	if a.Metadata == nil {
		return ""
	}
	return a.Metadata[key]
}

// AuthProvider validates bearer tokens and returns user identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Open Source Behavior
//
// NopAuthProvider accepts any token and returns a local user. Deployments
// that front the service with an identity provider implement this
// interface against it.
type AuthProvider interface {
	// Validate checks if the token is valid and returns the user's identity.
	//
	// Returns ErrUnauthorized (or a wrapped form) for invalid tokens and
	// other errors for infrastructure failures.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider is the default authentication provider for local use.
//
// It always returns a valid local user, so the service can run without any
// authentication infrastructure.
//
// Thread-safe: This implementation has no mutable state.
type NopAuthProvider struct{}

// Validate always returns the local user. The token is ignored.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Name:   "Local User",
		Roles:  []string{"admin"},
	}, nil
}

// StaticTokenAuthProvider validates tokens against a fixed table.
//
// # Description
//
// Intended for single-tenant deployments and integration tests where the
// set of API tokens is provisioned through configuration. Comparison is
// constant-time per entry.
//
// # Thread Safety
//
// Safe for concurrent use after construction; the table is never mutated.
type StaticTokenAuthProvider struct {
	tokens map[string]AuthInfo
}

// NewStaticTokenAuthProvider creates a provider from a token → identity table.
func NewStaticTokenAuthProvider(tokens map[string]AuthInfo) *StaticTokenAuthProvider {
	copied := make(map[string]AuthInfo, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &StaticTokenAuthProvider{tokens: copied}
}

// Validate returns the identity registered for token.
func (p *StaticTokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token: %w", ErrUnauthorized)
	}
	for known, info := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			info := info
			return &info, nil
		}
	}
	return nil, fmt.Errorf("unknown token: %w", ErrUnauthorized)
}

// Compile-time interface compliance checks.
var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*StaticTokenAuthProvider)(nil)
)

type authInfoContextKey struct{}

// ContextWithAuthInfo attaches the authenticated actor to ctx.
func ContextWithAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoContextKey{}, info)
}

// AuthInfoFromContext returns the actor attached by ContextWithAuthInfo.
func AuthInfoFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authInfoContextKey{}).(*AuthInfo)
	return info, ok && info != nil
}
