// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoCredential is returned when no usable outbound credential exists.
var ErrNoCredential = errors.New("no credential available")

// CredentialSource supplies the bearer token attached to outbound gateway calls.
//
// # Description
//
// Every gateway call resolves a credential first. A source that cannot
// produce one returns ErrNoCredential (or wraps it), and the caller must
// not attempt the network call.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type CredentialSource interface {
	CurrentToken(ctx context.Context) (string, error)
}

type tokenContextKey struct{}

// ContextWithToken returns a copy of ctx carrying token.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the token stored by ContextWithToken.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok && token != ""
}

// RequestCredentialSource forwards the caller's own token.
//
// The HTTP auth middleware stores the validated inbound bearer token in the
// request context; this source hands that same token to the gateway so the
// generation backend sees the end user, not the service.
type RequestCredentialSource struct{}

// CurrentToken reads the token from ctx.
func (RequestCredentialSource) CurrentToken(ctx context.Context) (string, error) {
	if token, ok := TokenFromContext(ctx); ok {
		return token, nil
	}
	return "", ErrNoCredential
}

// StaticCredentialSource always returns the same token.
type StaticCredentialSource struct {
	Token string
}

// CurrentToken returns the configured token, or ErrNoCredential if empty.
func (s StaticCredentialSource) CurrentToken(_ context.Context) (string, error) {
	if s.Token == "" {
		return "", ErrNoCredential
	}
	return s.Token, nil
}

// Token is an access token with an expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// RefreshFunc obtains a fresh token from an identity provider.
type RefreshFunc func(ctx context.Context) (Token, error)

// RefreshingCredentialSource caches a token and refreshes it before expiry.
//
// # Description
//
// The cached token is reused until it is within Skew of ExpiresAt. A
// refresh failure is reported as ErrNoCredential so that callers
// short-circuit instead of sending a stale token.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent callers that find the cache stale
// serialize on the refresh.
type RefreshingCredentialSource struct {
	refresh RefreshFunc
	skew    time.Duration
	now     func() time.Time

	mu      sync.Mutex
	current Token
}

// NewRefreshingCredentialSource creates a source backed by refresh.
// A zero skew defaults to 30 seconds.
func NewRefreshingCredentialSource(refresh RefreshFunc, skew time.Duration) *RefreshingCredentialSource {
	if skew <= 0 {
		skew = 30 * time.Second
	}
	return &RefreshingCredentialSource{
		refresh: refresh,
		skew:    skew,
		now:     time.Now,
	}
}

// CurrentToken returns the cached token or refreshes it.
func (s *RefreshingCredentialSource) CurrentToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Value != "" && s.now().Add(s.skew).Before(s.current.ExpiresAt) {
		return s.current.Value, nil
	}

	token, err := s.refresh(ctx)
	if err != nil {
		s.current = Token{}
		return "", fmt.Errorf("refresh credential: %v: %w", err, ErrNoCredential)
	}
	if token.Value == "" {
		s.current = Token{}
		return "", fmt.Errorf("refresh returned empty token: %w", ErrNoCredential)
	}
	s.current = token
	return token.Value, nil
}

var (
	_ CredentialSource = RequestCredentialSource{}
	_ CredentialSource = StaticCredentialSource{}
	_ CredentialSource = (*RefreshingCredentialSource)(nil)
)
