// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable identity and audit seams of the
// contracts service.
//
// # Extension Points
//
//   - AuthProvider: validates inbound bearer tokens
//   - CredentialSource: supplies outbound tokens for gateway calls
//   - AuditLogger: records clause decisions and session completions
//
// Each has a default that lets the service run locally with no external
// infrastructure. Deployments swap them through ServiceOptions.
//
// # Usage
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(extensions.NewStaticTokenAuthProvider(tokens)).
//	    WithAudit(auditRepo)
package extensions

// ServiceOptions bundles the extension implementations used by the service.
type ServiceOptions struct {
	// AuthProvider validates inbound tokens.
	// Default: NopAuthProvider (always returns the local user)
	AuthProvider AuthProvider

	// CredentialSource supplies outbound gateway tokens.
	// Default: RequestCredentialSource (forwards the caller's token)
	CredentialSource CredentialSource

	// AuditLogger records compliance events.
	// Default: NopAuditLogger (discards all events)
	AuditLogger AuditLogger
}

// DefaultOptions returns options populated with the no-infrastructure defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:     &NopAuthProvider{},
		CredentialSource: RequestCredentialSource{},
		AuditLogger:      &NopAuditLogger{},
	}
}

// WithAuth returns a copy with the auth provider replaced.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithCredentials returns a copy with the credential source replaced.
func (opts ServiceOptions) WithCredentials(source CredentialSource) ServiceOptions {
	opts.CredentialSource = source
	return opts
}

// WithAudit returns a copy with the audit logger replaced.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}
