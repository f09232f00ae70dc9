// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discipline protects the generation gateway from duplicate,
// unbounded or hung calls.
//
// # Description
//
// Four mechanisms are applied to every network-bound workflow action:
//
//   - Policy + Execute: credential precondition, hard timeout with
//     abandonment, retry with exponential backoff for idempotent calls only
//   - BusyGuard: one in-flight invocation per action key
//   - Debouncer: bursts of lookups collapse into the last one
//   - rate limiting of generation calls (golang.org/x/time/rate)
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package discipline

import (
	"time"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultGeneralTimeout bounds every gateway call without a narrower bound.
	DefaultGeneralTimeout = 60 * time.Second

	// DefaultApprovalTimeout bounds clause approval calls.
	DefaultApprovalTimeout = 30 * time.Second

	// DefaultMaxAttempts is the attempt budget of idempotent calls.
	DefaultMaxAttempts = 3

	// DefaultInitialBackoff is the delay before the first retry.
	DefaultInitialBackoff = 500 * time.Millisecond

	// DefaultMaxBackoff caps the exponential backoff.
	DefaultMaxBackoff = 4 * time.Second

	// DefaultDebounceQuiet is the quiet period of debounced lookups.
	DefaultDebounceQuiet = 300 * time.Millisecond

	// MinTimeout is the floor applied to configured timeouts.
	MinTimeout = 100 * time.Millisecond
)

// =============================================================================
// Policy
// =============================================================================

// Policy describes how one class of gateway call is executed.
//
// # Description
//
// Idempotent calls may be retried up to MaxAttempts with exponential
// backoff starting at InitialBackoff and capped at MaxBackoff. Mutating
// calls always get exactly one attempt regardless of MaxAttempts.
// RateLimited calls wait on the executor's limiter before each attempt.
type Policy struct {
	Name           string
	Idempotent     bool
	MaxAttempts    int
	Timeout        time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RateLimited    bool
}

// Attempts returns the effective attempt budget.
func (p Policy) Attempts() int {
	if !p.Idempotent || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the delay before attempt n (n >= 2).
func (p Policy) Backoff(n int) time.Duration {
	if n < 2 {
		return 0
	}
	delay := p.InitialBackoff
	if delay <= 0 {
		delay = DefaultInitialBackoff
	}
	maxDelay := p.MaxBackoff
	if maxDelay <= 0 {
		maxDelay = DefaultMaxBackoff
	}
	for i := 2; i < n; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Named returns a copy of p with Name replaced.
func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

// Policies groups the policies used by the workflow.
type Policies struct {
	// Read covers idempotent reads: session fetch.
	Read Policy

	// Analyze covers prompt analysis, which is side-effect free.
	Analyze Policy

	// Search covers party lookups.
	Search Policy

	// Generate covers session creation, clause generation, reanalysis,
	// preview and completion. Never retried.
	Generate Policy

	// Approve covers clause approval and rejection. Never retried.
	Approve Policy
}

// DefaultPolicies returns the standard policy set.
func DefaultPolicies() Policies {
	read := Policy{
		Idempotent:     true,
		MaxAttempts:    DefaultMaxAttempts,
		Timeout:        DefaultGeneralTimeout,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
	return Policies{
		Read:    read.Named("read"),
		Analyze: read.Named("analyze"),
		Search:  read.Named("search"),
		Generate: Policy{
			Name:        "generate",
			MaxAttempts: 1,
			Timeout:     DefaultGeneralTimeout,
			RateLimited: true,
		},
		Approve: Policy{
			Name:        "approve",
			MaxAttempts: 1,
			Timeout:     DefaultApprovalTimeout,
		},
	}
}

// WithTimeouts returns a copy with the general and approval timeouts
// replaced. Values below MinTimeout are raised to it; zero keeps the
// current value.
func (ps Policies) WithTimeouts(general, approval time.Duration) Policies {
	apply := func(p *Policy, d time.Duration) {
		if d == 0 {
			return
		}
		p.Timeout = EnforceMinTimeout(d)
	}
	apply(&ps.Read, general)
	apply(&ps.Analyze, general)
	apply(&ps.Search, general)
	apply(&ps.Generate, general)
	apply(&ps.Approve, approval)
	return ps
}

// EnforceMinTimeout raises d to MinTimeout.
func EnforceMinTimeout(d time.Duration) time.Duration {
	if d < MinTimeout {
		return MinTimeout
	}
	return d
}
