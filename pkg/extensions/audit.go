// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"time"
)

// Audit event types emitted by the contracts workflow.
const (
	AuditClauseApproved   = "clause.approved"
	AuditClauseRejected   = "clause.rejected"
	AuditClauseReanalyzed = "clause.reanalyzed"
	AuditSessionCreated   = "session.created"
	AuditSessionCompleted = "session.completed"
	AuditSessionAbandoned = "session.abandoned"
)

// AuditEvent represents a compliance-relevant event.
//
// Contract approvals are legally meaningful, so every confirmed clause
// decision and every session completion is recorded with the acting user.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    extensions.AuditClauseApproved,
//	    Timestamp:    time.Now().UTC(),
//	    UserID:       authInfo.UserID,
//	    Action:       "approve",
//	    ResourceType: "clause",
//	    ResourceID:   clauseID,
//	    Outcome:      "success",
//	    Metadata: map[string]any{
//	        "session_id": sessionID,
//	    },
//	}
type AuditEvent struct {
	// EventType categorizes the event. Format: "category.action".
	EventType string

	// Timestamp is when the event occurred (UTC). Zero means now.
	Timestamp time.Time

	// UserID identifies who performed the action. "system" for sweeps.
	UserID string

	// Action describes the operation: "approve", "reject", "complete", ...
	Action string

	// ResourceType is "session" or "clause".
	ResourceType string

	// ResourceID is the session or clause id.
	ResourceID string

	// Outcome is "success", "failure" or "blocked".
	Outcome string

	// Metadata holds event-specific data such as "session_id".
	Metadata map[string]any
}

// AuditFilter defines criteria for querying audit events.
//
// All fields are optional; non-zero fields are combined with AND.
type AuditFilter struct {
	EventTypes   []string
	UserID       string
	StartTime    time.Time
	EndTime      time.Time
	ResourceType string
	ResourceID   string
	Limit        int
}

// AuditLogger records compliance events.
//
// Implementations should set Timestamp when zero and must be safe for
// concurrent use.
type AuditLogger interface {
	// Log records an event.
	Log(ctx context.Context, event AuditEvent) error

	// Query returns matching events ordered by Timestamp descending.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush persists buffered events. A no-op for synchronous loggers.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
//
// Thread-safe: This implementation has no mutable state.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

// Query returns an empty slice.
func (l *NopAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush is a no-op.
func (l *NopAuditLogger) Flush(ctx context.Context) error {
	return nil
}

var _ AuditLogger = (*NopAuditLogger)(nil)
