// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the data structures shared by the contracts
// workflow, the generation gateway and the HTTP handlers.
//
// This file contains the Session aggregate and its step payload bag.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Steps
// =============================================================================

// Step numbers of the generation workflow.
const (
	StepPrompt    = 1
	StepTemplate  = 2
	StepMandatory = 3
	StepOptional  = 4
	StepReview    = 5

	// TotalSteps is the fixed number of workflow steps.
	TotalSteps = 5
)

// StepName returns a short label for a step number.
func StepName(step int) string {
	switch step {
	case StepPrompt:
		return "prompt"
	case StepTemplate:
		return "template"
	case StepMandatory:
		return "mandatory_clauses"
	case StepOptional:
		return "optional_clauses"
	case StepReview:
		return "review"
	default:
		return "unknown"
	}
}

// StepKey returns the session_data key holding step n's payload.
func StepKey(step int) string {
	return fmt.Sprintf("step%d", step)
}

// =============================================================================
// Session Status
// =============================================================================

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionAnalyzing SessionStatus = "analyzing"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

// IsTerminal reports whether no further mutation is allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionAbandoned
}

// =============================================================================
// Session
// =============================================================================

// PlaceholderPrefix marks a locally minted session id.
const PlaceholderPrefix = "local-"

// NewPlaceholderID mints a local session id used until the server assigns one.
func NewPlaceholderID() string {
	return PlaceholderPrefix + uuid.NewString()
}

// IsPlaceholderID reports whether id was minted locally.
func IsPlaceholderID(id string) bool {
	return id == "" || strings.HasPrefix(id, PlaceholderPrefix)
}

// SessionData maps step keys ("step1".."step5") to raw step payloads.
type SessionData map[string]json.RawMessage

// Session is the aggregate root of one contract-generation attempt.
//
// # Description
//
// A Session received from the gateway is the sole source of truth for its
// session-level fields. Callers replace their cached copy wholesale and never
// merge fields from two Sessions.
type Session struct {
	SessionID            string        `json:"session_id"`
	CurrentStep          int           `json:"current_step"`
	TotalSteps           int           `json:"total_steps"`
	Status               SessionStatus `json:"session_status"`
	CompletionPercentage float64       `json:"completion_percentage"`
	SelectedTemplateID   string        `json:"selected_template_id,omitempty"`
	ContractType         string        `json:"contract_type,omitempty"`
	OwnerID              string        `json:"owner_id,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
	LastActivityAt       time.Time     `json:"last_activity_at"`
	ExpiresAt            time.Time     `json:"expires_at,omitempty"`
	SessionData          SessionData   `json:"session_data,omitempty"`
}

// IsExpired reports whether expires_at has passed for a non-completed session.
func (s *Session) IsExpired(now time.Time) bool {
	if s.Status == SessionCompleted || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Clone returns a deep copy, including session_data.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.SessionData != nil {
		out.SessionData = make(SessionData, len(s.SessionData))
		for k, v := range s.SessionData {
			out.SessionData[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &out
}

// PutStep encodes v under step n's key.
func (s *Session) PutStep(step int, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", StepKey(step), err)
	}
	if s.SessionData == nil {
		s.SessionData = make(SessionData)
	}
	s.SessionData[StepKey(step)] = raw
	return nil
}

// DecodeStep decodes step n's payload into dst.
//
// # Outputs
//
//   - found: false when the key is absent or JSON null; dst is untouched.
//   - err: non-nil when the payload exists but is malformed.
func (s *Session) DecodeStep(step int, dst any) (found bool, err error) {
	raw, ok := s.SessionData[StepKey(step)]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", StepKey(step), err)
	}
	return true, nil
}
