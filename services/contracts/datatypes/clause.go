// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// Clause Status
// =============================================================================

// ClauseStatus is the lifecycle state of a single clause.
type ClauseStatus string

const (
	ClausePending            ClauseStatus = "pending"
	ClauseAIGenerated        ClauseStatus = "ai_generated"
	ClauseRegenerated        ClauseStatus = "regenerated"
	ClauseRegenerationFailed ClauseStatus = "regeneration_failed"
	ClauseEditing            ClauseStatus = "editing"
	ClauseApproved           ClauseStatus = "approved"
	ClauseRejected           ClauseStatus = "rejected"
)

// AllClauseStatuses lists every valid status.
var AllClauseStatuses = []ClauseStatus{
	ClausePending,
	ClauseAIGenerated,
	ClauseRegenerated,
	ClauseRegenerationFailed,
	ClauseEditing,
	ClauseApproved,
	ClauseRejected,
}

// Valid reports whether s is a known status.
func (s ClauseStatus) Valid() bool {
	for _, known := range AllClauseStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is approved or rejected.
func (s ClauseStatus) IsTerminal() bool {
	return s == ClauseApproved || s == ClauseRejected
}

// IsReviewable reports whether a clause in status s can be approved directly.
func (s ClauseStatus) IsReviewable() bool {
	switch s {
	case ClausePending, ClauseAIGenerated, ClauseRegenerated, ClauseRegenerationFailed:
		return true
	default:
		return false
	}
}

// =============================================================================
// Clause Kind
// =============================================================================

// ClauseKind identifies which collection a clause belongs to.
type ClauseKind string

const (
	KindMandatory ClauseKind = "mandatory"
	KindOptional  ClauseKind = "optional"
	KindCustom    ClauseKind = "custom"
)

// Rejectable reports whether clauses of this kind may be rejected outright.
// Custom clauses are user-authored and follow the optional rules.
func (k ClauseKind) Rejectable() bool {
	return k == KindOptional || k == KindCustom
}

// =============================================================================
// Clause
// =============================================================================

// Clause is one legal provision of a contract.
//
// Clauses are created in bulk by a generation call and are never deleted
// individually. Regeneration replaces Content and AIGeneratedContent but
// keeps ClauseID.
type Clause struct {
	ClauseID           string       `json:"clause_id"`
	Title              string       `json:"title"`
	Content            string       `json:"content"`
	AIGeneratedContent string       `json:"ai_generated_content,omitempty"`
	Status             ClauseStatus `json:"status"`
	IsMandatory        bool         `json:"is_mandatory"`
	Kind               ClauseKind   `json:"kind,omitempty"`
	Position           int          `json:"position"`
	ConfidenceScore    *float64     `json:"confidence_score,omitempty"`
	LegalReferences    []string     `json:"legal_references,omitempty"`
	RiskAssessment     string       `json:"risk_assessment,omitempty"`
	UserModifications  string       `json:"user_modifications,omitempty"`
}

// EffectiveKind returns Kind, inferring it from IsMandatory when empty.
func (c Clause) EffectiveKind() ClauseKind {
	if c.IsMandatory {
		return KindMandatory
	}
	if c.Kind == "" {
		return KindOptional
	}
	return c.Kind
}

// CustomClauseSpec describes a user-authored clause to be drafted by the gateway.
type CustomClauseSpec struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required,max=4000"`
}
