// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway defines the collaborators the contracts workflow consumes
// and provides their remote (HTTP) and disciplined implementations.
//
// # Description
//
// The workflow never talks to an AI provider or a database directly. It
// goes through three narrow interfaces:
//
//   - GenerationGateway: prompt analysis, clause generation, approval,
//     reanalysis, preview and completion
//   - PartyDirectory: lookup of counterparties by external id
//   - SessionStore: read access to the persisted session
//
// HTTPGateway implements all three against the generation API. Disciplined
// wraps any implementation with timeouts, retries and the credential
// precondition. The direct subpackage implements them in-process.
package gateway

import (
	"context"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// =============================================================================
// Interfaces
// =============================================================================

// GenerationGateway performs the AI-backed operations of the workflow.
//
// # Description
//
// Every method may take seconds and may fail. Implementations return
// *datatypes.WorkflowError values so callers can apply the error policy.
// Any Session in a result is the server's current truth for that session.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type GenerationGateway interface {
	// AnalyzePrompt decides whether the request can be handled and suggests templates.
	AnalyzePrompt(ctx context.Context, prompt string) (*datatypes.AnalysisResult, error)

	// CreateSession mints the server session for a selected template.
	CreateSession(ctx context.Context, templateID, prompt string, analysis *datatypes.AnalysisResult) (*datatypes.Session, error)

	// GenerateMandatoryClauses drafts the template's mandatory clauses.
	GenerateMandatoryClauses(ctx context.Context, sessionID, explanation string, fields map[string]string, templateID string) (*datatypes.ClausesResult, error)

	// ApproveClause confirms approval (approved=true) or rejection (approved=false).
	ApproveClause(ctx context.Context, sessionID, clauseID string, approved bool, modifications string) (*datatypes.ApproveClauseResult, error)

	// ReanalyzeClause regenerates a clause incorporating the user's modifications.
	ReanalyzeClause(ctx context.Context, sessionID, clauseID, modifications string) (*datatypes.ReanalyzeClauseResult, error)

	// GenerateOptionalClauses drafts the template's optional clauses.
	GenerateOptionalClauses(ctx context.Context, sessionID, templateID string) (*datatypes.ClausesResult, error)

	// GenerateCustomClauses drafts user-described clauses.
	GenerateCustomClauses(ctx context.Context, sessionID string, specs []datatypes.CustomClauseSpec) (*datatypes.ClausesResult, error)

	// GeneratePreview renders the contract for review.
	GeneratePreview(ctx context.Context, sessionID string) (*datatypes.PreviewResult, error)

	// CompleteSession finalizes the session and returns the final contract.
	CompleteSession(ctx context.Context, sessionID string, review datatypes.ReviewData) (*datatypes.CompleteSessionResult, error)
}

// PartyDirectory resolves counterparties.
type PartyDirectory interface {
	// LookupParty returns the party or an error matching datatypes.ErrPartyNotFound.
	LookupParty(ctx context.Context, externalID string) (*datatypes.PartyInfo, error)
}

// SessionStore reads persisted sessions.
type SessionStore interface {
	// GetSession returns the session snapshot or an error matching datatypes.ErrNotFound.
	GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error)
}

// Backend bundles the three collaborators.
type Backend interface {
	GenerationGateway
	PartyDirectory
	SessionStore
}
