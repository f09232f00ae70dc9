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
// Generation Gateway Wire Types
// =============================================================================
//
// Request and response bodies of the generation API. The same types are
// used by the HTTP gateway client and by the gin handlers that serve the
// API, so both sides of the wire agree by construction.

// AnalyzePromptRequest asks the gateway to analyze a contract request.
type AnalyzePromptRequest struct {
	Prompt string `json:"prompt" validate:"required,min=10,maxbytes"`
}

// CreateSessionRequest mints a server session from a selected template.
type CreateSessionRequest struct {
	TemplateID string          `json:"template_id" validate:"required"`
	Prompt     string          `json:"prompt" validate:"required,maxbytes"`
	Analysis   *AnalysisResult `json:"analysis,omitempty"`
}

// GenerateMandatoryRequest asks for the template's mandatory clauses.
type GenerateMandatoryRequest struct {
	Explanation string            `json:"explanation" validate:"required,maxbytes"`
	Fields      map[string]string `json:"fields,omitempty"`
	TemplateID  string            `json:"template_id" validate:"required"`
}

// ClausesResult is returned by every bulk clause generation call.
type ClausesResult struct {
	Clauses []Clause `json:"clauses"`
	Session *Session `json:"session,omitempty"`
}

// ApproveClauseRequest approves (or, for optional clauses, rejects) a clause.
type ApproveClauseRequest struct {
	Approved      bool   `json:"approved"`
	Modifications string `json:"modifications,omitempty" validate:"omitempty,maxbytes"`
}

// ApproveClauseResult carries the confirmed clause and the certification flag.
//
// Step3Completed is a secondary completion channel: when the gateway sets
// it to true, step 3 is complete regardless of the local approval tally.
type ApproveClauseResult struct {
	Clause         Clause   `json:"clause"`
	Session        *Session `json:"session,omitempty"`
	Step3Completed *bool    `json:"step3_completed,omitempty"`
}

// ReanalyzeClauseRequest asks for fresh content incorporating modifications.
type ReanalyzeClauseRequest struct {
	Modifications string `json:"modifications" validate:"required,maxbytes"`
}

// ReanalyzeClauseResult carries the regenerated clause.
type ReanalyzeClauseResult struct {
	Clause  Clause   `json:"clause"`
	Session *Session `json:"session,omitempty"`
}

// GenerateOptionalRequest asks for the template's optional clauses.
type GenerateOptionalRequest struct {
	TemplateID string `json:"template_id" validate:"required"`
}

// GenerateCustomRequest asks for drafts of user-described clauses.
type GenerateCustomRequest struct {
	Specs []CustomClauseSpec `json:"specs" validate:"required,min=1,max=20,dive"`
}

// PreviewResult carries the rendered preview.
type PreviewResult struct {
	Preview ContractPreview `json:"preview"`
}

// CompleteSessionRequest finalizes a session.
type CompleteSessionRequest struct {
	ReviewData ReviewData `json:"review_data"`
}

// CompleteSessionResult carries the completed session and final contract.
type CompleteSessionResult struct {
	Session       *Session      `json:"session"`
	FinalContract FinalContract `json:"final_contract"`
}

// ErrorResponse is the failure envelope of every JSON endpoint.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind,omitempty"`
}
