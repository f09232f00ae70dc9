// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianContracts/pkg/validation"
	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
	"github.com/AleutianAI/AleutianContracts/services/contracts/gateway"
)

// =============================================================================
// Generation API
// =============================================================================
//
// These handlers expose a gateway.Backend over the wire protocol that
// gateway.HTTPGateway speaks, so a workflow service can use a remote
// generation service or an in-process one interchangeably.

// HandleAnalyzePrompt serves POST /v1/generation/analyze.
func HandleAnalyzePrompt(gw gateway.GenerationGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AnalyzePromptRequest
		if err := bindJSON(c, "analyze_prompt", &req, false); err != nil {
			respondError(c, err)
			return
		}
		result, err := gw.AnalyzePrompt(c.Request.Context(), req.Prompt)
		respond(c, http.StatusOK, result, err)
	}
}

// HandleCreateSession serves POST /v1/generation/sessions.
func HandleCreateSession(gw gateway.GenerationGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateSessionRequest
		if err := bindJSON(c, "create_session", &req, false); err != nil {
			respondError(c, err)
			return
		}
		session, err := gw.CreateSession(c.Request.Context(), req.TemplateID, req.Prompt, req.Analysis)
		respond(c, http.StatusCreated, session, err)
	}
}

// HandleGetSession serves GET /v1/generation/sessions/:id.
func HandleGetSession(store gateway.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := store.GetSession(c.Request.Context(), c.Param("id"))
		respond(c, http.StatusOK, session, err)
	}
}

// HandleGenerateMandatory serves POST /v1/generation/sessions/:id/mandatory-clauses.
func HandleGenerateMandatory(gw gateway.GenerationGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.GenerateMandatoryRequest
		if err := bindJSON(c, "generate_mandatory", &req, false); err != nil {
			respondError(c, err)
			return
		}
		result, err := gw.GenerateMandatoryClauses(c.Request.Context(), c.Param("id"), req.Explanation, req.Fields, req.TemplateID)
		respond(c, http.StatusOK, result, err)
	}
}

// HandleApproveClause serves POST /v1/generation/sessions/:id/clauses/:cid/approve.
func HandleApproveClause(gw gateway.GenerationGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ApproveClauseRequest
		if err := bindJSON(c, "approve_clause", &req, false); err != nil {
			respondError(c, err)
			return
		}
		result, err := gw.ApproveClause(c.Request.Context(), c.Param("id"), c.Param("cid"), req.Approved, req.Modifications)
		respond(c, http.StatusOK, result, err)
	}
}

// HandleReanalyzeClause serves POST /v1/generation/sessions/:id/clauses/:cid/reanalyze.
func HandleReanalyzeClause(gw gateway.GenerationGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ReanalyzeClauseRequest
		if err := bindJSON(c, "reanalyze_clause", &req, false); err != nil {
			respondError(c, err)
			return
		}
		result, err := gw.ReanalyzeClause(c.Request.Context(), c.Param("id"), c.Param("cid"), req.Modifications)
		respond(c, http.StatusOK, result, err)
	}
}

// HandleGenerateOptional serves POST /v1/generation/sessions/:id/optional-clauses.
func HandleGenerateOptional(gw gateway.GenerationGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.GenerateOptionalRequest
		if err := bindJSON(c, "generate_optional", &req, false); err != nil {
			respondError(c, err)
			return
		}
		result, err := gw.GenerateOptionalClauses(c.Request.Context(), c.Param("id"), req.TemplateID)
		respond(c, http.StatusOK, result, err)
	}
}

// HandleGenerateCustom serves POST /v1/generation/sessions/:id/custom-clauses.
func HandleGenerateCustom(gw gateway.GenerationGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.GenerateCustomRequest
		if err := bindJSON(c, "generate_custom", &req, false); err != nil {
			respondError(c, err)
			return
		}
		result, err := gw.GenerateCustomClauses(c.Request.Context(), c.Param("id"), req.Specs)
		respond(c, http.StatusOK, result, err)
	}
}

// HandleGeneratePreview serves POST /v1/generation/sessions/:id/preview.
func HandleGeneratePreview(gw gateway.GenerationGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := gw.GeneratePreview(c.Request.Context(), c.Param("id"))
		respond(c, http.StatusOK, result, err)
	}
}

// HandleCompleteSession serves POST /v1/generation/sessions/:id/complete.
func HandleCompleteSession(gw gateway.GenerationGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CompleteSessionRequest
		if err := bindJSON(c, "complete_session", &req, true); err != nil {
			respondError(c, err)
			return
		}
		result, err := gw.CompleteSession(c.Request.Context(), c.Param("id"), req.ReviewData)
		respond(c, http.StatusOK, result, err)
	}
}

// =============================================================================
// Parties
// =============================================================================

// PartyWriter registers parties in the directory. store.PartyRepository
// implements it.
type PartyWriter interface {
	UpsertParty(ctx context.Context, p *datatypes.PartyInfo) error
}

// HandleGetParty serves GET /v1/parties/:external_id.
func HandleGetParty(dir gateway.PartyDirectory) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := validation.SanitizeExternalID(c.Param("external_id"))
		if err != nil {
			respondError(c, datatypes.NewValidationError("lookup_party", "%v", err))
			return
		}
		party, err := dir.LookupParty(c.Request.Context(), id)
		respond(c, http.StatusOK, party, err)
	}
}

// HandlePutParty serves PUT /v1/parties/:external_id. The path id wins
// over any id in the body.
func HandlePutParty(w PartyWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PartyRecordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, datatypes.NewValidationError("upsert_party", "invalid request body"))
			return
		}
		id, err := validation.SanitizeExternalID(c.Param("external_id"))
		if err != nil {
			respondError(c, datatypes.NewValidationError("upsert_party", "%v", err))
			return
		}
		req.ExternalID = id
		if err := datatypes.Validate(req); err != nil {
			respondError(c, datatypes.NewValidationError("upsert_party", "invalid request: %s", validationSummary(err)))
			return
		}
		party := req.ToParty()
		if err := w.UpsertParty(c.Request.Context(), &party); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, party)
	}
}

// respond writes v with status, or the error envelope.
func respond(c *gin.Context, status int, v any, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, v)
}
