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
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianContracts/pkg/validation"
	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
	"github.com/AleutianAI/AleutianContracts/services/contracts/middleware"
	"github.com/AleutianAI/AleutianContracts/services/contracts/workflow"
)

// =============================================================================
// Drafts API
// =============================================================================

// StartDraftResponse is returned when a draft is started or resumed.
type StartDraftResponse struct {
	Draft     workflow.View      `json:"draft"`
	Anomalies []workflow.Anomaly `json:"anomalies,omitempty"`
}

// draftAction runs one user action against a resolved draft.
type draftAction func(c *gin.Context, o *workflow.Orchestrator) error

// withDraft resolves :id for the authenticated user, runs fn and answers
// with the draft's view.
func withDraft(reg *workflow.Registry, fn draftAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := middleware.GetAuthInfo(c)
		if info == nil {
			respondError(c, datatypes.NewUnauthenticatedError("draft", nil))
			return
		}
		o, err := reg.Get(c.Request.Context(), info.UserID, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if fn != nil {
			if err := fn(c, o); err != nil {
				respondError(c, err)
				return
			}
		}
		c.JSON(http.StatusOK, o.View())
	}
}

// HandleStartDraft serves POST /v1/drafts. With a session_id the server
// session is resumed; otherwise a fresh draft starts at step 1.
func HandleStartDraft(reg *workflow.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := middleware.GetAuthInfo(c)
		if info == nil {
			respondError(c, datatypes.NewUnauthenticatedError("start_draft", nil))
			return
		}
		var req datatypes.StartDraftRequest
		if err := bindJSON(c, "start_draft", &req, true); err != nil {
			respondError(c, err)
			return
		}

		ctx := c.Request.Context()
		if req.SessionID == "" {
			o, err := reg.Start(ctx, info.UserID)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusCreated, StartDraftResponse{Draft: o.View()})
			return
		}

		o, anomalies, err := reg.Open(ctx, info.UserID, req.SessionID)
		if err != nil {
			respondError(c, err)
			return
		}
		if len(anomalies) > 0 {
			slog.Warn("draft resumed with anomalies", "session_id", req.SessionID, "count", len(anomalies))
		}
		c.JSON(http.StatusOK, StartDraftResponse{Draft: o.View(), Anomalies: anomalies})
	}
}

// HandleGetDraft serves GET /v1/drafts/:id.
func HandleGetDraft(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, nil)
}

// HandleDeleteDraft serves DELETE /v1/drafts/:id.
func HandleDeleteDraft(reg *workflow.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := middleware.GetAuthInfo(c)
		if info == nil {
			respondError(c, datatypes.NewUnauthenticatedError("delete_draft", nil))
			return
		}
		if err := reg.Remove(c.Request.Context(), info.UserID, c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// HandleAnalyze serves POST /v1/drafts/:id/analyze.
func HandleAnalyze(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(c *gin.Context, o *workflow.Orchestrator) error {
		var req datatypes.AnalyzeRequest
		if err := bindJSON(c, "analyze", &req, false); err != nil {
			return err
		}
		_, err := o.Analyze(c.Request.Context(), req.Prompt)
		return err
	})
}

// HandleSelectTemplate serves POST /v1/drafts/:id/template.
func HandleSelectTemplate(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(c *gin.Context, o *workflow.Orchestrator) error {
		var req datatypes.SelectTemplateRequest
		if err := bindJSON(c, "select_template", &req, false); err != nil {
			return err
		}
		return o.SelectTemplate(c.Request.Context(), req.TemplateID)
	})
}

// HandleShowAllTemplates serves POST /v1/drafts/:id/templates/show-all.
func HandleShowAllTemplates(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(c *gin.Context, o *workflow.Orchestrator) error {
		var req datatypes.ShowAllTemplatesRequest
		if err := bindJSON(c, "show_all_templates", &req, false); err != nil {
			return err
		}
		return o.ShowAllTemplates(req.ShowAll)
	})
}

// HandleCompleteStep serves POST /v1/drafts/:id/steps/:n/complete.
func HandleCompleteStep(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(c *gin.Context, o *workflow.Orchestrator) error {
		n, err := strconv.Atoi(c.Param("n"))
		if err != nil || n < datatypes.StepPrompt || n > datatypes.TotalSteps {
			return datatypes.NewValidationError("complete_step", "step must be between 1 and %d", datatypes.TotalSteps)
		}
		return o.ApplyStepCompletion(c.Request.Context(), n)
	})
}

// HandleGoBack serves POST /v1/drafts/:id/back.
func HandleGoBack(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(_ *gin.Context, o *workflow.Orchestrator) error {
		o.GoBack()
		return nil
	})
}

// HandleSetExplanation serves PUT /v1/drafts/:id/explanation.
func HandleSetExplanation(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(c *gin.Context, o *workflow.Orchestrator) error {
		var req datatypes.ExplanationRequest
		if err := bindJSON(c, "set_explanation", &req, false); err != nil {
			return err
		}
		return o.SetExplanation(req.Explanation, req.Fields)
	})
}

// HandleLookupParty serves POST /v1/drafts/:id/party.
func HandleLookupParty(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(c *gin.Context, o *workflow.Orchestrator) error {
		var req datatypes.PartyLookupRequest
		if err := bindJSON(c, "lookup_party", &req, false); err != nil {
			return err
		}
		id, err := validation.SanitizeExternalID(req.ExternalID)
		if err != nil {
			return datatypes.NewValidationError("lookup_party", "%v", err)
		}
		_, err = o.LookupParty(c.Request.Context(), id)
		return err
	})
}

// HandleGenerateMandatoryClauses serves POST /v1/drafts/:id/mandatory-clauses.
func HandleGenerateMandatoryClauses(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(c *gin.Context, o *workflow.Orchestrator) error {
		_, err := o.GenerateMandatory(c.Request.Context())
		return err
	})
}

// HandleGenerateOptionalClauses serves POST /v1/drafts/:id/optional-clauses.
func HandleGenerateOptionalClauses(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(c *gin.Context, o *workflow.Orchestrator) error {
		_, err := o.GenerateOptional(c.Request.Context())
		return err
	})
}

// HandleGenerateCustomClauses serves POST /v1/drafts/:id/custom-clauses.
func HandleGenerateCustomClauses(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(c *gin.Context, o *workflow.Orchestrator) error {
		var req datatypes.CustomClausesRequest
		if err := bindJSON(c, "generate_custom", &req, false); err != nil {
			return err
		}
		_, err := o.GenerateCustom(c.Request.Context(), req.Specs)
		return err
	})
}

// HandleClauseAction serves POST /v1/drafts/:id/clauses/:cid/:action for
// approve, reject, edit, cancel and reanalyze.
func HandleClauseAction(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(c *gin.Context, o *workflow.Orchestrator) error {
		ctx, id := c.Request.Context(), c.Param("cid")
		var err error
		switch action := c.Param("action"); action {
		case "approve":
			_, err = o.ApproveClause(ctx, id)
		case "reject":
			_, err = o.RejectClause(ctx, id)
		case "edit":
			err = o.EditClause(id)
		case "cancel":
			err = o.CancelEdit(id)
		case "reanalyze":
			_, err = o.ReanalyzeClause(ctx, id)
		default:
			err = datatypes.NewValidationError("clause_action", "unknown clause action %q", action)
		}
		return err
	})
}

// HandleUpdateClauseDraft serves PUT /v1/drafts/:id/clauses/:cid/draft.
func HandleUpdateClauseDraft(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(c *gin.Context, o *workflow.Orchestrator) error {
		var req datatypes.EditClauseRequest
		if err := bindJSON(c, "update_draft", &req, false); err != nil {
			return err
		}
		return o.UpdateClauseDraft(c.Param("cid"), req.Content)
	})
}

// HandleCursor serves POST /v1/drafts/:id/cursor/:collection/:direction.
func HandleCursor(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(c *gin.Context, o *workflow.Orchestrator) error {
		req := datatypes.CursorRequest{Collection: c.Param("collection")}
		if err := datatypes.Validate(req); err != nil {
			return datatypes.NewValidationError("move_cursor", "unknown clause collection %q", req.Collection)
		}
		kind := datatypes.ClauseKind(req.Collection)
		switch dir := c.Param("direction"); dir {
		case "next":
			return o.Next(kind)
		case "prev":
			return o.Prev(kind)
		default:
			return datatypes.NewValidationError("move_cursor", "direction must be next or prev")
		}
	})
}

// HandlePreview serves POST /v1/drafts/:id/preview.
func HandlePreview(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(c *gin.Context, o *workflow.Orchestrator) error {
		_, err := o.GeneratePreview(c.Request.Context())
		return err
	})
}

// HandleComplete serves POST /v1/drafts/:id/complete.
func HandleComplete(reg *workflow.Registry) gin.HandlerFunc {
	return withDraft(reg, func(c *gin.Context, o *workflow.Orchestrator) error {
		var req datatypes.CompleteRequest
		if err := bindJSON(c, "complete", &req, true); err != nil {
			return err
		}
		_, err := o.Complete(c.Request.Context(), req.ReviewNotes)
		return err
	})
}

// HealthCheck serves GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
