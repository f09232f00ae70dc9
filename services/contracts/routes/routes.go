// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
	"github.com/AleutianAI/AleutianContracts/services/contracts/gateway"
	"github.com/AleutianAI/AleutianContracts/services/contracts/handlers"
	"github.com/AleutianAI/AleutianContracts/services/contracts/middleware"
	"github.com/AleutianAI/AleutianContracts/services/contracts/workflow"
)

// Generation is what the generation API serves. Parties may be nil, in
// which case PUT /v1/parties is not registered.
type Generation struct {
	Backend gateway.Backend
	Parties handlers.PartyWriter
}

// SetupRoutes registers /health, /metrics and the authenticated /v1 API.
// The generation API is mounted when gen is set, the drafts API when reg
// is set.
func SetupRoutes(router *gin.Engine, auth extensions.AuthProvider, gen *Generation, reg *workflow.Registry) {
	if auth == nil {
		auth = &extensions.NopAuthProvider{}
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1", middleware.AuthMiddleware(auth))
	{
		if gen != nil && gen.Backend != nil {
			setupGenerationRoutes(v1, gen)
		}
		if reg != nil {
			setupDraftRoutes(v1, reg)
		}
	}
}

func setupGenerationRoutes(v1 *gin.RouterGroup, gen *Generation) {
	gw := gen.Backend
	generation := v1.Group("/generation")
	{
		generation.POST("/analyze", handlers.HandleAnalyzePrompt(gw))
		generation.POST("/sessions", handlers.HandleCreateSession(gw))

		sessions := generation.Group("/sessions/:id")
		{
			sessions.GET("", handlers.HandleGetSession(gw))
			sessions.POST("/mandatory-clauses", handlers.HandleGenerateMandatory(gw))
			sessions.POST("/clauses/:cid/approve", handlers.HandleApproveClause(gw))
			sessions.POST("/clauses/:cid/reanalyze", handlers.HandleReanalyzeClause(gw))
			sessions.POST("/optional-clauses", handlers.HandleGenerateOptional(gw))
			sessions.POST("/custom-clauses", handlers.HandleGenerateCustom(gw))
			sessions.POST("/preview", handlers.HandleGeneratePreview(gw))
			sessions.POST("/complete", handlers.HandleCompleteSession(gw))
		}
	}

	v1.GET("/parties/:external_id", handlers.HandleGetParty(gw))
	if gen.Parties != nil {
		v1.PUT("/parties/:external_id", handlers.HandlePutParty(gen.Parties))
	}
}

func setupDraftRoutes(v1 *gin.RouterGroup, reg *workflow.Registry) {
	drafts := v1.Group("/drafts")
	{
		drafts.POST("", handlers.HandleStartDraft(reg))
		drafts.GET("/:id", handlers.HandleGetDraft(reg))
		drafts.DELETE("/:id", handlers.HandleDeleteDraft(reg))

		drafts.POST("/:id/analyze", handlers.HandleAnalyze(reg))
		drafts.POST("/:id/template", handlers.HandleSelectTemplate(reg))
		drafts.POST("/:id/templates/show-all", handlers.HandleShowAllTemplates(reg))
		drafts.POST("/:id/steps/:n/complete", handlers.HandleCompleteStep(reg))
		drafts.POST("/:id/back", handlers.HandleGoBack(reg))

		drafts.PUT("/:id/explanation", handlers.HandleSetExplanation(reg))
		drafts.POST("/:id/party", handlers.HandleLookupParty(reg))
		drafts.POST("/:id/mandatory-clauses", handlers.HandleGenerateMandatoryClauses(reg))
		drafts.POST("/:id/optional-clauses", handlers.HandleGenerateOptionalClauses(reg))
		drafts.POST("/:id/custom-clauses", handlers.HandleGenerateCustomClauses(reg))

		drafts.POST("/:id/clauses/:cid/:action", handlers.HandleClauseAction(reg))
		drafts.PUT("/:id/clauses/:cid/draft", handlers.HandleUpdateClauseDraft(reg))
		drafts.POST("/:id/cursor/:collection/:direction", handlers.HandleCursor(reg))

		drafts.POST("/:id/preview", handlers.HandlePreview(reg))
		drafts.POST("/:id/complete", handlers.HandleComplete(reg))
	}
}
