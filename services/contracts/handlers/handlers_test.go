// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
	"github.com/AleutianAI/AleutianContracts/services/contracts/gateway/direct"
	"github.com/AleutianAI/AleutianContracts/services/contracts/middleware"
	"github.com/AleutianAI/AleutianContracts/services/contracts/store"
	"github.com/AleutianAI/AleutianContracts/services/contracts/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test setup
// =============================================================================

type testServer struct {
	router  *gin.Engine
	reg     *workflow.Registry
	parties *store.PartyRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := store.OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.CloseDB(db) })

	cache, err := store.OpenMemoryDraftCache()
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	catalog, err := direct.DefaultCatalog()
	require.NoError(t, err)
	sessions := store.NewSessionRepository(db)
	parties := store.NewPartyRepository(db)
	gw, err := direct.New(direct.Deps{Catalog: catalog, Sessions: sessions, Parties: parties})
	require.NoError(t, err)

	reg, err := workflow.NewRegistry(workflow.Deps{
		Gateway:       gw,
		Sessions:      gw,
		Parties:       gw,
		DebounceQuiet: 5 * time.Millisecond,
	}, cache)
	require.NoError(t, err)

	auth := extensions.NewStaticTokenAuthProvider(map[string]extensions.AuthInfo{
		"tok-1": {UserID: "user-1", Name: "Acme Corp", Email: "legal@acme.test"},
		"tok-2": {UserID: "user-2", Name: "Initech"},
	})

	router := gin.New()
	v1 := router.Group("/v1", middleware.AuthMiddleware(auth))

	gen := v1.Group("/generation")
	gen.POST("/analyze", HandleAnalyzePrompt(gw))
	gen.POST("/sessions", HandleCreateSession(gw))
	gen.GET("/sessions/:id", HandleGetSession(gw))
	gen.POST("/sessions/:id/preview", HandleGeneratePreview(gw))
	v1.GET("/parties/:external_id", HandleGetParty(gw))
	v1.PUT("/parties/:external_id", HandlePutParty(parties))

	drafts := v1.Group("/drafts")
	drafts.POST("", HandleStartDraft(reg))
	drafts.GET("/:id", HandleGetDraft(reg))
	drafts.DELETE("/:id", HandleDeleteDraft(reg))
	drafts.POST("/:id/analyze", HandleAnalyze(reg))
	drafts.POST("/:id/template", HandleSelectTemplate(reg))
	drafts.POST("/:id/templates/show-all", HandleShowAllTemplates(reg))
	drafts.POST("/:id/steps/:n/complete", HandleCompleteStep(reg))
	drafts.POST("/:id/back", HandleGoBack(reg))
	drafts.PUT("/:id/explanation", HandleSetExplanation(reg))
	drafts.POST("/:id/party", HandleLookupParty(reg))
	drafts.POST("/:id/mandatory-clauses", HandleGenerateMandatoryClauses(reg))
	drafts.POST("/:id/optional-clauses", HandleGenerateOptionalClauses(reg))
	drafts.POST("/:id/custom-clauses", HandleGenerateCustomClauses(reg))
	drafts.POST("/:id/clauses/:cid/:action", HandleClauseAction(reg))
	drafts.PUT("/:id/clauses/:cid/draft", HandleUpdateClauseDraft(reg))
	drafts.POST("/:id/cursor/:collection/:direction", HandleCursor(reg))
	drafts.POST("/:id/preview", HandlePreview(reg))
	drafts.POST("/:id/complete", HandleComplete(reg))

	return &testServer{router: router, reg: reg, parties: parties}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) startDraft(t *testing.T) workflow.View {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/drafts", "tok-1", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[StartDraftResponse](t, w).Draft
}

func explanationOf(words int) string {
	return strings.TrimSpace(strings.Repeat("detail ", words))
}

// =============================================================================
// Drafts API
// =============================================================================

func TestDrafts_FullWorkflow(t *testing.T) {
	s := newTestServer(t)
	draft := s.startDraft(t)
	assert.True(t, datatypes.IsPlaceholderID(draft.Handle))
	assert.Equal(t, datatypes.StepPrompt, draft.Step)
	base := "/v1/drafts/" + draft.Handle

	// Step 1
	w := s.do(t, http.MethodPost, base+"/analyze", "tok-1", datatypes.AnalyzeRequest{Prompt: "I need a simple NDA to protect our product plans now"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[workflow.View](t, w)
	require.NotEmpty(t, view.Templates)
	assert.Equal(t, "nda", view.Templates[0].TemplateID)
	assert.False(t, view.TemplatesDegraded)

	// Step 2
	w = s.do(t, http.MethodPost, base+"/template", "tok-1", datatypes.SelectTemplateRequest{TemplateID: "nda"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view = decode[workflow.View](t, w)
	assert.True(t, view.HasSession)
	assert.False(t, datatypes.IsPlaceholderID(view.SessionID))
	assert.Equal(t, datatypes.StepTemplate, view.Step)

	w = s.do(t, http.MethodPost, base+"/steps/2/complete", "tok-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, datatypes.StepMandatory, decode[workflow.View](t, w).Step)

	// Step 3: the word gate holds at 199 words.
	fields := map[string]string{"purpose": "evaluating a supply deal", "term_months": "24", "governing_law": "Delaware"}
	w = s.do(t, http.MethodPut, base+"/explanation", "tok-1", datatypes.ExplanationRequest{Explanation: explanationOf(199), Fields: fields})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[workflow.View](t, w).ExplanationReady)

	w = s.do(t, http.MethodPost, base+"/mandatory-clauses", "tok-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decode[datatypes.ErrorResponse](t, w).Kind)

	w = s.do(t, http.MethodPut, base+"/explanation", "tok-1", datatypes.ExplanationRequest{Explanation: explanationOf(200), Fields: fields})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[workflow.View](t, w).ExplanationReady)

	w = s.do(t, http.MethodPost, base+"/mandatory-clauses", "tok-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view = decode[workflow.View](t, w)
	require.NotEmpty(t, view.Mandatory.Clauses)
	assert.False(t, view.CanAdvance)

	first := view.Mandatory.Clauses[0].ClauseID
	w = s.do(t, http.MethodPost, base+"/clauses/"+first+"/reject", "tok-1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	for _, c := range view.Mandatory.Clauses {
		w = s.do(t, http.MethodPost, base+"/clauses/"+c.ClauseID+"/approve", "tok-1", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	view = decode[workflow.View](t, w)
	assert.True(t, view.Step3Completed)
	assert.True(t, view.CanAdvance)

	w = s.do(t, http.MethodPost, base+"/steps/3/complete", "tok-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Step 4
	w = s.do(t, http.MethodPost, base+"/optional-clauses", "tok-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view = decode[workflow.View](t, w)
	require.NotEmpty(t, view.Optional.Clauses)
	for i, c := range view.Optional.Clauses {
		action := "approve"
		if i == 0 {
			action = "reject"
		}
		w = s.do(t, http.MethodPost, base+"/clauses/"+c.ClauseID+"/"+action, "tok-1", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodPost, base+"/steps/4/complete", "tok-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, datatypes.StepReview, decode[workflow.View](t, w).Step)

	// Step 5
	w = s.do(t, http.MethodPost, base+"/preview", "tok-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view = decode[workflow.View](t, w)
	require.NotNil(t, view.Preview)
	assert.NotEmpty(t, view.Preview.HTMLContent)

	w = s.do(t, http.MethodPost, base+"/complete", "tok-1", datatypes.CompleteRequest{ReviewNotes: "looks good"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view = decode[workflow.View](t, w)
	assert.True(t, view.Terminal)
	assert.Equal(t, datatypes.SessionCompleted, view.Status)
	require.NotNil(t, view.FinalContract)

	// The draft answers to its session id as well.
	w = s.do(t, http.MethodGet, "/v1/drafts/"+view.SessionID, "tok-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, draft.Handle, decode[workflow.View](t, w).Handle)
}

func TestDrafts_Ownership(t *testing.T) {
	s := newTestServer(t)
	draft := s.startDraft(t)

	w := s.do(t, http.MethodGet, "/v1/drafts/"+draft.Handle, "tok-2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/v1/drafts/"+draft.Handle, "tok-2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/v1/drafts/"+draft.Handle, "tok-1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/v1/drafts/"+draft.Handle, "tok-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDrafts_Unauthenticated(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/drafts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/v1/drafts", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, s.reg.Len())
}

func TestDrafts_RejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	base := "/v1/drafts/" + s.startDraft(t).Handle

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"missing prompt", http.MethodPost, base + "/analyze", map[string]string{}},
		{"short prompt", http.MethodPost, base + "/analyze", datatypes.AnalyzeRequest{Prompt: "NDA"}},
		{"step out of range", http.MethodPost, base + "/steps/9/complete", nil},
		{"step not a number", http.MethodPost, base + "/steps/two/complete", nil},
		{"unknown clause action", http.MethodPost, base + "/clauses/c1/shred", nil},
		{"unknown collection", http.MethodPost, base + "/cursor/bonus/next", nil},
		{"unknown direction", http.MethodPost, base + "/cursor/mandatory/sideways", nil},
		{"empty custom specs", http.MethodPost, base + "/custom-clauses", datatypes.CustomClausesRequest{}},
		{"template before analysis", http.MethodPost, base + "/template", datatypes.SelectTemplateRequest{TemplateID: "nda"}},
		{"party id with spaces", http.MethodPost, base + "/party", datatypes.PartyLookupRequest{ExternalID: "acme corp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, "tok-1", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, "validation", decode[datatypes.ErrorResponse](t, w).Kind)
		})
	}
}

func TestDrafts_MalformedBody(t *testing.T) {
	s := newTestServer(t)
	base := "/v1/drafts/" + s.startDraft(t).Handle

	req := httptest.NewRequest(http.MethodPost, base+"/analyze", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer tok-1")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid request body", decode[datatypes.ErrorResponse](t, w).Detail)
}

func TestDrafts_ShowAllAndBack(t *testing.T) {
	s := newTestServer(t)
	base := "/v1/drafts/" + s.startDraft(t).Handle

	w := s.do(t, http.MethodPost, base+"/analyze", "tok-1", datatypes.AnalyzeRequest{Prompt: "I need an NDA for a partnership"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, decode[workflow.View](t, w).Templates, 1)

	w = s.do(t, http.MethodPost, base+"/templates/show-all", "tok-1", datatypes.ShowAllTemplatesRequest{ShowAll: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[workflow.View](t, w)
	assert.True(t, view.ShowAllTemplates)
	assert.Len(t, view.Templates, 2)

	w = s.do(t, http.MethodPost, base+"/steps/1/complete", "tok-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, datatypes.StepTemplate, decode[workflow.View](t, w).Step)

	w = s.do(t, http.MethodPost, base+"/back", "tok-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, datatypes.StepPrompt, decode[workflow.View](t, w).Step)
}

func TestDrafts_ResumeBySessionID(t *testing.T) {
	s := newTestServer(t)
	draft := s.startDraft(t)
	base := "/v1/drafts/" + draft.Handle
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/analyze", "tok-1",
		datatypes.AnalyzeRequest{Prompt: "I need a simple NDA to protect our product plans now"}).Code)
	w := s.do(t, http.MethodPost, base+"/template", "tok-1", datatypes.SelectTemplateRequest{TemplateID: "nda"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sessionID := decode[workflow.View](t, w).SessionID

	w = s.do(t, http.MethodPost, "/v1/drafts", "tok-1", datatypes.StartDraftRequest{SessionID: sessionID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resumed := decode[StartDraftResponse](t, w)
	assert.Equal(t, draft.Handle, resumed.Draft.Handle)
	assert.Equal(t, sessionID, resumed.Draft.SessionID)
}

// =============================================================================
// Generation API
// =============================================================================

func TestGeneration_SessionRoundTrip(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/generation/analyze", "tok-1", datatypes.AnalyzePromptRequest{Prompt: "I need a simple NDA to protect our product plans now"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	analysis := decode[datatypes.AnalysisResult](t, w)
	assert.True(t, analysis.CanHandle)

	w = s.do(t, http.MethodPost, "/v1/generation/sessions", "tok-1", datatypes.CreateSessionRequest{
		TemplateID: "nda",
		Prompt:     "I need a simple NDA to protect our product plans now",
		Analysis:   &analysis,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[datatypes.Session](t, w)
	assert.Equal(t, "user-1", created.OwnerID)

	w = s.do(t, http.MethodGet, "/v1/generation/sessions/"+created.SessionID, "tok-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.SessionID, decode[datatypes.Session](t, w).SessionID)

	w = s.do(t, http.MethodGet, "/v1/generation/sessions/missing", "tok-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[datatypes.ErrorResponse](t, w).Kind)

	w = s.do(t, http.MethodPost, "/v1/generation/sessions", "tok-1", datatypes.CreateSessionRequest{TemplateID: "lease", Prompt: "I need a lease for an office"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestParties_PutAndGet(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPut, "/v1/parties/globex", "tok-1", datatypes.PartyRecordRequest{
		ExternalID: "ignored",
		Name:       "Globex LLC",
		Email:      "legal@globex.test",
		PartyType:  string(datatypes.PartyCompany),
		Verified:   true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "globex", decode[datatypes.PartyInfo](t, w).ExternalID)

	w = s.do(t, http.MethodGet, "/v1/parties/globex", "tok-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Globex LLC", decode[datatypes.PartyInfo](t, w).Name)

	w = s.do(t, http.MethodGet, "/v1/parties/nobody", "tok-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/v1/parties/acme%20corp", "tok-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decode[datatypes.ErrorResponse](t, w).Kind)

	w = s.do(t, http.MethodPut, "/v1/parties/initech", "tok-1", datatypes.PartyRecordRequest{Name: "Initech", PartyType: "robot"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[datatypes.ErrorResponse](t, w).Detail, "PartyType fails party_type")
}

func TestDrafts_PartyLookup(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/v1/parties/globex", "tok-1", datatypes.PartyRecordRequest{
		Name: "Globex LLC", PartyType: string(datatypes.PartyCompany),
	}).Code)
	base := "/v1/drafts/" + s.startDraft(t).Handle

	w := s.do(t, http.MethodPost, base+"/party", "tok-1", datatypes.PartyLookupRequest{ExternalID: "globex"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[workflow.View](t, w)
	require.NotNil(t, view.Party2)
	assert.Equal(t, "Globex LLC", view.Party2.Name)
}

func TestHealthCheck(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
