// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package direct

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
	"github.com/AleutianAI/AleutianContracts/services/contracts/store"
	"github.com/AleutianAI/AleutianContracts/services/llm"
)

// =============================================================================
// Helpers
// =============================================================================

type fakeLLM struct {
	calls atomic.Int32
	reply func(messages []llm.Message) (string, error)
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return f.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, params)
}

func (f *fakeLLM) Chat(_ context.Context, messages []llm.Message, _ llm.GenerationParams) (string, error) {
	f.calls.Add(1)
	return f.reply(messages)
}

type staticRefs []string

func (r staticRefs) FindReferences(context.Context, string, string) ([]string, error) {
	return r, nil
}

type testEnv struct {
	gw     *Gateway
	audit  *store.AuditRepository
	ctx    context.Context
	clock  *time.Time
	client *fakeLLM
}

func newEnv(t *testing.T, client llm.LLMClient) *testEnv {
	t.Helper()
	db, err := store.OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.CloseDB(db) })

	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	audit := store.NewAuditRepository(db)
	gw, err := New(Deps{
		Catalog:  catalog,
		Sessions: store.NewSessionRepository(db),
		Parties:  store.NewPartyRepository(db),
		LLM:      client,
		Audit:    audit,
		Now:      func() time.Time { return clock },
	})
	require.NoError(t, err)

	env := &testEnv{
		gw:    gw,
		audit: audit,
		ctx: extensions.ContextWithAuthInfo(context.Background(), &extensions.AuthInfo{
			UserID: "user-1",
			Name:   "Acme Corp",
		}),
		clock: &clock,
	}
	if f, ok := client.(*fakeLLM); ok {
		env.client = f
	}
	return env
}

func explanation(words int) string {
	return strings.TrimSpace(strings.Repeat("context ", words))
}

// startSession creates an NDA session and drafts its mandatory clauses.
func (e *testEnv) startSession(t *testing.T) (*datatypes.Session, []datatypes.Clause) {
	t.Helper()
	s, err := e.gw.CreateSession(e.ctx, "nda", "I need an NDA for our supplier", nil)
	require.NoError(t, err)
	res, err := e.gw.GenerateMandatoryClauses(e.ctx, s.SessionID, explanation(200), map[string]string{
		"purpose":       "evaluating a supply partnership",
		"term_months":   "24",
		"governing_law": "Delaware",
		"party2":        "Globex LLC",
	}, "nda")
	require.NoError(t, err)
	return res.Session, res.Clauses
}

// =============================================================================
// Catalog
// =============================================================================

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	ids := make([]string, 0, len(c.Templates()))
	for _, tmpl := range c.Templates() {
		ids = append(ids, tmpl.ID)
		assert.NotEmpty(t, tmpl.MandatoryClauses, tmpl.ID)
	}
	assert.Equal(t, []string{"nda", "service_agreement", "employment_agreement", "partnership_agreement"}, ids)

	nda, ok := c.Get("nda")
	require.True(t, ok)
	assert.Len(t, nda.MandatoryClauses, 5)
	assert.Len(t, nda.OptionalClauses, 3)
}

func TestParseCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing id", "templates:\n  - name: x\n    mandatory_clauses: [{title: a}]\n", "no id"},
		{"duplicate", "templates:\n  - id: a\n    mandatory_clauses: [{title: a}]\n  - id: a\n    mandatory_clauses: [{title: a}]\n", "duplicate"},
		{"no mandatory", "templates:\n  - id: a\n", "no mandatory clauses"},
		{"bad yaml", "templates: [", "parse template catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCatalog_Match(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	t.Run("single NDA match", func(t *testing.T) {
		suggestions, keywords := c.Match("I need a simple NDA to protect our product plans now")
		require.Len(t, suggestions, 1)
		assert.Equal(t, "nda", suggestions[0].TemplateID)
		assert.Equal(t, 0.90, suggestions[0].MatchScore)
		assert.Equal(t, []string{"nda"}, keywords)
	})

	t.Run("ordered by score", func(t *testing.T) {
		suggestions, _ := c.Match("I need an NDA for a partnership")
		require.Len(t, suggestions, 2)
		assert.Equal(t, "nda", suggestions[0].TemplateID)
		assert.Equal(t, "partnership_agreement", suggestions[1].TemplateID)
		assert.Equal(t, 0.60, suggestions[1].MatchScore)
	})

	t.Run("extra hits add a bonus", func(t *testing.T) {
		suggestions, _ := c.Match("Non-disclosure of confidential trade secret material")
		require.NotEmpty(t, suggestions)
		assert.Equal(t, "nda", suggestions[0].TemplateID)
		assert.Equal(t, 0.96, suggestions[0].MatchScore)
	})

	t.Run("no match", func(t *testing.T) {
		suggestions, keywords := c.Match("write me a poem about autumn leaves")
		assert.Empty(t, suggestions)
		assert.Empty(t, keywords)
	})
}

func TestFillPlaceholders(t *testing.T) {
	out := fillPlaceholders("{party1} pays {fee} under {governing_law}.",
		map[string]string{"party1": "Acme", "fee": " "}, []string{"fee", "governing_law"})
	assert.Equal(t, "Acme pays [fee] under [governing_law].", out)
}

func TestParseDraft(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		d, ok := parseDraft(`{"content":" Text. ","risk_assessment":"low","confidence":0.8}`)
		require.True(t, ok)
		assert.Equal(t, "Text.", d.Content)
		assert.Equal(t, "low", d.RiskAssessment)
		require.NotNil(t, d.Confidence)
		assert.InDelta(t, 0.8, *d.Confidence, 1e-9)
	})

	t.Run("fenced json", func(t *testing.T) {
		d, ok := parseDraft("```json\n{\"content\":\"Fenced.\"}\n```")
		require.True(t, ok)
		assert.Equal(t, "Fenced.", d.Content)
	})

	t.Run("plain text", func(t *testing.T) {
		d, ok := parseDraft("Just a clause.")
		assert.False(t, ok)
		assert.Equal(t, "Just a clause.", d.Content)
	})

	t.Run("confidence out of range", func(t *testing.T) {
		d, ok := parseDraft(`{"content":"x","confidence":7}`)
		require.True(t, ok)
		assert.Nil(t, d.Confidence)
	})
}

// =============================================================================
// Gateway
// =============================================================================

func TestGateway_AnalyzePrompt(t *testing.T) {
	env := newEnv(t, nil)

	_, err := env.gw.AnalyzePrompt(env.ctx, "   NDA    ")
	assert.ErrorIs(t, err, datatypes.ErrValidation)

	res, err := env.gw.AnalyzePrompt(env.ctx, "I need a simple NDA to protect our product plans now")
	require.NoError(t, err)
	assert.True(t, res.CanHandle)
	assert.Equal(t, "nda", res.ContractType)
	assert.Contains(t, res.Reasoning, "Mutual Non-Disclosure Agreement")

	res, err = env.gw.AnalyzePrompt(env.ctx, "please write a haiku about the sea")
	require.NoError(t, err)
	assert.False(t, res.CanHandle)
	assert.NotNil(t, res.SuggestedTemplates)
}

func TestGateway_CreateSession(t *testing.T) {
	env := newEnv(t, nil)

	s, err := env.gw.CreateSession(env.ctx, "nda", "I need an NDA", &datatypes.AnalysisResult{CanHandle: true})
	require.NoError(t, err)
	assert.False(t, datatypes.IsPlaceholderID(s.SessionID))
	assert.Equal(t, datatypes.StepTemplate, s.CurrentStep)
	assert.Equal(t, datatypes.SessionActive, s.Status)
	assert.Equal(t, "user-1", s.OwnerID)
	assert.Equal(t, env.clock.Add(DefaultSessionTTL), s.ExpiresAt)
	assert.Equal(t, 20.0, s.CompletionPercentage)

	var step2 datatypes.Step2Data
	found, err := s.DecodeStep(datatypes.StepTemplate, &step2)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, step2.SessionCreated)

	_, err = env.gw.CreateSession(env.ctx, "lease", "I need a lease", nil)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)

	events, err := env.audit.Query(context.Background(), extensions.AuditFilter{EventTypes: []string{extensions.AuditSessionCreated}})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestGateway_OtherUserCannotSeeSession(t *testing.T) {
	env := newEnv(t, nil)
	s, err := env.gw.CreateSession(env.ctx, "nda", "I need an NDA", nil)
	require.NoError(t, err)

	other := extensions.ContextWithAuthInfo(context.Background(), &extensions.AuthInfo{UserID: "user-2"})
	_, err = env.gw.GetSession(other, s.SessionID)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestGateway_GenerateMandatory(t *testing.T) {
	env := newEnv(t, nil)
	s, err := env.gw.CreateSession(env.ctx, "nda", "I need an NDA", nil)
	require.NoError(t, err)

	t.Run("short explanation", func(t *testing.T) {
		_, err := env.gw.GenerateMandatoryClauses(env.ctx, s.SessionID, explanation(199), nil, "nda")
		assert.ErrorIs(t, err, datatypes.ErrValidation)
	})

	t.Run("template mismatch", func(t *testing.T) {
		_, err := env.gw.GenerateMandatoryClauses(env.ctx, s.SessionID, explanation(200), nil, "employment_agreement")
		assert.ErrorIs(t, err, datatypes.ErrValidation)
	})

	t.Run("drafts boilerplate offline", func(t *testing.T) {
		res, err := env.gw.GenerateMandatoryClauses(env.ctx, s.SessionID, explanation(200),
			map[string]string{"purpose": "a joint pilot"}, "nda")
		require.NoError(t, err)
		require.Len(t, res.Clauses, 5)
		first := res.Clauses[0]
		assert.True(t, first.IsMandatory)
		assert.Equal(t, datatypes.ClauseAIGenerated, first.Status)
		assert.Contains(t, first.Content, "Acme Corp")
		assert.Contains(t, first.Content, "a joint pilot")
		assert.Contains(t, first.LegalReferences, "Defend Trade Secrets Act 18 U.S.C. 1836")
		assert.Contains(t, res.Clauses[4].Content, "[governing_law]")
		assert.Equal(t, datatypes.StepMandatory, res.Session.CurrentStep)

		again, err := env.gw.GenerateMandatoryClauses(env.ctx, s.SessionID, explanation(210), nil, "")
		require.NoError(t, err)
		for i := range again.Clauses {
			assert.Equal(t, res.Clauses[i].ClauseID, again.Clauses[i].ClauseID)
		}
	})
}

func TestGateway_ApproveAndReject(t *testing.T) {
	env := newEnv(t, nil)
	s, clauses := env.startSession(t)

	t.Run("mandatory reject is a conflict", func(t *testing.T) {
		_, err := env.gw.ApproveClause(env.ctx, s.SessionID, clauses[0].ClauseID, false, "")
		assert.ErrorIs(t, err, datatypes.ErrConflict)

		got, err := env.gw.GetSession(env.ctx, s.SessionID)
		require.NoError(t, err)
		var step3 datatypes.Step3Data
		_, err = got.DecodeStep(datatypes.StepMandatory, &step3)
		require.NoError(t, err)
		assert.Equal(t, datatypes.ClauseAIGenerated, step3.Clauses[0].Status)
	})

	t.Run("unknown clause", func(t *testing.T) {
		_, err := env.gw.ApproveClause(env.ctx, s.SessionID, "nope", true, "")
		assert.ErrorIs(t, err, datatypes.ErrNotFound)
	})

	t.Run("approval certifies step 3 on the last clause", func(t *testing.T) {
		for i, c := range clauses {
			mods := ""
			if i == 1 {
				mods = "Edited obligations."
			}
			res, err := env.gw.ApproveClause(env.ctx, s.SessionID, c.ClauseID, true, mods)
			require.NoError(t, err)
			require.NotNil(t, res.Step3Completed)
			assert.Equal(t, i == len(clauses)-1, *res.Step3Completed)
			assert.Equal(t, datatypes.ClauseApproved, res.Clause.Status)
			if i == 1 {
				assert.Equal(t, "Edited obligations.", res.Clause.Content)
			}
		}
	})

	events, err := env.audit.Query(context.Background(), extensions.AuditFilter{EventTypes: []string{extensions.AuditClauseApproved}})
	require.NoError(t, err)
	assert.Len(t, events, len(clauses))
	assert.Equal(t, "user-1", events[0].UserID)
}

func TestGateway_OptionalAndCustom(t *testing.T) {
	env := newEnv(t, nil)
	s, _ := env.startSession(t)

	opt, err := env.gw.GenerateOptionalClauses(env.ctx, s.SessionID, "nda")
	require.NoError(t, err)
	require.Len(t, opt.Clauses, 3)
	assert.Equal(t, datatypes.KindOptional, opt.Clauses[0].Kind)
	assert.Equal(t, datatypes.StepOptional, opt.Session.CurrentStep)

	rej, err := env.gw.ApproveClause(env.ctx, s.SessionID, opt.Clauses[0].ClauseID, false, "")
	require.NoError(t, err)
	assert.Equal(t, datatypes.ClauseRejected, rej.Clause.Status)
	assert.False(t, *rej.Step3Completed)

	_, err = env.gw.ReanalyzeClause(env.ctx, s.SessionID, opt.Clauses[0].ClauseID, "make it stricter")
	assert.ErrorIs(t, err, datatypes.ErrConflict)

	_, err = env.gw.GenerateCustomClauses(env.ctx, s.SessionID, nil)
	assert.ErrorIs(t, err, datatypes.ErrValidation)

	custom, err := env.gw.GenerateCustomClauses(env.ctx, s.SessionID, []datatypes.CustomClauseSpec{
		{Title: "Publicity", Description: "Neither party may announce the relationship without consent."},
	})
	require.NoError(t, err)
	require.Len(t, custom.Clauses, 1)
	assert.Equal(t, datatypes.KindCustom, custom.Clauses[0].Kind)
	assert.False(t, custom.Clauses[0].IsMandatory)
	assert.Equal(t, "Neither party may announce the relationship without consent.", custom.Clauses[0].Content)

	more, err := env.gw.GenerateCustomClauses(env.ctx, s.SessionID, []datatypes.CustomClauseSpec{
		{Title: "Notices", Description: "Notices go by email."},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, more.Clauses[0].Position)
}

func TestGateway_PreviewAndComplete(t *testing.T) {
	env := newEnv(t, nil)
	s, clauses := env.startSession(t)

	_, err := env.gw.CompleteSession(env.ctx, s.SessionID, datatypes.ReviewData{})
	assert.ErrorIs(t, err, datatypes.ErrValidation)

	opt, err := env.gw.GenerateOptionalClauses(env.ctx, s.SessionID, "")
	require.NoError(t, err)
	_, err = env.gw.ApproveClause(env.ctx, s.SessionID, opt.Clauses[0].ClauseID, false, "")
	require.NoError(t, err)
	_, err = env.gw.ApproveClause(env.ctx, s.SessionID, opt.Clauses[1].ClauseID, true, "")
	require.NoError(t, err)

	preview, err := env.gw.GeneratePreview(env.ctx, s.SessionID)
	require.NoError(t, err)
	html := preview.Preview.HTMLContent
	assert.Contains(t, html, "Mutual Non-Disclosure Agreement")
	assert.Contains(t, html, "Globex LLC")
	assert.Contains(t, html, opt.Clauses[1].Title)
	assert.NotContains(t, html, opt.Clauses[0].Title)
	require.NotNil(t, preview.Preview.ComplianceScore)
	assert.Less(t, *preview.Preview.ComplianceScore, 1.0)
	assert.Contains(t, preview.Preview.Warnings[0], "is not approved yet")

	_, err = env.gw.CompleteSession(env.ctx, s.SessionID, datatypes.ReviewData{})
	assert.ErrorIs(t, err, datatypes.ErrValidation, "mandatory clauses still open")

	for _, c := range clauses {
		_, err := env.gw.ApproveClause(env.ctx, s.SessionID, c.ClauseID, true, "")
		require.NoError(t, err)
	}
	_, err = env.gw.ApproveClause(env.ctx, s.SessionID, opt.Clauses[2].ClauseID, true, "")
	require.NoError(t, err)

	preview, err = env.gw.GeneratePreview(env.ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, *preview.Preview.ComplianceScore)
	assert.Empty(t, preview.Preview.Warnings)

	done, err := env.gw.CompleteSession(env.ctx, s.SessionID, datatypes.ReviewData{
		ReviewNotes: "ok",
		Party2:      &datatypes.PartyInfo{Name: "Globex Holdings", PartyType: datatypes.PartyCompany},
	})
	require.NoError(t, err)
	assert.Equal(t, datatypes.SessionCompleted, done.Session.Status)
	assert.Equal(t, 100.0, done.Session.CompletionPercentage)
	assert.Len(t, done.FinalContract.Clauses, len(clauses)+2)
	assert.Contains(t, done.FinalContract.HTMLContent, "Globex Holdings")
	require.Len(t, done.FinalContract.Parties, 2)

	_, err = env.gw.ApproveClause(env.ctx, s.SessionID, clauses[0].ClauseID, true, "")
	assert.ErrorIs(t, err, datatypes.ErrConflict)
}

func TestGateway_PreviewEscapesContent(t *testing.T) {
	env := newEnv(t, nil)
	s, clauses := env.startSession(t)
	_, err := env.gw.ApproveClause(env.ctx, s.SessionID, clauses[0].ClauseID, true, "<script>alert(1)</script>")
	require.NoError(t, err)

	preview, err := env.gw.GeneratePreview(env.ctx, s.SessionID)
	require.NoError(t, err)
	assert.NotContains(t, preview.Preview.HTMLContent, "<script>")
	assert.Contains(t, preview.Preview.HTMLContent, "&lt;script&gt;")
}

func TestGateway_ExpiredSessionRejectsMutation(t *testing.T) {
	env := newEnv(t, nil)
	s, clauses := env.startSession(t)

	*env.clock = env.clock.Add(DefaultSessionTTL + time.Minute)
	_, err := env.gw.ApproveClause(env.ctx, s.SessionID, clauses[0].ClauseID, true, "")
	assert.ErrorIs(t, err, datatypes.ErrConflict)
}

func TestGateway_ReanalyzeWithModel(t *testing.T) {
	client := &fakeLLM{reply: func(messages []llm.Message) (string, error) {
		user := messages[len(messages)-1].Content
		if strings.Contains(user, "Revise the clause") {
			return `{"content":"Revised clause.","risk_assessment":"medium","confidence":0.7}`, nil
		}
		return `{"content":"Drafted clause.","risk_assessment":"low","confidence":0.9}`, nil
	}}
	env := newEnv(t, client)
	s, clauses := env.startSession(t)
	assert.Equal(t, int32(5), client.calls.Load())
	assert.Equal(t, "Drafted clause.", clauses[0].Content)

	_, err := env.gw.ApproveClause(env.ctx, s.SessionID, clauses[0].ClauseID, true, "")
	require.NoError(t, err)

	res, err := env.gw.ReanalyzeClause(env.ctx, s.SessionID, clauses[0].ClauseID, "cover source code")
	require.NoError(t, err)
	assert.Equal(t, "Revised clause.", res.Clause.Content)
	assert.Equal(t, datatypes.ClauseRegenerated, res.Clause.Status)
	assert.Equal(t, "cover source code", res.Clause.UserModifications)
	assert.Equal(t, clauses[0].ClauseID, res.Clause.ClauseID)

	var step3 datatypes.Step3Data
	_, err = res.Session.DecodeStep(datatypes.StepMandatory, &step3)
	require.NoError(t, err)
	assert.False(t, step3.Step3Completed)
}

func TestGateway_ReanalyzeFailureLeavesClause(t *testing.T) {
	fail := false
	client := &fakeLLM{reply: func([]llm.Message) (string, error) {
		if fail {
			return "", errors.New("upstream exploded")
		}
		return `{"content":"Drafted clause."}`, nil
	}}
	env := newEnv(t, client)
	s, clauses := env.startSession(t)

	fail = true
	_, err := env.gw.ReanalyzeClause(env.ctx, s.SessionID, clauses[0].ClauseID, "shorter")
	require.Error(t, err)
	assert.ErrorIs(t, err, datatypes.ErrGateway)
	assert.Equal(t, http.StatusBadGateway, datatypes.HTTPStatus(err))

	got, err := env.gw.GetSession(env.ctx, s.SessionID)
	require.NoError(t, err)
	var step3 datatypes.Step3Data
	_, err = got.DecodeStep(datatypes.StepMandatory, &step3)
	require.NoError(t, err)
	assert.Equal(t, "Drafted clause.", step3.Clauses[0].Content)
	assert.Equal(t, datatypes.ClauseAIGenerated, step3.Clauses[0].Status)
}

func TestGateway_DraftDeadlineIsTimeout(t *testing.T) {
	client := &fakeLLM{reply: func([]llm.Message) (string, error) {
		return "", context.DeadlineExceeded
	}}
	env := newEnv(t, client)
	s, err := env.gw.CreateSession(env.ctx, "nda", "I need an NDA", nil)
	require.NoError(t, err)

	_, err = env.gw.GenerateMandatoryClauses(env.ctx, s.SessionID, explanation(200), nil, "nda")
	assert.ErrorIs(t, err, datatypes.ErrTimeout)
}

func TestGateway_LookupParty(t *testing.T) {
	env := newEnv(t, nil)
	_, err := env.gw.LookupParty(env.ctx, "p-1")
	assert.ErrorIs(t, err, datatypes.ErrPartyNotFound)
}

func TestCompletionPercentage(t *testing.T) {
	s := &datatypes.Session{CurrentStep: datatypes.StepMandatory, Status: datatypes.SessionActive}
	require.NoError(t, s.PutStep(datatypes.StepMandatory, datatypes.Step3Data{Clauses: []datatypes.Clause{
		{Status: datatypes.ClauseApproved},
		{Status: datatypes.ClauseAIGenerated},
	}}))
	assert.Equal(t, 50.0, completionPercentage(s))

	s.CurrentStep = datatypes.StepReview
	assert.Equal(t, 80.0, completionPercentage(s))

	s.Status = datatypes.SessionCompleted
	assert.Equal(t, 100.0, completionPercentage(s))
}

// =============================================================================
// References
// =============================================================================

func TestAttachReferences(t *testing.T) {
	got := attachReferences(context.Background(), staticRefs{"B", "A"}, "t", "c", []string{"A"})
	assert.Equal(t, []string{"A", "B"}, got)

	assert.Equal(t, []string{"A"}, attachReferences(context.Background(), nil, "t", "c", []string{"A"}))
}

func TestParseCitations(t *testing.T) {
	resp := &models.GraphQLResponse{Data: map[string]models.JSONObject{
		"Get": map[string]interface{}{
			"LegalReference": []interface{}{
				map[string]interface{}{"citation": "UTSA 1(4)", "title": "Trade secret"},
				map[string]interface{}{"citation": ""},
			},
		},
	}}
	assert.Equal(t, []string{"UTSA 1(4)"}, parseCitations(resp, "LegalReference"))
	assert.Nil(t, parseCitations(&models.GraphQLResponse{}, "LegalReference"))
}

func TestWeaviateReferences_FindReferences(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/graphql" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{}`))
			return
		}
		var body struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		query = body.Query
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"Get":{"LegalReference":[{"citation":"18 U.S.C. 1836","title":"DTSA"}]}}}`))
	}))
	defer srv.Close()

	finder, err := NewWeaviateReferences(WeaviateConfig{URL: srv.URL})
	require.NoError(t, err)

	refs, err := finder.FindReferences(context.Background(), "Definition of Confidential Information", "Any non-public information")
	require.NoError(t, err)
	assert.Equal(t, []string{"18 U.S.C. 1836"}, refs)
	assert.Contains(t, query, "LegalReference")
	assert.Contains(t, query, "nearText")
}

func TestNewWeaviateReferences_RequiresURL(t *testing.T) {
	_, err := NewWeaviateReferences(WeaviateConfig{})
	assert.Error(t, err)
}
