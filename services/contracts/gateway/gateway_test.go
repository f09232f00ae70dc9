// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
	"github.com/AleutianAI/AleutianContracts/services/contracts/discipline"
)

// =============================================================================
// Test Helpers
// =============================================================================

func authed() context.Context {
	return extensions.ContextWithToken(context.Background(), "tok-1")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fastPolicies() discipline.Policies {
	ps := discipline.DefaultPolicies()
	for _, p := range []*discipline.Policy{&ps.Read, &ps.Analyze, &ps.Search} {
		p.InitialBackoff = time.Millisecond
		p.MaxBackoff = 2 * time.Millisecond
	}
	return ps
}

// =============================================================================
// HTTPGateway Tests
// =============================================================================

func TestHTTPGateway_AnalyzePrompt(t *testing.T) {
	// Arrange
	var gotAuth string
	var gotBody datatypes.AnalyzePromptRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/generation/analyze", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusOK, datatypes.AnalysisResult{
			CanHandle:          true,
			SuggestedTemplates: []datatypes.TemplateSuggestion{{TemplateID: "nda", MatchScore: 0.9}},
		})
	}))
	defer srv.Close()
	gw := NewHTTPGateway(srv.URL+"/", nil)

	// Act
	res, err := gw.AnalyzePrompt(authed(), "I need an NDA for a partnership")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "I need an NDA for a partnership", gotBody.Prompt)
	assert.True(t, res.CanHandle)
	assert.Equal(t, "nda", res.SuggestedTemplates[0].TemplateID)
}

func TestHTTPGateway_ApproveClause_PathAndFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generation/sessions/s-1/clauses/c%2F1/approve", r.URL.EscapedPath())
		var body datatypes.ApproveClauseRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.True(t, body.Approved)
		done := true
		writeJSON(w, http.StatusOK, datatypes.ApproveClauseResult{
			Clause:         datatypes.Clause{ClauseID: "c/1", Status: datatypes.ClauseApproved},
			Step3Completed: &done,
		})
	}))
	defer srv.Close()

	res, err := NewHTTPGateway(srv.URL, srv.Client()).ApproveClause(authed(), "s-1", "c/1", true, "")

	require.NoError(t, err)
	assert.Equal(t, datatypes.ClauseApproved, res.Clause.Status)
	require.NotNil(t, res.Step3Completed)
	assert.True(t, *res.Step3Completed)
}

func TestHTTPGateway_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   datatypes.ErrorKind
		wantDetail string
	}{
		{"detail string", 422, `{"detail":"cannot generate clauses"}`, datatypes.KindGateway, "cannot generate clauses"},
		{"detail object", 500, `{"detail":{"code":7}}`, datatypes.KindGateway, `{"code":7}`},
		{"error field", 503, `{"error":"overloaded"}`, datatypes.KindGateway, "overloaded"},
		{"plain text", 502, "bad upstream", datatypes.KindGateway, "bad upstream"},
		{"unauthorized", 401, `{"detail":"expired"}`, datatypes.KindUnauthenticated, ""},
		{"not found", 404, `{"detail":"no such session"}`, datatypes.KindNotFound, "no such session"},
		{"conflict", 409, `{"detail":"mandatory clauses cannot be rejected"}`, datatypes.KindConflict, "mandatory clauses cannot be rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPGateway(srv.URL, nil).GetSession(authed(), "s-1")

			require.Error(t, err)
			var werr *datatypes.WorkflowError
			require.ErrorAs(t, err, &werr)
			assert.Equal(t, tt.wantKind, werr.Kind)
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, werr.Message)
			}
			assert.Equal(t, tt.status, werr.StatusCode)
		})
	}
}

func TestHTTPGateway_NoTokenNoRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL, nil).LookupParty(context.Background(), "p-1")

	assert.ErrorIs(t, err, datatypes.ErrUnauthenticated)
	assert.Equal(t, int32(0), hits.Load())
}

func TestHTTPGateway_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTPGateway(url, nil).GetSession(authed(), "s-1")

	assert.ErrorIs(t, err, datatypes.ErrNetwork)
}

func TestHTTPGateway_DeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	ctx, cancel := context.WithTimeout(authed(), 30*time.Millisecond)
	defer cancel()

	_, err := NewHTTPGateway(srv.URL, nil).GeneratePreview(ctx, "s-1")

	assert.ErrorIs(t, err, datatypes.ErrTimeout)
}

func TestHTTPGateway_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL, nil).GetSession(authed(), "s-1")

	assert.ErrorIs(t, err, datatypes.ErrGateway)
}

// =============================================================================
// Disciplined Tests
// =============================================================================

func TestDisciplined_RetriesIdempotentRead(t *testing.T) {
	// Arrange
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, datatypes.ErrorResponse{Detail: "warming up"})
			return
		}
		writeJSON(w, http.StatusOK, datatypes.Session{SessionID: "s-1", CurrentStep: 3})
	}))
	defer srv.Close()
	exec := discipline.NewExecutor(extensions.StaticCredentialSource{Token: "svc"})
	d := NewDisciplined(NewHTTPGateway(srv.URL, nil), exec, fastPolicies())

	// Act
	s, err := d.GetSession(context.Background(), "s-1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, s.CurrentStep)
	assert.Equal(t, int32(3), hits.Load())
}

func TestDisciplined_NeverRetriesApproval(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, datatypes.ErrorResponse{Detail: "busy"})
	}))
	defer srv.Close()
	exec := discipline.NewExecutor(extensions.StaticCredentialSource{Token: "svc"})
	d := NewDisciplined(NewHTTPGateway(srv.URL, nil), exec, fastPolicies())

	_, err := d.ApproveClause(context.Background(), "s-1", "c-1", true, "")

	assert.ErrorIs(t, err, datatypes.ErrGateway)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDisciplined_UnauthenticatedBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()
	exec := discipline.NewExecutor(extensions.RequestCredentialSource{})
	d := NewDisciplined(NewHTTPGateway(srv.URL, nil), exec, fastPolicies())

	_, err := d.AnalyzePrompt(context.Background(), "I need an NDA for a partnership")

	assert.ErrorIs(t, err, datatypes.ErrUnauthenticated)
	assert.Equal(t, int32(0), hits.Load())
}

func TestDisciplined_ApprovalTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	ps := fastPolicies()
	ps.Approve.Timeout = 30 * time.Millisecond
	exec := discipline.NewExecutor(extensions.StaticCredentialSource{Token: "svc"})
	d := NewDisciplined(NewHTTPGateway(srv.URL, nil), exec, ps)

	_, err := d.ApproveClause(context.Background(), "s-1", "c-1", true, "")

	assert.ErrorIs(t, err, datatypes.ErrTimeout)
}

func TestDisciplined_LookupPartyReturnsCopy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, datatypes.PartyInfo{ExternalID: "p-2", Name: "Beta LLC", PartyType: datatypes.PartyCompany})
	}))
	defer srv.Close()
	exec := discipline.NewExecutor(extensions.StaticCredentialSource{Token: "svc"})
	d := NewDisciplined(NewHTTPGateway(srv.URL, nil), exec, fastPolicies())

	p, err := d.LookupParty(context.Background(), "p-2")

	require.NoError(t, err)
	assert.Equal(t, "Beta LLC", p.Name)
}
