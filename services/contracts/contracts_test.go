// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
	"github.com/AleutianAI/AleutianContracts/services/contracts/discipline"
	"github.com/AleutianAI/AleutianContracts/services/contracts/workflow"
)

// ============================================================================
// Test Helpers
// ============================================================================

const ndaPrompt = "I need a simple NDA to protect our product plans now"

func testConfig(mode string) Config {
	cfg := Config{
		Mode:       mode,
		Addr:       "127.0.0.1:0",
		GinMode:    "test",
		Registerer: prometheus.NewRegistry(),
	}
	cfg.Database.Path = ":memory:"
	cfg.Drafts.InMemory = true
	return cfg
}

func newTestService(t *testing.T, cfg Config) Service {
	t.Helper()
	svc, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
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
	h.ServeHTTP(w, req)
	return w
}

// ============================================================================
// Config Tests
// ============================================================================

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{})

	assert.Equal(t, ModeWorkflow, cfg.Mode)
	assert.Equal(t, ":12310", cfg.Addr)
	assert.Equal(t, "contracts-service", cfg.ServiceName)
	assert.Equal(t, "release", cfg.GinMode)
	assert.Equal(t, discipline.DefaultGeneralTimeout, cfg.Gateway.Timeout)
	assert.Equal(t, discipline.DefaultApprovalTimeout, cfg.Gateway.ApprovalTimeout)
	assert.Equal(t, InProcessToken, cfg.Gateway.Token)
	assert.Equal(t, discipline.DefaultDebounceQuiet, cfg.Workflow.DebounceQuiet)
	assert.Equal(t, 10*time.Second, cfg.Workflow.NoticeWindow)
	assert.Equal(t, "contracts.db", cfg.Database.Path)
	assert.Equal(t, "drafts", cfg.Drafts.Dir)
	assert.Equal(t, ExporterNone, cfg.Tracing.Exporter)
	assert.True(t, cfg.InProcess())
}

func TestApplyConfigDefaults_RemoteGateway(t *testing.T) {
	cfg := applyConfigDefaults(Config{
		Mode:    " Workflow ",
		Gateway: GatewayConfig{URL: "http://generation:12310", RateLimit: 5},
	})

	assert.Equal(t, ModeWorkflow, cfg.Mode)
	assert.False(t, cfg.InProcess())
	assert.Empty(t, cfg.Gateway.Token, "callers' tokens are forwarded to a remote gateway")
	assert.Equal(t, 1, cfg.Gateway.Burst)
}

func TestApplyConfigDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := applyConfigDefaults(Config{
		Addr:     ":9000",
		Gateway:  GatewayConfig{Timeout: 90 * time.Second, Token: "svc"},
		Workflow: WorkflowConfig{DebounceQuiet: time.Second},
	})

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 90*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "svc", cfg.Gateway.Token)
	assert.Equal(t, time.Second, cfg.Workflow.DebounceQuiet)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"defaults", Config{}, ""},
		{"gateway mode", Config{Mode: ModeGateway}, ""},
		{"unknown mode", Config{Mode: "batch"}, "unknown mode"},
		{"unknown exporter", Config{Tracing: TracingConfig{Exporter: "zipkin"}}, "unknown tracing exporter"},
		{
			"token without user",
			Config{Auth: AuthConfig{Tokens: []TokenConfig{{Token: "t"}}}},
			"needs both token and user_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := applyConfigDefaults(tt.cfg).validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(context.Background(), Config{Mode: "batch"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

// ============================================================================
// Service Tests
// ============================================================================

func TestService_GatewayMode(t *testing.T) {
	svc := newTestService(t, testConfig(ModeGateway))
	router := svc.Router()

	w := call(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(t, router, http.MethodPost, "/v1/generation/analyze", "", datatypes.AnalyzeRequest{Prompt: ndaPrompt})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var analysis datatypes.AnalysisResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &analysis))
	assert.True(t, analysis.CanHandle)

	w = call(t, router, http.MethodPost, "/v1/drafts", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestService_WorkflowModeInProcess(t *testing.T) {
	svc := newTestService(t, testConfig(ModeWorkflow))
	router := svc.Router()

	w := call(t, router, http.MethodPost, "/v1/drafts", "", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var draft workflow.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &draft))
	require.NotEmpty(t, draft.Handle)

	w = call(t, router, http.MethodPost, "/v1/drafts/"+draft.Handle+"/analyze", "", datatypes.AnalyzeRequest{Prompt: ndaPrompt})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view workflow.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.NotEmpty(t, view.Templates)
	assert.Equal(t, "nda", view.Templates[0].TemplateID)

	w = call(t, router, http.MethodPost, "/v1/generation/analyze", "", datatypes.AnalyzeRequest{Prompt: ndaPrompt})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestService_ConfiguredTokens(t *testing.T) {
	cfg := testConfig(ModeWorkflow)
	cfg.Auth.Tokens = []TokenConfig{{Token: "tok-1", UserID: "user-1", Name: "Acme Corp"}}
	svc := newTestService(t, cfg)

	w := call(t, svc.Router(), http.MethodPost, "/v1/drafts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(t, svc.Router(), http.MethodPost, "/v1/drafts", "tok-1", nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestService_WorkflowModeRemoteGateway(t *testing.T) {
	gw := newTestService(t, testConfig(ModeGateway))
	remote := httptest.NewServer(gw.Router())
	t.Cleanup(remote.Close)

	cfg := testConfig(ModeWorkflow)
	cfg.Gateway.URL = remote.URL
	cfg.Gateway.Token = "service-token"
	svc := newTestService(t, cfg)
	router := svc.Router()

	w := call(t, router, http.MethodPost, "/v1/drafts", "", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var draft workflow.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &draft))

	base := "/v1/drafts/" + draft.Handle
	w = call(t, router, http.MethodPost, base+"/analyze", "", datatypes.AnalyzeRequest{Prompt: ndaPrompt})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = call(t, router, http.MethodPost, base+"/template", "", datatypes.SelectTemplateRequest{TemplateID: "nda"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view workflow.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.True(t, view.HasSession)
	assert.False(t, datatypes.IsPlaceholderID(view.SessionID))

	w = call(t, gw.Router(), http.MethodGet, "/v1/generation/sessions/"+view.SessionID, "", nil)
	assert.Equal(t, http.StatusOK, w.Code, "session lives on the remote gateway")
}

func TestService_RunStopsOnCancel(t *testing.T) {
	svc := newTestService(t, testConfig(ModeWorkflow))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestService_CloseIsIdempotent(t *testing.T) {
	svc, err := New(context.Background(), testConfig(ModeWorkflow), nil)
	require.NoError(t, err)

	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}
