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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

var httpTracer = otel.Tracer("contracts.gateway.http")

// maxErrorBody bounds how much of a failure body is read for the detail.
const maxErrorBody = 16 * 1024

// HTTPGateway talks to the generation API over JSON/HTTP.
//
// # Description
//
// Every request carries the bearer token found in the context
// (extensions.ContextWithToken). Transport failures map to NetworkError,
// deadline expiry to Timeout, 401/403 to Unauthenticated, 404 to NotFound,
// 409 to Conflict and any other non-2xx status to GatewayError with the
// body's "detail" as the message.
//
// # Thread Safety
//
// Safe for concurrent use.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPGateway creates a client for the API rooted at baseURL.
// A nil httpClient uses a client without its own timeout; bounds come
// from the caller's context.
func NewHTTPGateway(baseURL string, httpClient *http.Client) *HTTPGateway {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

var _ Backend = (*HTTPGateway)(nil)

// =============================================================================
// GenerationGateway
// =============================================================================

func (g *HTTPGateway) AnalyzePrompt(ctx context.Context, prompt string) (*datatypes.AnalysisResult, error) {
	return doJSON[datatypes.AnalysisResult](ctx, g, "analyze_prompt", http.MethodPost,
		"/v1/generation/analyze", datatypes.AnalyzePromptRequest{Prompt: prompt})
}

func (g *HTTPGateway) CreateSession(ctx context.Context, templateID, prompt string, analysis *datatypes.AnalysisResult) (*datatypes.Session, error) {
	return doJSON[datatypes.Session](ctx, g, "create_session", http.MethodPost,
		"/v1/generation/sessions", datatypes.CreateSessionRequest{
			TemplateID: templateID,
			Prompt:     prompt,
			Analysis:   analysis,
		})
}

func (g *HTTPGateway) GenerateMandatoryClauses(ctx context.Context, sessionID, explanation string, fields map[string]string, templateID string) (*datatypes.ClausesResult, error) {
	return doJSON[datatypes.ClausesResult](ctx, g, "generate_mandatory", http.MethodPost,
		sessionPath(sessionID, "mandatory-clauses"), datatypes.GenerateMandatoryRequest{
			Explanation: explanation,
			Fields:      fields,
			TemplateID:  templateID,
		})
}

func (g *HTTPGateway) ApproveClause(ctx context.Context, sessionID, clauseID string, approved bool, modifications string) (*datatypes.ApproveClauseResult, error) {
	return doJSON[datatypes.ApproveClauseResult](ctx, g, "approve_clause", http.MethodPost,
		clausePath(sessionID, clauseID, "approve"), datatypes.ApproveClauseRequest{
			Approved:      approved,
			Modifications: modifications,
		})
}

func (g *HTTPGateway) ReanalyzeClause(ctx context.Context, sessionID, clauseID, modifications string) (*datatypes.ReanalyzeClauseResult, error) {
	return doJSON[datatypes.ReanalyzeClauseResult](ctx, g, "reanalyze_clause", http.MethodPost,
		clausePath(sessionID, clauseID, "reanalyze"), datatypes.ReanalyzeClauseRequest{
			Modifications: modifications,
		})
}

func (g *HTTPGateway) GenerateOptionalClauses(ctx context.Context, sessionID, templateID string) (*datatypes.ClausesResult, error) {
	return doJSON[datatypes.ClausesResult](ctx, g, "generate_optional", http.MethodPost,
		sessionPath(sessionID, "optional-clauses"), datatypes.GenerateOptionalRequest{TemplateID: templateID})
}

func (g *HTTPGateway) GenerateCustomClauses(ctx context.Context, sessionID string, specs []datatypes.CustomClauseSpec) (*datatypes.ClausesResult, error) {
	return doJSON[datatypes.ClausesResult](ctx, g, "generate_custom", http.MethodPost,
		sessionPath(sessionID, "custom-clauses"), datatypes.GenerateCustomRequest{Specs: specs})
}

func (g *HTTPGateway) GeneratePreview(ctx context.Context, sessionID string) (*datatypes.PreviewResult, error) {
	return doJSON[datatypes.PreviewResult](ctx, g, "generate_preview", http.MethodPost,
		sessionPath(sessionID, "preview"), struct{}{})
}

func (g *HTTPGateway) CompleteSession(ctx context.Context, sessionID string, review datatypes.ReviewData) (*datatypes.CompleteSessionResult, error) {
	return doJSON[datatypes.CompleteSessionResult](ctx, g, "complete_session", http.MethodPost,
		sessionPath(sessionID, "complete"), datatypes.CompleteSessionRequest{ReviewData: review})
}

// =============================================================================
// SessionStore and PartyDirectory
// =============================================================================

func (g *HTTPGateway) GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	return doJSON[datatypes.Session](ctx, g, "get_session", http.MethodGet,
		"/v1/generation/sessions/"+url.PathEscape(sessionID), nil)
}

func (g *HTTPGateway) LookupParty(ctx context.Context, externalID string) (*datatypes.PartyInfo, error) {
	return doJSON[datatypes.PartyInfo](ctx, g, "lookup_party", http.MethodGet,
		"/v1/parties/"+url.PathEscape(externalID), nil)
}

// =============================================================================
// Transport
// =============================================================================

func sessionPath(sessionID, suffix string) string {
	return "/v1/generation/sessions/" + url.PathEscape(sessionID) + "/" + suffix
}

func clausePath(sessionID, clauseID, action string) string {
	return sessionPath(sessionID, "clauses/"+url.PathEscape(clauseID)+"/"+action)
}

// doJSON performs one request and decodes a JSON response into T.
func doJSON[T any](ctx context.Context, g *HTTPGateway, op, method, path string, body any) (*T, error) {
	ctx, span := httpTracer.Start(ctx, "gateway.http."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)

	token, ok := extensions.TokenFromContext(ctx)
	if !ok {
		err := datatypes.NewUnauthenticatedError(op, extensions.ErrNoCredential)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no credential")
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &datatypes.WorkflowError{Kind: datatypes.KindValidation, Op: op, Message: "request could not be encoded", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, datatypes.NewNetworkError(op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		werr := transportError(ctx, op, err)
		span.RecordError(werr)
		span.SetStatus(codes.Error, "transport failure")
		return nil, werr
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		werr := statusError(op, resp)
		span.RecordError(werr)
		span.SetStatus(codes.Error, "gateway failure")
		return nil, werr
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return nil, transportError(ctx, op, err)
		}
		werr := &datatypes.WorkflowError{
			Kind:       datatypes.KindGateway,
			Op:         op,
			Message:    "malformed response from the generation service",
			StatusCode: http.StatusBadGateway,
			Err:        err,
		}
		span.RecordError(werr)
		span.SetStatus(codes.Error, "decode failure")
		return nil, werr
	}
	return &out, nil
}

// transportError classifies a failure that produced no response.
func transportError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return datatypes.NewTimeoutError(op, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	default:
		return datatypes.NewNetworkError(op, err)
	}
}

// statusError converts a non-2xx response into the workflow taxonomy.
func statusError(op string, resp *http.Response) error {
	detail := readDetail(resp.Body)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		werr := datatypes.NewUnauthenticatedError(op, fmt.Errorf("http %d: %s", resp.StatusCode, detail))
		werr.StatusCode = resp.StatusCode
		return werr
	case http.StatusNotFound:
		if detail == "" {
			detail = "not found"
		}
		return &datatypes.WorkflowError{Kind: datatypes.KindNotFound, Op: op, Message: detail, StatusCode: resp.StatusCode}
	case http.StatusConflict:
		return &datatypes.WorkflowError{Kind: datatypes.KindConflict, Op: op, Message: detail, StatusCode: resp.StatusCode}
	default:
		return datatypes.NewGatewayError(op, resp.StatusCode, detail)
	}
}

// readDetail extracts "detail" from an error body, falling back to the raw text.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil {
		if len(envelope.Detail) > 0 {
			var s string
			if json.Unmarshal(envelope.Detail, &s) == nil {
				return s
			}
			return string(envelope.Detail)
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
