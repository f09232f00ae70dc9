// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package direct

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
	"github.com/AleutianAI/AleutianContracts/services/llm"
)

const draftSystemPrompt = `You are a contract drafting assistant. Draft exactly one clause.
Respond with a JSON object: {"content": string, "risk_assessment": string, "confidence": number between 0 and 1}.
Use plain legal English. Do not add headings or commentary outside the JSON.`

// draftRequest describes one clause to draft.
type draftRequest struct {
	ContractName  string
	Title         string
	Boilerplate   string
	Explanation   string
	Instructions  string
	Modifications string
	Previous      string
}

// draftResult is what the model returns for one clause.
type draftResult struct {
	Content        string   `json:"content"`
	RiskAssessment string   `json:"risk_assessment"`
	Confidence     *float64 `json:"confidence"`
}

// drafter turns draftRequests into clause text.
//
// With no LLM configured it renders the boilerplate (or the user's wording)
// so the workflow stays usable offline.
type drafter struct {
	client llm.LLMClient
	logger *slog.Logger
}

func (d *drafter) draft(ctx context.Context, op string, req draftRequest) (draftResult, error) {
	if d.client == nil {
		return offlineDraft(req), nil
	}

	maxTokens := 1024
	temperature := float32(0.2)
	params := llm.GenerationParams{Temperature: &temperature, MaxTokens: &maxTokens, JSON: true}
	messages := []llm.Message{
		{Role: "system", Content: draftSystemPrompt},
		{Role: "user", Content: buildDraftPrompt(req)},
	}

	raw, err := d.client.Chat(ctx, messages, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return draftResult{}, datatypes.NewTimeoutError(op, err)
		}
		d.logger.Error("clause drafting failed", "op", op, "title", req.Title, "error", err)
		return draftResult{}, datatypes.NewGatewayError(op, http.StatusBadGateway,
			fmt.Sprintf("could not draft %q", req.Title))
	}

	result, ok := parseDraft(raw)
	if !ok {
		d.logger.Warn("model returned non-JSON clause, using raw text", "op", op, "title", req.Title)
	}
	if strings.TrimSpace(result.Content) == "" {
		return draftResult{}, datatypes.NewGatewayError(op, http.StatusBadGateway,
			fmt.Sprintf("empty draft for %q", req.Title))
	}
	return result, nil
}

func buildDraftPrompt(req draftRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Contract: %s\nClause: %s\n", req.ContractName, req.Title)
	if req.Boilerplate != "" {
		fmt.Fprintf(&b, "\nStandard wording:\n%s\n", req.Boilerplate)
	}
	if req.Instructions != "" {
		fmt.Fprintf(&b, "\nWhat the clause must cover:\n%s\n", req.Instructions)
	}
	if req.Explanation != "" {
		fmt.Fprintf(&b, "\nBackground from the requester:\n%s\n", req.Explanation)
	}
	if req.Previous != "" {
		fmt.Fprintf(&b, "\nCurrent draft:\n%s\n", req.Previous)
	}
	if req.Modifications != "" {
		fmt.Fprintf(&b, "\nRevise the clause to incorporate:\n%s\n", req.Modifications)
	}
	return b.String()
}

// parseDraft decodes the model's JSON answer. Output that is not JSON is
// taken as the clause text.
func parseDraft(raw string) (draftResult, bool) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var result draftResult
	if err := json.Unmarshal([]byte(text), &result); err != nil || result.Content == "" {
		return draftResult{Content: strings.TrimSpace(raw)}, false
	}
	if c := result.Confidence; c != nil && (*c < 0 || *c > 1) {
		result.Confidence = nil
	}
	result.Content = strings.TrimSpace(result.Content)
	return result, true
}

func offlineDraft(req draftRequest) draftResult {
	switch {
	case req.Modifications != "":
		return draftResult{Content: req.Modifications}
	case req.Boilerplate != "":
		return draftResult{Content: req.Boilerplate}
	default:
		return draftResult{Content: req.Instructions}
	}
}

// fillPlaceholders substitutes {key} markers in body. Unknown keys are
// rendered as [key] so the preview can flag them.
func fillPlaceholders(body string, vars map[string]string, keys []string) string {
	pairs := make([]string, 0, 2*(len(vars)+len(keys)))
	for k, v := range vars {
		if strings.TrimSpace(v) != "" {
			pairs = append(pairs, "{"+k+"}", v)
		}
	}
	for _, k := range keys {
		if strings.TrimSpace(vars[k]) == "" {
			pairs = append(pairs, "{"+k+"}", "["+k+"]")
		}
	}
	return strings.NewReplacer(pairs...).Replace(body)
}
