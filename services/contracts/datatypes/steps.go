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

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MinPromptChars is the minimum trimmed prompt length, in characters.
	MinPromptChars = 10

	// MinExplanationWords gates mandatory clause generation.
	MinExplanationWords = 200
)

// CountWords counts whitespace-separated tokens.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// PromptLongEnough reports whether the trimmed prompt has at least
// MinPromptChars characters.
func PromptLongEnough(prompt string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(prompt)) >= MinPromptChars
}

// =============================================================================
// Analysis
// =============================================================================

// TemplateSuggestion is one candidate template returned by prompt analysis.
type TemplateSuggestion struct {
	TemplateID   string  `json:"template_id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	ContractType string  `json:"contract_type,omitempty"`
	MatchScore   float64 `json:"match_score"`
}

// AnalysisResult is the gateway's verdict on a free-text contract request.
type AnalysisResult struct {
	CanHandle          bool                 `json:"can_handle"`
	SuggestedTemplates []TemplateSuggestion `json:"suggested_templates"`
	Reasoning          string               `json:"reasoning,omitempty"`
	Keywords           []string             `json:"keywords,omitempty"`
	ContractType       string               `json:"contract_type,omitempty"`
}

// HasTemplate reports whether templateID is among the suggestions.
func (a *AnalysisResult) HasTemplate(templateID string) bool {
	if a == nil {
		return false
	}
	for _, s := range a.SuggestedTemplates {
		if s.TemplateID == templateID {
			return true
		}
	}
	return false
}

// =============================================================================
// Step Payloads
// =============================================================================

// Step1Data holds the prompt and its analysis.
type Step1Data struct {
	Prompt   string          `json:"prompt"`
	Analysis *AnalysisResult `json:"analysis,omitempty"`
}

// Step2Data holds template selection state.
type Step2Data struct {
	SelectedTemplateID string `json:"selected_template_id,omitempty"`
	ShowAllTemplates   bool   `json:"show_all_templates"`
	SessionCreated     bool   `json:"session_created"`
}

// Step3Data holds the explanation, mandatory fields, parties and mandatory clauses.
type Step3Data struct {
	Explanation        string            `json:"explanation"`
	MandatoryFields    map[string]string `json:"mandatory_fields,omitempty"`
	Party1             *PartyInfo        `json:"party1,omitempty"`
	Party2             *PartyInfo        `json:"party2,omitempty"`
	Clauses            []Clause          `json:"clauses,omitempty"`
	CurrentClauseIndex int               `json:"current_clause_index"`
	Step3Completed     bool              `json:"step3_completed"`
}

// Step4Data holds optional and custom clauses.
type Step4Data struct {
	OptionalClauses     []Clause           `json:"optional_clauses,omitempty"`
	CustomClauses       []Clause           `json:"custom_clauses,omitempty"`
	CustomSpecs         []CustomClauseSpec `json:"custom_specs,omitempty"`
	OptionalClauseIndex int                `json:"optional_clause_index"`
	CustomClauseIndex   int                `json:"custom_clause_index"`
	OptionalGenerated   bool               `json:"optional_generated"`
}

// Step5Data holds the preview and the final contract.
type Step5Data struct {
	Preview       *ContractPreview `json:"preview,omitempty"`
	ReviewNotes   string           `json:"review_notes,omitempty"`
	FinalContract *FinalContract   `json:"final_contract,omitempty"`
}

// =============================================================================
// Review Artifacts
// =============================================================================

// ContractPreview is the rendered draft shown before completion.
type ContractPreview struct {
	HTMLContent     string    `json:"html_content"`
	ComplianceScore *float64  `json:"compliance_score,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// FinalContract is the signed-off output of a completed session.
type FinalContract struct {
	ContractID   string      `json:"contract_id"`
	SessionID    string      `json:"session_id"`
	Title        string      `json:"title"`
	ContractType string      `json:"contract_type,omitempty"`
	HTMLContent  string      `json:"html_content"`
	Clauses      []Clause    `json:"clauses"`
	Parties      []PartyInfo `json:"parties,omitempty"`
	CompletedAt  time.Time   `json:"completed_at"`
}

// ReviewData is submitted with the complete action.
type ReviewData struct {
	ReviewNotes string     `json:"review_notes,omitempty"`
	Party1      *PartyInfo `json:"party1,omitempty"`
	Party2      *PartyInfo `json:"party2,omitempty"`
}
