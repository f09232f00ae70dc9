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
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxTextFieldBytes bounds any free-text field (prompt, explanation,
	// clause modifications).
	MaxTextFieldBytes = 64 * 1024

	// MaxMandatoryFields bounds the number of mandatory field entries.
	MaxMandatoryFields = 50
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// contractsValidate is the validator for request types.
// Initialized in init() with custom validators.
var contractsValidate *validator.Validate

func init() {
	contractsValidate = validator.New()
	_ = contractsValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = contractsValidate.RegisterValidation("party_type", validatePartyType)
	_ = contractsValidate.RegisterValidation("clause_collection", validateClauseCollection)
}

// validateMaxBytes checks byte length, not rune count, against MaxTextFieldBytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxTextFieldBytes
}

func validatePartyType(fl validator.FieldLevel) bool {
	return PartyType(fl.Field().String()).Valid()
}

func validateClauseCollection(fl validator.FieldLevel) bool {
	switch ClauseKind(fl.Field().String()) {
	case KindMandatory, KindOptional, KindCustom:
		return true
	default:
		return false
	}
}

// Validate validates any request struct carrying validate tags.
func Validate(v any) error {
	return contractsValidate.Struct(v)
}

// =============================================================================
// Draft (Workflow API) Request Types
// =============================================================================

// StartDraftRequest starts a new draft or resumes an existing session.
type StartDraftRequest struct {
	// SessionID resumes a server session when set.
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128"`
}

// AnalyzeRequest submits the step 1 prompt.
type AnalyzeRequest struct {
	Prompt string `json:"prompt" validate:"required,maxbytes"`
}

// SelectTemplateRequest selects a template and creates the server session.
type SelectTemplateRequest struct {
	TemplateID string `json:"template_id" validate:"required,max=128"`
}

// ShowAllTemplatesRequest toggles the unfiltered template list.
type ShowAllTemplatesRequest struct {
	ShowAll bool `json:"show_all"`
}

// ExplanationRequest updates the step 3 explanation and mandatory fields.
type ExplanationRequest struct {
	Explanation string            `json:"explanation" validate:"maxbytes"`
	Fields      map[string]string `json:"fields,omitempty" validate:"omitempty,max=50,dive,keys,required,max=100,endkeys,maxbytes"`
}

// PartyLookupRequest resolves Party 2 by external id.
type PartyLookupRequest struct {
	ExternalID string `json:"external_id" validate:"required,max=128"`
}

// EditClauseRequest replaces the working copy of a clause being edited.
type EditClauseRequest struct {
	Content string `json:"content" validate:"maxbytes"`
}

// CustomClausesRequest submits user-described clauses.
type CustomClausesRequest struct {
	Specs []CustomClauseSpec `json:"specs" validate:"required,min=1,max=20,dive"`
}

// CompleteRequest finalizes the draft.
type CompleteRequest struct {
	ReviewNotes string `json:"review_notes,omitempty" validate:"omitempty,maxbytes"`
}

// CursorRequest identifies a clause collection for navigation.
type CursorRequest struct {
	Collection string `json:"collection" validate:"required,clause_collection"`
}

// PartyRecordRequest registers a party in the local directory.
type PartyRecordRequest struct {
	ExternalID string `json:"external_id" validate:"required,max=128"`
	Name       string `json:"name" validate:"required,max=256"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
	Phone      string `json:"phone,omitempty" validate:"omitempty,max=64"`
	Address    string `json:"address,omitempty" validate:"omitempty,max=512"`
	PartyType  string `json:"party_type" validate:"required,party_type"`
	Verified   bool   `json:"verified"`
}

// ToParty converts the request to a PartyInfo.
func (r PartyRecordRequest) ToParty() PartyInfo {
	return PartyInfo{
		ExternalID: r.ExternalID,
		Name:       r.Name,
		Email:      r.Email,
		Phone:      r.Phone,
		Address:    r.Address,
		PartyType:  PartyType(r.PartyType),
		Verified:   r.Verified,
	}
}
