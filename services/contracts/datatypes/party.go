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

import "github.com/AleutianAI/AleutianContracts/pkg/extensions"

// PartyType classifies a contracting party.
type PartyType string

const (
	PartyIndividual PartyType = "individual"
	PartyCompany    PartyType = "company"
	PartyGovernment PartyType = "government"
	PartyNonprofit  PartyType = "nonprofit"
)

// Valid reports whether t is a known party type.
func (t PartyType) Valid() bool {
	switch t {
	case PartyIndividual, PartyCompany, PartyGovernment, PartyNonprofit:
		return true
	default:
		return false
	}
}

// PartyInfo is the resolved identity of a contracting party.
type PartyInfo struct {
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Address    string    `json:"address,omitempty"`
	PartyType  PartyType `json:"party_type"`
	Verified   bool      `json:"verified"`
}

// PartyFromAuth builds Party 1 from the authenticated actor.
//
// The actor is verified by construction since the identity came from a
// validated token. A missing party_type claim defaults to individual.
func PartyFromAuth(info *extensions.AuthInfo) *PartyInfo {
	if info == nil {
		return nil
	}
	partyType := PartyType(info.Claim("party_type"))
	if !partyType.Valid() {
		partyType = PartyIndividual
	}
	name := info.Name
	if name == "" {
		name = info.UserID
	}
	return &PartyInfo{
		ExternalID: info.UserID,
		Name:       name,
		Email:      info.Email,
		Phone:      info.Claim("phone"),
		Address:    info.Claim("address"),
		PartyType:  partyType,
		Verified:   true,
	}
}
