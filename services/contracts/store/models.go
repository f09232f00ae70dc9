// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"encoding/json"
	"fmt"
	"time"

	gormtypes "gorm.io/datatypes"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// SessionRecord is the persisted form of datatypes.Session.
type SessionRecord struct {
	SessionID            string `gorm:"primaryKey;size:64"`
	OwnerID              string `gorm:"index;size:128"`
	CurrentStep          int
	TotalSteps           int
	Status               string `gorm:"index;size:16"`
	CompletionPercentage float64
	SelectedTemplateID   string `gorm:"size:128"`
	ContractType         string `gorm:"size:64"`
	SessionData          gormtypes.JSON
	CreatedAt            time.Time
	UpdatedAt            time.Time
	LastActivityAt       time.Time
	ExpiresAt            *time.Time `gorm:"index"`
}

func (SessionRecord) TableName() string { return "contract_sessions" }

// PartyRecord is a counterparty known to the directory.
type PartyRecord struct {
	ExternalID string `gorm:"primaryKey;size:128"`
	Name       string `gorm:"size:256;not null"`
	Email      string `gorm:"size:256"`
	Phone      string `gorm:"size:64"`
	Address    string `gorm:"size:512"`
	PartyType  string `gorm:"size:16"`
	Verified   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (PartyRecord) TableName() string { return "contract_parties" }

// AuditRecord is one row of the audit trail.
type AuditRecord struct {
	ID           uint      `gorm:"primaryKey"`
	EventType    string    `gorm:"index;size:64"`
	Timestamp    time.Time `gorm:"index"`
	UserID       string    `gorm:"index;size:128"`
	Action       string    `gorm:"size:64"`
	ResourceType string    `gorm:"size:32"`
	ResourceID   string    `gorm:"index;size:128"`
	Outcome      string    `gorm:"size:16"`
	Metadata     gormtypes.JSON
}

func (AuditRecord) TableName() string { return "contract_audit_events" }

// =============================================================================
// Conversions
// =============================================================================

func sessionToRecord(s *datatypes.Session) (*SessionRecord, error) {
	data := s.SessionData
	if data == nil {
		data = datatypes.SessionData{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode session data: %w", err)
	}
	rec := &SessionRecord{
		SessionID:            s.SessionID,
		OwnerID:              s.OwnerID,
		CurrentStep:          s.CurrentStep,
		TotalSteps:           s.TotalSteps,
		Status:               string(s.Status),
		CompletionPercentage: s.CompletionPercentage,
		SelectedTemplateID:   s.SelectedTemplateID,
		ContractType:         s.ContractType,
		SessionData:          gormtypes.JSON(raw),
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
		LastActivityAt:       s.LastActivityAt,
	}
	if !s.ExpiresAt.IsZero() {
		expires := s.ExpiresAt.UTC()
		rec.ExpiresAt = &expires
	}
	return rec, nil
}

func (r *SessionRecord) toSession() (*datatypes.Session, error) {
	s := &datatypes.Session{
		SessionID:            r.SessionID,
		OwnerID:              r.OwnerID,
		CurrentStep:          r.CurrentStep,
		TotalSteps:           r.TotalSteps,
		Status:               datatypes.SessionStatus(r.Status),
		CompletionPercentage: r.CompletionPercentage,
		SelectedTemplateID:   r.SelectedTemplateID,
		ContractType:         r.ContractType,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
		LastActivityAt:       r.LastActivityAt,
		SessionData:          datatypes.SessionData{},
	}
	if r.ExpiresAt != nil {
		s.ExpiresAt = *r.ExpiresAt
	}
	if len(r.SessionData) > 0 {
		if err := json.Unmarshal(r.SessionData, &s.SessionData); err != nil {
			return nil, fmt.Errorf("decode session data for %s: %w", r.SessionID, err)
		}
		if s.SessionData == nil {
			s.SessionData = datatypes.SessionData{}
		}
	}
	return s, nil
}

func partyToRecord(p *datatypes.PartyInfo) *PartyRecord {
	return &PartyRecord{
		ExternalID: p.ExternalID,
		Name:       p.Name,
		Email:      p.Email,
		Phone:      p.Phone,
		Address:    p.Address,
		PartyType:  string(p.PartyType),
		Verified:   p.Verified,
	}
}

func (r *PartyRecord) toParty() *datatypes.PartyInfo {
	return &datatypes.PartyInfo{
		ExternalID: r.ExternalID,
		Name:       r.Name,
		Email:      r.Email,
		Phone:      r.Phone,
		Address:    r.Address,
		PartyType:  datatypes.PartyType(r.PartyType),
		Verified:   r.Verified,
	}
}
