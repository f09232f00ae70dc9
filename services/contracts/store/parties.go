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
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// PartyRepository is the SQLite-backed party directory.
type PartyRepository struct {
	db *gorm.DB
}

func NewPartyRepository(db *gorm.DB) *PartyRepository {
	return &PartyRepository{db: db}
}

// LookupParty returns the party or an error matching datatypes.ErrPartyNotFound.
func (r *PartyRepository) LookupParty(ctx context.Context, externalID string) (*datatypes.PartyInfo, error) {
	var rec PartyRecord
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, datatypes.NewNotFoundError("lookup_party", "party not found")
		}
		return nil, fmt.Errorf("lookup party %s: %w", externalID, err)
	}
	return rec.toParty(), nil
}

// UpsertParty creates or replaces a directory entry.
func (r *PartyRepository) UpsertParty(ctx context.Context, p *datatypes.PartyInfo) error {
	if p == nil || p.ExternalID == "" {
		return fmt.Errorf("party external id is required")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "phone", "address", "party_type", "verified", "updated_at"}),
	}).Create(partyToRecord(p)).Error
}
