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
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// SessionRepository stores sessions in SQLite.
//
// It satisfies gateway.SessionStore.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// GetSession returns the session or an error matching datatypes.ErrNotFound.
func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	var rec SessionRecord
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, datatypes.NewNotFoundError("get_session", "session not found")
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return rec.toSession()
}

// SaveSession inserts or fully replaces the session row.
func (r *SessionRepository) SaveSession(ctx context.Context, s *datatypes.Session) error {
	if s == nil || s.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	rec, err := sessionToRecord(s)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		UpdateAll: true,
	}).Create(rec).Error
}

// ListExpired returns up to limit live sessions whose ExpiresAt is at or
// before now, oldest first.
func (r *SessionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*datatypes.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []SessionRecord
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{string(datatypes.SessionAnalyzing), string(datatypes.SessionActive)}).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).
		Order("expires_at asc").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	out := make([]*datatypes.Session, 0, len(recs))
	for i := range recs {
		s, err := recs[i].toSession()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// MarkAbandoned moves the given live sessions to abandoned and returns how
// many rows changed. Completed sessions are never touched.
func (r *SessionRepository) MarkAbandoned(ctx context.Context, sessionIDs []string, now time.Time) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("session_id IN ?", sessionIDs).
		Where("status IN ?", []string{string(datatypes.SessionAnalyzing), string(datatypes.SessionActive)}).
		Updates(map[string]any{
			"status":     string(datatypes.SessionAbandoned),
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("mark sessions abandoned: %w", res.Error)
	}
	return res.RowsAffected, nil
}
