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
	"encoding/json"
	"fmt"
	"time"

	gormtypes "gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
)

// AuditRepository writes audit events synchronously to SQLite.
//
// # Thread Safety
//
// Safe for concurrent use.
type AuditRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db, now: time.Now}
}

var _ extensions.AuditLogger = (*AuditRepository)(nil)

// Log records event. A zero Timestamp is replaced by the current time.
func (r *AuditRepository) Log(ctx context.Context, event extensions.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	rec := AuditRecord{
		EventType:    event.EventType,
		Timestamp:    event.Timestamp.UTC(),
		UserID:       event.UserID,
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Outcome:      event.Outcome,
	}
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		rec.Metadata = gormtypes.JSON(raw)
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// Query returns matching events, newest first.
func (r *AuditRepository) Query(ctx context.Context, filter extensions.AuditFilter) ([]extensions.AuditEvent, error) {
	q := r.db.WithContext(ctx).Model(&AuditRecord{})
	if len(filter.EventTypes) > 0 {
		q = q.Where("event_type IN ?", filter.EventTypes)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.ResourceType != "" {
		q = q.Where("resource_type = ?", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		q = q.Where("resource_id = ?", filter.ResourceID)
	}
	if !filter.StartTime.IsZero() {
		q = q.Where("timestamp >= ?", filter.StartTime.UTC())
	}
	if !filter.EndTime.IsZero() {
		q = q.Where("timestamp < ?", filter.EndTime.UTC())
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var recs []AuditRecord
	if err := q.Order("timestamp desc, id desc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}

	events := make([]extensions.AuditEvent, 0, len(recs))
	for _, rec := range recs {
		ev := extensions.AuditEvent{
			EventType:    rec.EventType,
			Timestamp:    rec.Timestamp,
			UserID:       rec.UserID,
			Action:       rec.Action,
			ResourceType: rec.ResourceType,
			ResourceID:   rec.ResourceID,
			Outcome:      rec.Outcome,
		}
		if len(rec.Metadata) > 0 {
			if err := json.Unmarshal(rec.Metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata %d: %w", rec.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

// Flush is a no-op; every Log is already durable.
func (r *AuditRepository) Flush(context.Context) error { return nil }
