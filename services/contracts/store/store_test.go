// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// =============================================================================
// Test Helpers
// =============================================================================

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseDB(db) })
	return db
}

func newSession(id string, status datatypes.SessionStatus, expires time.Time) *datatypes.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &datatypes.Session{
		SessionID:          id,
		CurrentStep:        3,
		TotalSteps:         datatypes.TotalSteps,
		Status:             status,
		SelectedTemplateID: "nda",
		ContractType:       "nda",
		OwnerID:            "user-1",
		CreatedAt:          now,
		UpdatedAt:          now,
		LastActivityAt:     now,
		ExpiresAt:          expires,
	}
}

type countingRecorder struct{ total int }

func (r *countingRecorder) RecordAbandoned(n int) { r.total += n }

// =============================================================================
// SessionRepository Tests
// =============================================================================

func TestSessionRepository_SaveAndGet(t *testing.T) {
	// Arrange
	repo := NewSessionRepository(openTestDB(t))
	ctx := context.Background()
	s := newSession("s-1", datatypes.SessionActive, time.Now().Add(time.Hour))
	require.NoError(t, s.PutStep(datatypes.StepPrompt, datatypes.Step1Data{Prompt: "I need an NDA"}))

	// Act
	require.NoError(t, repo.SaveSession(ctx, s))
	got, err := repo.GetSession(ctx, "s-1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentStep)
	assert.Equal(t, datatypes.SessionActive, got.Status)
	assert.Equal(t, "nda", got.SelectedTemplateID)
	assert.WithinDuration(t, s.ExpiresAt, got.ExpiresAt, time.Second)
	var step1 datatypes.Step1Data
	found, err := got.DecodeStep(datatypes.StepPrompt, &step1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "I need an NDA", step1.Prompt)
}

func TestSessionRepository_SaveReplaces(t *testing.T) {
	repo := NewSessionRepository(openTestDB(t))
	ctx := context.Background()
	s := newSession("s-1", datatypes.SessionActive, time.Time{})
	require.NoError(t, repo.SaveSession(ctx, s))

	s.CurrentStep = 4
	s.CompletionPercentage = 60
	require.NoError(t, repo.SaveSession(ctx, s))

	got, err := repo.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.CurrentStep)
	assert.InDelta(t, 60, got.CompletionPercentage, 0.001)
	assert.True(t, got.ExpiresAt.IsZero())
}

func TestSessionRepository_GetMissing(t *testing.T) {
	repo := NewSessionRepository(openTestDB(t))

	_, err := repo.GetSession(context.Background(), "nope")

	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestSessionRepository_SaveRequiresID(t *testing.T) {
	repo := NewSessionRepository(openTestDB(t))

	err := repo.SaveSession(context.Background(), &datatypes.Session{})

	assert.Error(t, err)
}

func TestSessionRepository_ListExpiredAndMarkAbandoned(t *testing.T) {
	// Arrange
	repo := NewSessionRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, repo.SaveSession(ctx, newSession("old-active", datatypes.SessionActive, now.Add(-2*time.Hour))))
	require.NoError(t, repo.SaveSession(ctx, newSession("old-done", datatypes.SessionCompleted, now.Add(-2*time.Hour))))
	require.NoError(t, repo.SaveSession(ctx, newSession("fresh", datatypes.SessionActive, now.Add(2*time.Hour))))
	require.NoError(t, repo.SaveSession(ctx, newSession("no-expiry", datatypes.SessionActive, time.Time{})))

	// Act
	expired, err := repo.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	n, err := repo.MarkAbandoned(ctx, []string{"old-active", "old-done"}, now)
	require.NoError(t, err)

	// Assert
	require.Len(t, expired, 1)
	assert.Equal(t, "old-active", expired[0].SessionID)
	assert.Equal(t, int64(1), n)
	got, err := repo.GetSession(ctx, "old-active")
	require.NoError(t, err)
	assert.Equal(t, datatypes.SessionAbandoned, got.Status)
	done, err := repo.GetSession(ctx, "old-done")
	require.NoError(t, err)
	assert.Equal(t, datatypes.SessionCompleted, done.Status)
}

// =============================================================================
// PartyRepository Tests
// =============================================================================

func TestPartyRepository_UpsertAndLookup(t *testing.T) {
	repo := NewPartyRepository(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.UpsertParty(ctx, &datatypes.PartyInfo{
		ExternalID: "p-2", Name: "Beta LLC", PartyType: datatypes.PartyCompany,
	}))
	require.NoError(t, repo.UpsertParty(ctx, &datatypes.PartyInfo{
		ExternalID: "p-2", Name: "Beta Holdings LLC", PartyType: datatypes.PartyCompany, Verified: true,
	}))

	p, err := repo.LookupParty(ctx, "p-2")

	require.NoError(t, err)
	assert.Equal(t, "Beta Holdings LLC", p.Name)
	assert.True(t, p.Verified)
	assert.Equal(t, datatypes.PartyCompany, p.PartyType)
}

func TestPartyRepository_NotFound(t *testing.T) {
	repo := NewPartyRepository(openTestDB(t))

	_, err := repo.LookupParty(context.Background(), "missing")

	assert.ErrorIs(t, err, datatypes.ErrPartyNotFound)
	assert.Error(t, repo.UpsertParty(context.Background(), &datatypes.PartyInfo{}))
}

// =============================================================================
// AuditRepository Tests
// =============================================================================

func TestAuditRepository_LogAndQuery(t *testing.T) {
	// Arrange
	repo := NewAuditRepository(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []extensions.AuditEvent{
		{EventType: extensions.AuditSessionCreated, Timestamp: base, UserID: "u1", ResourceType: "session", ResourceID: "s-1", Outcome: "success"},
		{EventType: extensions.AuditClauseApproved, Timestamp: base.Add(time.Minute), UserID: "u1", ResourceType: "clause", ResourceID: "c-1", Outcome: "success",
			Metadata: map[string]any{"session_id": "s-1"}},
		{EventType: extensions.AuditClauseRejected, Timestamp: base.Add(2 * time.Minute), UserID: "u2", ResourceType: "clause", ResourceID: "c-2", Outcome: "success"},
	}
	for _, ev := range events {
		require.NoError(t, repo.Log(ctx, ev))
	}

	// Act
	all, err := repo.Query(ctx, extensions.AuditFilter{})
	require.NoError(t, err)
	clauses, err := repo.Query(ctx, extensions.AuditFilter{
		EventTypes: []string{extensions.AuditClauseApproved, extensions.AuditClauseRejected},
		UserID:     "u1",
	})
	require.NoError(t, err)
	windowed, err := repo.Query(ctx, extensions.AuditFilter{StartTime: base.Add(30 * time.Second), Limit: 1})
	require.NoError(t, err)

	// Assert
	require.Len(t, all, 3)
	assert.Equal(t, extensions.AuditClauseRejected, all[0].EventType)
	require.Len(t, clauses, 1)
	assert.Equal(t, "c-1", clauses[0].ResourceID)
	assert.Equal(t, "s-1", clauses[0].Metadata["session_id"])
	require.Len(t, windowed, 1)
	assert.Equal(t, "c-2", windowed[0].ResourceID)
	assert.NoError(t, repo.Flush(ctx))
}

func TestAuditRepository_DefaultsTimestamp(t *testing.T) {
	repo := NewAuditRepository(openTestDB(t))
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	require.NoError(t, repo.Log(context.Background(), extensions.AuditEvent{EventType: "x"}))
	got, err := repo.Query(context.Background(), extensions.AuditFilter{})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, fixed.Equal(got[0].Timestamp))
}

// =============================================================================
// DraftCache Tests
// =============================================================================

func TestDraftCache_PutGetDelete(t *testing.T) {
	// Arrange
	cache, err := OpenMemoryDraftCache()
	require.NoError(t, err)
	defer cache.Close()
	ctx := context.Background()

	// Act
	require.NoError(t, cache.Put(ctx, "local-1", []byte(`{"step":1}`)))
	require.NoError(t, cache.Put(ctx, "s-2", []byte(`{"step":3}`)))
	got, err := cache.Get(ctx, "local-1")
	require.NoError(t, err)
	handles, err := cache.Handles(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.Delete(ctx, "local-1"))
	_, missErr := cache.Get(ctx, "local-1")

	// Assert
	assert.JSONEq(t, `{"step":1}`, string(got))
	assert.ElementsMatch(t, []string{"local-1", "s-2"}, handles)
	assert.ErrorIs(t, missErr, datatypes.ErrNotFound)
	assert.NoError(t, cache.Delete(ctx, "never-existed"))
}

func TestDraftCache_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultCacheConfig(dir)
	cfg.GCInterval = time.Hour

	cache, err := OpenDraftCache(cfg)
	require.NoError(t, err)
	require.NoError(t, cache.Put(context.Background(), "s-1", []byte("snapshot")))
	require.NoError(t, cache.Close())

	reopened, err := OpenDraftCache(cfg)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(got))
}

func TestDraftCache_RequiresDir(t *testing.T) {
	_, err := OpenDraftCache(CacheConfig{})
	assert.Error(t, err)
}

func TestDraftCache_CanceledContext(t *testing.T) {
	cache, err := OpenMemoryDraftCache()
	require.NoError(t, err)
	defer cache.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, cache.Put(ctx, "x", nil), context.Canceled)
	_, err = cache.Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// ExpirySweeper Tests
// =============================================================================

func TestExpirySweeper_RunNow(t *testing.T) {
	// Arrange
	db := openTestDB(t)
	sessions := NewSessionRepository(db)
	audit := NewAuditRepository(db)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, sessions.SaveSession(ctx, newSession("stale", datatypes.SessionActive, now.Add(-time.Minute))))
	require.NoError(t, sessions.SaveSession(ctx, newSession("live", datatypes.SessionActive, now.Add(time.Hour))))
	rec := &countingRecorder{}
	sweeper := NewExpirySweeper(sessions, audit, rec, SweeperConfig{})
	var dropped []string
	sweeper.OnAbandoned = func(ids []string) { dropped = ids }

	// Act
	result, err := sweeper.RunNow(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, result.Found)
	assert.Equal(t, int64(1), result.Abandoned)
	assert.Equal(t, 1, rec.total)
	assert.Equal(t, []string{"stale"}, dropped)
	events, err := audit.Query(ctx, extensions.AuditFilter{EventTypes: []string{extensions.AuditSessionAbandoned}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "stale", events[0].ResourceID)
	assert.Equal(t, "system", events[0].UserID)
}

func TestExpirySweeper_StartStop(t *testing.T) {
	sessions := NewSessionRepository(openTestDB(t))
	sweeper := NewExpirySweeper(sessions, nil, nil, SweeperConfig{Interval: time.Hour})

	require.NoError(t, sweeper.Start(context.Background()))
	assert.Error(t, sweeper.Start(context.Background()))
	sweeper.Stop()
	sweeper.Stop()
	require.NoError(t, sweeper.Start(context.Background()))
	sweeper.Stop()
}
