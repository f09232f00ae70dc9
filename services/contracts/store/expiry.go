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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// =============================================================================
// Expiry Sweeper
// =============================================================================

// ExpiredSessions is what the sweeper needs from session storage.
// *SessionRepository satisfies it.
type ExpiredSessions interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*datatypes.Session, error)
	MarkAbandoned(ctx context.Context, sessionIDs []string, now time.Time) (int64, error)
}

// AbandonRecorder counts abandoned sessions.
type AbandonRecorder interface {
	RecordAbandoned(n int)
}

// SweeperConfig configures an ExpirySweeper.
//
// # Fields
//
//   - Interval: Time between sweeps. Default 10 minutes.
//   - BatchSize: Maximum sessions abandoned per sweep. Default 100.
type SweeperConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Found     int
	Abandoned int64
	Started   time.Time
	Finished  time.Time
}

// ExpirySweeper marks sessions past their ExpiresAt as abandoned.
//
// # Description
//
// Runs one sweep at Start and then every Interval. Each abandoned session
// produces a session.abandoned audit event. OnAbandoned, when set, receives
// the ids so in-memory drafts can be dropped.
//
// # Thread Safety
//
// Start, Stop and RunNow are safe for concurrent use.
type ExpirySweeper struct {
	sessions    ExpiredSessions
	audit       extensions.AuditLogger
	recorder    AbandonRecorder
	config      SweeperConfig
	now         func() time.Time
	OnAbandoned func(sessionIDs []string)

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// NewExpirySweeper creates a stopped sweeper. audit and recorder may be nil.
func NewExpirySweeper(sessions ExpiredSessions, audit extensions.AuditLogger, recorder AbandonRecorder, config SweeperConfig) *ExpirySweeper {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &ExpirySweeper{
		sessions: sessions,
		audit:    audit,
		recorder: recorder,
		config:   config,
		now:      time.Now,
	}
}

// Start launches the background loop. It fails if already running.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("expiry sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	slog.Info("session expiry sweeper starting",
		"interval", s.config.Interval.String(),
		"batch_size", s.config.BatchSize,
	)
	go s.loop(ctx, s.done, s.stopped)
	return nil
}

// Stop ends the loop and waits for an in-progress sweep. Safe to call twice.
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()
	<-stopped
}

// RunNow performs one sweep immediately.
func (s *ExpirySweeper) RunNow(ctx context.Context) (SweepResult, error) {
	result := SweepResult{Started: s.now()}

	expired, err := s.sessions.ListExpired(ctx, result.Started, s.config.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list expired sessions: %w", err)
	}
	result.Found = len(expired)
	if len(expired) == 0 {
		result.Finished = s.now()
		return result, nil
	}

	ids := make([]string, 0, len(expired))
	for _, sess := range expired {
		ids = append(ids, sess.SessionID)
	}
	n, err := s.sessions.MarkAbandoned(ctx, ids, result.Started)
	if err != nil {
		return result, err
	}
	result.Abandoned = n

	for _, sess := range expired {
		ev := extensions.AuditEvent{
			EventType:    extensions.AuditSessionAbandoned,
			Timestamp:    result.Started,
			UserID:       "system",
			Action:       "expire",
			ResourceType: "session",
			ResourceID:   sess.SessionID,
			Outcome:      "success",
			Metadata: map[string]any{
				"owner_id":     sess.OwnerID,
				"current_step": sess.CurrentStep,
				"expires_at":   sess.ExpiresAt,
			},
		}
		if err := s.audit.Log(ctx, ev); err != nil {
			slog.Warn("failed to audit abandoned session", "session_id", sess.SessionID, "error", err)
		}
	}
	if s.recorder != nil {
		s.recorder.RecordAbandoned(int(n))
	}
	if s.OnAbandoned != nil {
		s.OnAbandoned(ids)
	}
	result.Finished = s.now()
	return result, nil
}

func (s *ExpirySweeper) loop(ctx context.Context, done, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("session expiry sweeper stopped (context cancelled)")
			return
		case <-done:
			slog.Info("session expiry sweeper stopped (stop requested)")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	result, err := s.RunNow(ctx)
	if err != nil {
		slog.Error("session expiry sweep failed", "error", err)
		return
	}
	if result.Found > 0 {
		slog.Info("session expiry sweep completed",
			"found", result.Found,
			"abandoned", result.Abandoned,
			"duration_ms", result.Finished.Sub(result.Started).Milliseconds(),
		)
	}
}
