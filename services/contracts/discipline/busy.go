// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package discipline

import (
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// BusyRecorder receives busy-guard rejections.
type BusyRecorder interface {
	RecordBusyRejection(action string)
}

// Action keys for the busy-guard.
const (
	ActionAnalyze           = "analyze"
	ActionSearch            = "search"
	ActionCreateSession     = "create_session"
	ActionGenerateMandatory = "generate_mandatory"
	ActionGenerateOptional  = "generate_optional"
	ActionGenerateCustom    = "generate_custom"
	ActionPreview           = "preview"
	ActionComplete          = "complete"
	ActionLoad              = "load"
)

// ClauseKey returns the busy-guard key shared by every action on one clause.
// Approve, reject and reanalyze on the same clause exclude each other.
func ClauseKey(clauseID string) string {
	return "clause:" + clauseID
}

// BusyGuard tracks one in-flight flag per action key.
//
// # Description
//
// A second Acquire for a key that is already held fails immediately with
// an in-flight error. Nothing is queued. Different keys are independent.
//
// # Thread Safety
//
// Safe for concurrent use.
type BusyGuard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	recorder BusyRecorder
}

// NewBusyGuard creates a guard. rec may be nil.
func NewBusyGuard(rec BusyRecorder) *BusyGuard {
	return &BusyGuard{
		inflight: make(map[string]struct{}),
		recorder: rec,
	}
}

// Acquire marks key as in flight.
//
// # Outputs
//
//   - release: Clears the flag. Idempotent.
//   - error: datatypes.ErrInFlight kind when key is already held.
func (g *BusyGuard) Acquire(key string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inflight[key]; busy {
		if g.recorder != nil {
			g.recorder.RecordBusyRejection(actionLabel(key))
		}
		return nil, datatypes.NewInFlightError(key)
	}
	g.inflight[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inflight, key)
			g.mu.Unlock()
		})
	}, nil
}

// InFlight reports whether key is held.
func (g *BusyGuard) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inflight[key]
	return busy
}

// Keys returns the held keys in sorted order.
func (g *BusyGuard) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.inflight))
	for k := range g.inflight {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Guard runs fn while holding key.
func Guard[T any](g *BusyGuard, key string, fn func() (T, error)) (T, error) {
	release, err := g.Acquire(key)
	if err != nil {
		var zero T
		return zero, err
	}
	defer release()
	return fn()
}

// actionLabel strips per-entity suffixes so metric cardinality stays bounded.
func actionLabel(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
