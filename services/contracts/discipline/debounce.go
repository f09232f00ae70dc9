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
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// SupersededRecorder receives debounce supersessions.
type SupersededRecorder interface {
	RecordSuperseded(action string)
}

// Debouncer collapses bursts of calls per key into the last one.
//
// # Description
//
// Each Wait registers itself as the latest call for its key and blocks for
// the quiet period. If a newer call for the same key arrives first, the
// older Wait returns a superseded error immediately. Only a call that
// survives the whole quiet period returns nil and may proceed.
//
// # Examples
//
//	d := discipline.NewDebouncer(300*time.Millisecond, nil)
//	party, err := discipline.Debounce(ctx, d, "search", func(ctx context.Context) (*datatypes.PartyInfo, error) {
//	    return dir.LookupParty(ctx, id)
//	})
//
// # Thread Safety
//
// Safe for concurrent use.
type Debouncer struct {
	quiet    time.Duration
	recorder SupersededRecorder

	mu      sync.Mutex
	pending map[string]*pendingCall
}

type pendingCall struct {
	superseded chan struct{}
}

// NewDebouncer creates a debouncer. A non-positive quiet period uses
// DefaultDebounceQuiet. rec may be nil.
func NewDebouncer(quiet time.Duration, rec SupersededRecorder) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultDebounceQuiet
	}
	return &Debouncer{
		quiet:    quiet,
		recorder: rec,
		pending:  make(map[string]*pendingCall),
	}
}

// Quiet returns the quiet period.
func (d *Debouncer) Quiet() time.Duration {
	return d.quiet
}

// Wait blocks until the quiet period elapses for this call.
//
// # Outputs
//
//   - error: nil when this call is the latest for key; a superseded
//     WorkflowError when a newer call replaced it; ctx.Err() on cancel.
func (d *Debouncer) Wait(ctx context.Context, key string) error {
	me := &pendingCall{superseded: make(chan struct{})}

	d.mu.Lock()
	if prev, ok := d.pending[key]; ok {
		close(prev.superseded)
	}
	d.pending[key] = me
	d.mu.Unlock()

	timer := time.NewTimer(d.quiet)
	defer timer.Stop()

	select {
	case <-me.superseded:
		return d.superseded(key)
	case <-ctx.Done():
		d.mu.Lock()
		if d.pending[key] == me {
			delete(d.pending, key)
		}
		d.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending[key] != me {
		return d.superseded(key)
	}
	delete(d.pending, key)
	return nil
}

func (d *Debouncer) superseded(key string) error {
	if d.recorder != nil {
		d.recorder.RecordSuperseded(key)
	}
	return datatypes.NewSupersededError(key)
}

// Debounce waits out the quiet period for key and then runs fn.
func Debounce[T any](ctx context.Context, d *Debouncer, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := d.Wait(ctx, key); err != nil {
		var zero T
		return zero, err
	}
	return fn(ctx)
}
