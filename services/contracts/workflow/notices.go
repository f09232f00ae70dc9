// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// DefaultNoticeWindow is how long an error stays visible.
const DefaultNoticeWindow = 10 * time.Second

// Notice is a user-facing error attached to one action.
type Notice struct {
	Action    string              `json:"action"`
	Kind      datatypes.ErrorKind `json:"kind"`
	Message   string              `json:"message"`
	Retryable bool                `json:"retryable"`
	PostedAt  time.Time           `json:"posted_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// Notices keeps the latest error per action for a fixed display window.
//
// # Description
//
// Posting again for the same action replaces the notice and restarts its
// window. Expired notices are dropped lazily by Active. A notice never
// blocks the action it describes; the user may retry at any time.
//
// # Thread Safety
//
// Safe for concurrent use.
type Notices struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	items  map[string]Notice
}

// NewNotices creates an empty set. Zero window means DefaultNoticeWindow;
// nil now means time.Now.
func NewNotices(window time.Duration, now func() time.Time) *Notices {
	if window <= 0 {
		window = DefaultNoticeWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Notices{window: window, now: now, items: make(map[string]Notice)}
}

// Post records err for action. retryable marks actions the system itself
// may safely repeat.
func (n *Notices) Post(action string, err error, retryable bool) {
	if err == nil {
		return
	}
	now := n.now()
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items[action] = Notice{
		Action:    action,
		Kind:      datatypes.KindOf(err),
		Message:   datatypes.UserMessage(err),
		Retryable: retryable && datatypes.IsTransient(err),
		PostedAt:  now,
		ExpiresAt: now.Add(n.window),
	}
}

// Clear removes the notice for action, typically after it succeeds.
func (n *Notices) Clear(action string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.items, action)
}

// Active returns unexpired notices, oldest first.
func (n *Notices) Active() []Notice {
	now := n.now()
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Notice, 0, len(n.items))
	for action, item := range n.items {
		if !now.Before(item.ExpiresAt) {
			delete(n.items, action)
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].Action < out[j].Action
		}
		return out[i].PostedAt.Before(out[j].PostedAt)
	})
	return out
}
