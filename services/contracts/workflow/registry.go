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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// persistTimeout bounds one snapshot write.
const persistTimeout = 5 * time.Second

// DraftStore persists draft snapshots by handle. store.DraftCache
// implements it.
type DraftStore interface {
	Put(ctx context.Context, handle string, data []byte) error
	Get(ctx context.Context, handle string) ([]byte, error)
	Delete(ctx context.Context, handle string) error
	Handles(ctx context.Context) ([]string, error)
}

// draftRecord is what the registry writes to the store.
type draftRecord struct {
	Owner    string   `json:"owner"`
	Snapshot Snapshot `json:"snapshot"`
}

// Registry holds the live drafts of this process.
//
// # Description
//
// Drafts are addressed by handle, the placeholder id minted when the draft
// started. Once the server assigns a session id that id resolves to the
// same draft. Every confirmed change is written to the DraftStore, and a
// draft missing from memory is restored from there on first access. A
// restored draft with a server session is reloaded from the server before
// it is first handed out, so the server's step wins over the snapshot.
// Drafts belong to the user who started them; other users get not found.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	deps   Deps
	store  DraftStore
	logger *slog.Logger

	mu      sync.RWMutex
	drafts  map[string]*Orchestrator
	owners  map[string]string
	aliases map[string]string

	persistMu sync.Mutex
}

// NewRegistry creates a registry. deps is the template for every draft;
// its OnChange and OnSessionID hooks are replaced. store may be nil, in
// which case drafts live only in memory.
func NewRegistry(deps Deps, store DraftStore) (*Registry, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Registry{
		deps:    deps,
		store:   store,
		logger:  deps.Logger.With("component", "draft_registry"),
		drafts:  make(map[string]*Orchestrator),
		owners:  make(map[string]string),
		aliases: make(map[string]string),
	}, nil
}

func (r *Registry) draftDeps() Deps {
	d := r.deps
	d.OnChange = func(s Snapshot) { r.persist(s.Handle) }
	d.OnSessionID = r.alias
	return d
}

// Start creates a fresh draft for owner at step 1.
func (r *Registry) Start(ctx context.Context, owner string) (*Orchestrator, error) {
	o, err := New("", r.draftDeps())
	if err != nil {
		return nil, err
	}
	r.add(o, owner)
	r.persist(o.Handle())
	r.logger.InfoContext(ctx, "draft started", "draft", o.Handle(), "owner", owner)
	return o, nil
}

// Open resumes a server session. The draft that already tracks it is
// reloaded from the server; otherwise a new draft is created.
func (r *Registry) Open(ctx context.Context, owner, sessionID string) (*Orchestrator, []Anomaly, error) {
	if o, err := r.lookup(ctx, owner, sessionID); err == nil {
		anomalies, err := o.Load(ctx, sessionID)
		if err != nil {
			return nil, nil, err
		}
		return o, anomalies, nil
	}
	o, err := New("", r.draftDeps())
	if err != nil {
		return nil, nil, err
	}
	anomalies, err := o.Load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	r.add(o, owner)
	r.persist(o.Handle())
	return o, anomalies, nil
}

// Get returns the draft for a handle or server session id.
func (r *Registry) Get(ctx context.Context, owner, ref string) (*Orchestrator, error) {
	o, err := r.lookup(ctx, owner, ref)
	if err != nil {
		return nil, err
	}
	if _, err := o.Resync(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// lookup finds a draft in memory or the store without contacting the
// gateway.
func (r *Registry) lookup(ctx context.Context, owner, ref string) (*Orchestrator, error) {
	r.mu.RLock()
	handle := r.resolve(ref)
	o, ok := r.drafts[handle]
	draftOwner := r.owners[handle]
	r.mu.RUnlock()
	if ok {
		if draftOwner != owner {
			return nil, datatypes.NewNotFoundError("get_draft", "draft not found")
		}
		return o, nil
	}
	if r.store == nil {
		return nil, datatypes.NewNotFoundError("get_draft", "draft not found")
	}
	return r.restore(ctx, owner, handle)
}

func (r *Registry) resolve(ref string) string {
	if h, ok := r.aliases[ref]; ok {
		return h
	}
	return ref
}

func (r *Registry) restore(ctx context.Context, owner, handle string) (*Orchestrator, error) {
	rec, err := r.load(ctx, handle)
	if err != nil {
		return nil, err
	}
	if rec.Owner != owner {
		return nil, datatypes.NewNotFoundError("get_draft", "draft not found")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.drafts[handle]; ok {
		return existing, nil
	}
	o, err := Restore(rec.Snapshot, r.draftDeps())
	if err != nil {
		return nil, err
	}
	r.addLocked(o, rec.Owner)
	return o, nil
}

func (r *Registry) load(ctx context.Context, handle string) (draftRecord, error) {
	data, err := r.store.Get(ctx, handle)
	if err != nil {
		return draftRecord{}, err
	}
	var rec draftRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return draftRecord{}, fmt.Errorf("decode draft %s: %w", handle, err)
	}
	if rec.Snapshot.Handle == "" || rec.Snapshot.Session == nil {
		return draftRecord{}, fmt.Errorf("decode draft %s: incomplete snapshot", handle)
	}
	return rec, nil
}

// RestoreAll loads every stored draft into memory. Unreadable drafts are
// logged and skipped.
func (r *Registry) RestoreAll(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	handles, err := r.store.Handles(ctx)
	if err != nil {
		return 0, fmt.Errorf("list drafts: %w", err)
	}
	restored := 0
	for _, h := range handles {
		rec, err := r.load(ctx, h)
		if err != nil {
			r.logger.Warn("skipping unreadable draft", "draft", h, "error", err)
			continue
		}
		if _, err := r.restore(ctx, rec.Owner, h); err != nil {
			r.logger.Warn("skipping draft", "draft", h, "error", err)
			continue
		}
		restored++
	}
	r.logger.Info("drafts restored", "count", restored)
	return restored, nil
}

// Remove forgets a draft and deletes its snapshot.
func (r *Registry) Remove(ctx context.Context, owner, ref string) error {
	o, err := r.lookup(ctx, owner, ref)
	if err != nil {
		return err
	}
	handle := o.Handle()

	r.mu.Lock()
	delete(r.drafts, handle)
	delete(r.owners, handle)
	for sid, h := range r.aliases {
		if h == handle {
			delete(r.aliases, sid)
		}
	}
	r.mu.Unlock()
	r.deps.Metrics.DraftClosed()

	if r.store != nil {
		if err := r.store.Delete(ctx, handle); err != nil {
			return fmt.Errorf("delete draft %s: %w", handle, err)
		}
	}
	return nil
}

// MarkAbandoned flags the drafts of abandoned server sessions. It matches
// store.ExpirySweeper's OnAbandoned hook.
func (r *Registry) MarkAbandoned(sessionIDs []string) {
	for _, sid := range sessionIDs {
		r.mu.RLock()
		o, ok := r.drafts[r.resolve(sid)]
		r.mu.RUnlock()
		if ok {
			o.MarkAbandoned()
		}
	}
}

// Len returns the number of drafts in memory.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drafts)
}

func (r *Registry) add(o *Orchestrator, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(o, owner)
}

func (r *Registry) addLocked(o *Orchestrator, owner string) {
	handle := o.Handle()
	r.drafts[handle] = o
	r.owners[handle] = owner
	if sid := o.SessionID(); !datatypes.IsPlaceholderID(sid) {
		r.aliases[sid] = handle
	}
	r.deps.Metrics.DraftOpened()
}

func (r *Registry) alias(handle, sessionID string) {
	r.mu.Lock()
	r.aliases[sessionID] = handle
	r.mu.Unlock()
}

// persist writes the draft's latest snapshot. Snapshots are taken under
// persistMu, so the last write always carries the newest state.
func (r *Registry) persist(handle string) {
	if r.store == nil {
		return
	}
	r.mu.RLock()
	o, ok := r.drafts[handle]
	owner := r.owners[handle]
	r.mu.RUnlock()
	if !ok {
		return
	}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	data, err := json.Marshal(draftRecord{Owner: owner, Snapshot: o.Snapshot()})
	if err != nil {
		r.logger.Error("encode draft", "draft", handle, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.Put(ctx, handle, data); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("persist draft", "draft", handle, "error", err)
	}
}
