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
	"strings"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// =============================================================================
// Clause State
// =============================================================================

// clauseState is a clause plus the local edit overlay the server never sees.
type clauseState struct {
	Clause datatypes.Clause `json:"clause"`

	// Draft is the user's working text while editing, or the last draft
	// that failed to regenerate.
	Draft string `json:"draft,omitempty"`

	// Prior is the status to restore when an edit is cancelled.
	Prior datatypes.ClauseStatus `json:"prior,omitempty"`
}

type collection struct {
	Clauses []clauseState `json:"clauses"`
	Index   int           `json:"index"`
}

func (c *collection) find(id string) (int, bool) {
	for i := range c.Clauses {
		if c.Clauses[i].Clause.ClauseID == id {
			return i, true
		}
	}
	return -1, false
}

func (c *collection) clamp() {
	switch {
	case len(c.Clauses) == 0:
		c.Index = 0
	case c.Index < 0:
		c.Index = 0
	case c.Index >= len(c.Clauses):
		c.Index = len(c.Clauses) - 1
	}
}

// =============================================================================
// Engine
// =============================================================================

// ClauseEngine is the approval state machine for one draft's clauses.
//
// # Description
//
// The engine never calls the gateway. Each user action is split into a
// Prepare step, which validates locally and returns what the gateway needs,
// and an Apply step, which records the confirmed result. Nothing changes
// between the two, so a failed or abandoned call leaves no trace.
//
// Transitions:
//
//	pending|ai_generated|regenerated|regeneration_failed --approve--> approved
//	pending|ai_generated|regenerated|regeneration_failed|approved --edit--> editing
//	editing --cancel--> prior status
//	editing --reanalyze ok--> regenerated (or the server's status)
//	editing --reanalyze gateway failure--> regeneration_failed
//	optional/custom, not rejected --reject--> rejected
//
// Rejecting a mandatory clause is a conflict.
//
// # Thread Safety
//
// Not safe for concurrent use. The orchestrator serializes access.
type ClauseEngine struct {
	colls     map[datatypes.ClauseKind]*collection
	certified bool
	recorder  ClauseRecorder
}

// ClauseRecorder receives confirmed clause transitions.
type ClauseRecorder interface {
	RecordClauseTransition(kind, status string)
}

// NewClauseEngine creates an engine with empty collections. rec may be nil.
func NewClauseEngine(rec ClauseRecorder) *ClauseEngine {
	return &ClauseEngine{
		colls: map[datatypes.ClauseKind]*collection{
			datatypes.KindMandatory: {},
			datatypes.KindOptional:  {},
			datatypes.KindCustom:    {},
		},
		recorder: rec,
	}
}

// Reset empties every collection and clears the certification.
func (e *ClauseEngine) Reset() {
	for kind := range e.colls {
		e.colls[kind] = &collection{}
	}
	e.certified = false
}

// Load replaces a collection with the server's clauses. Local edits of
// clauses whose server status has not moved are kept. The cursor is kept
// and clamped.
func (e *ClauseEngine) Load(kind datatypes.ClauseKind, clauses []datatypes.Clause, index int) {
	coll := e.colls[kind]
	overlays := make(map[string]clauseState, len(coll.Clauses))
	for _, st := range coll.Clauses {
		overlays[st.Clause.ClauseID] = st
	}

	next := make([]clauseState, 0, len(clauses))
	for _, c := range clauses {
		c.Kind = kind
		c.IsMandatory = kind == datatypes.KindMandatory
		st := clauseState{Clause: c}
		if prev, ok := overlays[c.ClauseID]; ok {
			switch {
			case prev.Clause.Status == datatypes.ClauseEditing && c.Status == prev.Prior:
				st.Clause.Status = datatypes.ClauseEditing
				st.Prior = prev.Prior
				st.Draft = prev.Draft
			case prev.Clause.Status == datatypes.ClauseRegenerationFailed && c.Status != datatypes.ClauseApproved && c.Status != datatypes.ClauseRejected:
				st.Clause.Status = datatypes.ClauseRegenerationFailed
				st.Draft = prev.Draft
			}
		}
		next = append(next, st)
	}
	coll.Clauses = next
	coll.Index = index
	coll.clamp()
}

// Append adds clauses to the end of a collection.
func (e *ClauseEngine) Append(kind datatypes.ClauseKind, clauses []datatypes.Clause) {
	coll := e.colls[kind]
	for _, c := range clauses {
		c.Kind = kind
		c.IsMandatory = kind == datatypes.KindMandatory
		if i, ok := coll.find(c.ClauseID); ok {
			coll.Clauses[i] = clauseState{Clause: c}
			continue
		}
		coll.Clauses = append(coll.Clauses, clauseState{Clause: c})
	}
	coll.clamp()
}

// Clauses returns a copy of a collection's clauses as the user sees them.
func (e *ClauseEngine) Clauses(kind datatypes.ClauseKind) []datatypes.Clause {
	coll := e.colls[kind]
	out := make([]datatypes.Clause, len(coll.Clauses))
	for i, st := range coll.Clauses {
		out[i] = st.Clause
		out[i].LegalReferences = append([]string(nil), st.Clause.LegalReferences...)
	}
	return out
}

// ServerClauses returns a collection with local edit states replaced by
// the status the server holds.
func (e *ClauseEngine) ServerClauses(kind datatypes.ClauseKind) []datatypes.Clause {
	out := e.Clauses(kind)
	for i, st := range e.colls[kind].Clauses {
		if st.Clause.Status == datatypes.ClauseEditing {
			out[i].Status = st.Prior
		}
	}
	return out
}

// Index returns a collection's cursor.
func (e *ClauseEngine) Index(kind datatypes.ClauseKind) int {
	return e.colls[kind].Index
}

// Draft returns the working text of a clause being edited.
func (e *ClauseEngine) Draft(clauseID string) (string, bool) {
	st, _, ok := e.lookup(clauseID)
	if !ok || st.Clause.Status != datatypes.ClauseEditing {
		return "", false
	}
	return st.Draft, true
}

// Find returns the clause and its collection.
func (e *ClauseEngine) Find(clauseID string) (datatypes.Clause, datatypes.ClauseKind, bool) {
	st, kind, ok := e.lookup(clauseID)
	if !ok {
		return datatypes.Clause{}, "", false
	}
	return st.Clause, kind, true
}

func (e *ClauseEngine) lookup(clauseID string) (*clauseState, datatypes.ClauseKind, bool) {
	for _, kind := range []datatypes.ClauseKind{datatypes.KindMandatory, datatypes.KindOptional, datatypes.KindCustom} {
		coll := e.colls[kind]
		if i, ok := coll.find(clauseID); ok {
			return &coll.Clauses[i], kind, true
		}
	}
	return nil, "", false
}

func (e *ClauseEngine) mustFind(op, clauseID string) (*clauseState, datatypes.ClauseKind, error) {
	st, kind, ok := e.lookup(clauseID)
	if !ok {
		return nil, "", datatypes.NewNotFoundError(op, "clause not found")
	}
	return st, kind, nil
}

// =============================================================================
// Certification
// =============================================================================

// SetCertified records the gateway's step3_completed verdict.
func (e *ClauseEngine) SetCertified(v bool) {
	e.certified = v
}

// Certified returns the last step3_completed verdict.
func (e *ClauseEngine) Certified() bool {
	return e.certified
}

// AllMandatoryApproved is the local tally: at least one mandatory clause
// and every one approved.
func (e *ClauseEngine) AllMandatoryApproved() bool {
	coll := e.colls[datatypes.KindMandatory]
	if len(coll.Clauses) == 0 {
		return false
	}
	for _, st := range coll.Clauses {
		if st.Clause.Status != datatypes.ClauseApproved {
			return false
		}
	}
	return true
}

// MandatoryComplete holds when either the local tally or the gateway
// certifies every mandatory clause as approved.
func (e *ClauseEngine) MandatoryComplete() bool {
	return e.AllMandatoryApproved() || e.certified
}

// OptionalComplete holds when every optional and custom clause is approved
// or rejected.
func (e *ClauseEngine) OptionalComplete() bool {
	for _, kind := range []datatypes.ClauseKind{datatypes.KindOptional, datatypes.KindCustom} {
		for _, st := range e.colls[kind].Clauses {
			if !st.Clause.Status.IsTerminal() {
				return false
			}
		}
	}
	return true
}

// =============================================================================
// Local Transitions
// =============================================================================

// Edit opens a clause for editing. Editing an approved mandatory clause
// withdraws the step 3 certification.
func (e *ClauseEngine) Edit(clauseID string) error {
	const op = "edit_clause"
	st, kind, err := e.mustFind(op, clauseID)
	if err != nil {
		return err
	}
	switch st.Clause.Status {
	case datatypes.ClauseEditing:
		return nil
	case datatypes.ClauseRejected:
		return datatypes.NewValidationError(op, "a rejected clause cannot be edited")
	}
	if st.Clause.Status == datatypes.ClauseApproved && kind == datatypes.KindMandatory {
		e.certified = false
	}
	if st.Clause.Status != datatypes.ClauseRegenerationFailed || st.Draft == "" {
		st.Draft = st.Clause.Content
	}
	st.Prior = st.Clause.Status
	st.Clause.Status = datatypes.ClauseEditing
	return nil
}

// UpdateDraft replaces the working text of a clause being edited.
func (e *ClauseEngine) UpdateDraft(clauseID, content string) error {
	const op = "update_draft"
	st, _, err := e.mustFind(op, clauseID)
	if err != nil {
		return err
	}
	if st.Clause.Status != datatypes.ClauseEditing {
		return datatypes.NewValidationError(op, "open the clause for editing first")
	}
	st.Draft = content
	return nil
}

// Cancel abandons an edit and restores the prior status.
func (e *ClauseEngine) Cancel(clauseID string) error {
	const op = "cancel_edit"
	st, _, err := e.mustFind(op, clauseID)
	if err != nil {
		return err
	}
	if st.Clause.Status != datatypes.ClauseEditing {
		return nil
	}
	st.Clause.Status = st.Prior
	st.Prior = ""
	st.Draft = ""
	return nil
}

// =============================================================================
// Gateway-backed Transitions
// =============================================================================

// PrepareApprove validates an approval.
func (e *ClauseEngine) PrepareApprove(clauseID string) error {
	const op = "approve_clause"
	st, _, err := e.mustFind(op, clauseID)
	if err != nil {
		return err
	}
	switch st.Clause.Status {
	case datatypes.ClauseApproved:
		return datatypes.NewValidationError(op, "the clause is already approved")
	case datatypes.ClauseRejected:
		return datatypes.NewValidationError(op, "a rejected clause cannot be approved")
	case datatypes.ClauseEditing:
		return datatypes.NewValidationError(op, "reanalyze or cancel your edit before approving")
	}
	return nil
}

// ApplyApproved records a confirmed approval. certified, when the gateway
// sent it, replaces the step 3 verdict.
func (e *ClauseEngine) ApplyApproved(clause datatypes.Clause, certified *bool) {
	e.applyConfirmed(clause, datatypes.ClauseApproved)
	if certified != nil {
		e.certified = *certified
	}
}

// PrepareReject validates a rejection. Mandatory clauses cannot be
// rejected; the error explains how to change one instead.
func (e *ClauseEngine) PrepareReject(clauseID string) error {
	const op = "reject_clause"
	st, kind, err := e.mustFind(op, clauseID)
	if err != nil {
		return err
	}
	if !kind.Rejectable() {
		return datatypes.NewConflictError(op,
			"mandatory clauses cannot be rejected; edit the clause and reanalyze it to change its terms")
	}
	switch st.Clause.Status {
	case datatypes.ClauseRejected:
		return datatypes.NewValidationError(op, "the clause is already rejected")
	case datatypes.ClauseEditing:
		return datatypes.NewValidationError(op, "cancel your edit before rejecting")
	}
	return nil
}

// ApplyRejected records a confirmed rejection.
func (e *ClauseEngine) ApplyRejected(clause datatypes.Clause) {
	e.applyConfirmed(clause, datatypes.ClauseRejected)
}

// PrepareReanalyze validates a reanalysis and returns the modifications to
// send: the user's working text.
func (e *ClauseEngine) PrepareReanalyze(clauseID string) (string, error) {
	const op = "reanalyze_clause"
	st, _, err := e.mustFind(op, clauseID)
	if err != nil {
		return "", err
	}
	if st.Clause.Status != datatypes.ClauseEditing {
		return "", datatypes.NewValidationError(op, "edit the clause before reanalyzing it")
	}
	mods := strings.TrimSpace(st.Draft)
	if mods == "" {
		return "", datatypes.NewValidationError(op, "describe the change you want")
	}
	return mods, nil
}

// ApplyReanalyzed records fresh content from the gateway. A status the
// server did not set, or left pending, becomes regenerated.
func (e *ClauseEngine) ApplyReanalyzed(clause datatypes.Clause) {
	switch clause.Status {
	case "", datatypes.ClausePending, datatypes.ClauseEditing:
		clause.Status = datatypes.ClauseRegenerated
	}
	e.applyConfirmed(clause, clause.Status)
}

// ApplyReanalyzeFailed records a failed reanalysis. Only a failure the
// gateway reported marks the clause regeneration_failed; timeouts and
// transport errors leave it in editing so the user can try again.
func (e *ClauseEngine) ApplyReanalyzeFailed(clauseID string, err error) {
	if datatypes.KindOf(err) != datatypes.KindGateway {
		return
	}
	st, kind, ok := e.lookup(clauseID)
	if !ok || st.Clause.Status != datatypes.ClauseEditing {
		return
	}
	st.Clause.Status = datatypes.ClauseRegenerationFailed
	st.Prior = ""
	e.record(kind, datatypes.ClauseRegenerationFailed)
}

func (e *ClauseEngine) applyConfirmed(clause datatypes.Clause, status datatypes.ClauseStatus) {
	st, kind, ok := e.lookup(clause.ClauseID)
	if !ok {
		return
	}
	clause.Kind = kind
	clause.IsMandatory = kind == datatypes.KindMandatory
	clause.Status = status
	if clause.Content == "" {
		clause.Content = st.Clause.Content
	}
	*st = clauseState{Clause: clause}
	e.record(kind, status)
}

func (e *ClauseEngine) record(kind datatypes.ClauseKind, status datatypes.ClauseStatus) {
	if e.recorder != nil {
		e.recorder.RecordClauseTransition(string(kind), string(status))
	}
}

// =============================================================================
// Navigation
// =============================================================================

// Next advances the cursor. The current clause must be approved, or for
// optional and custom clauses, approved or rejected.
func (e *ClauseEngine) Next(kind datatypes.ClauseKind) error {
	const op = "next_clause"
	coll := e.colls[kind]
	if len(coll.Clauses) == 0 {
		return datatypes.NewValidationError(op, "there are no clauses to review")
	}
	cur := coll.Clauses[coll.Index].Clause
	done := cur.Status == datatypes.ClauseApproved
	if kind.Rejectable() {
		done = cur.Status.IsTerminal()
	}
	if !done {
		return datatypes.NewValidationError(op, "decide on %q before moving on", cur.Title)
	}
	if coll.Index < len(coll.Clauses)-1 {
		coll.Index++
	}
	return nil
}

// Prev moves the cursor back. Always allowed.
func (e *ClauseEngine) Prev(kind datatypes.ClauseKind) {
	coll := e.colls[kind]
	if coll.Index > 0 {
		coll.Index--
	}
}

// =============================================================================
// Snapshot
// =============================================================================

type engineSnapshot struct {
	Collections map[datatypes.ClauseKind]collection `json:"collections"`
	Certified   bool                                `json:"certified"`
}

func (e *ClauseEngine) snapshot() engineSnapshot {
	out := engineSnapshot{
		Collections: make(map[datatypes.ClauseKind]collection, len(e.colls)),
		Certified:   e.certified,
	}
	for kind, coll := range e.colls {
		out.Collections[kind] = collection{
			Clauses: append([]clauseState(nil), coll.Clauses...),
			Index:   coll.Index,
		}
	}
	return out
}

func (e *ClauseEngine) restore(s engineSnapshot) {
	e.certified = s.Certified
	for kind, coll := range s.Collections {
		if _, ok := e.colls[kind]; !ok {
			continue
		}
		c := coll
		c.clamp()
		e.colls[kind] = &c
	}
}
