// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow drives one contract draft through its five steps.
//
// # Description
//
// An Orchestrator owns a StepController (where the draft is and what each
// step holds) and a ClauseEngine (the approval state of every clause). All
// AI work goes through the gateway interfaces; the orchestrator only
// applies what the gateway confirms. A Registry keeps the live drafts of a
// process and persists them so a restart does not lose work.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
	"github.com/AleutianAI/AleutianContracts/services/contracts/discipline"
	"github.com/AleutianAI/AleutianContracts/services/contracts/gateway"
	"github.com/AleutianAI/AleutianContracts/services/contracts/observability"
)

// =============================================================================
// Dependencies
// =============================================================================

// Deps are the collaborators of an Orchestrator. Gateway and Sessions are
// required.
type Deps struct {
	Gateway  gateway.GenerationGateway
	Sessions gateway.SessionStore
	Parties  gateway.PartyDirectory

	// Metrics may be nil.
	Metrics *observability.WorkflowMetrics
	Logger  *slog.Logger

	// DebounceQuiet is the party search quiet period. Default 300ms.
	DebounceQuiet time.Duration

	// NoticeWindow is how long errors stay visible. Default 10s.
	NoticeWindow time.Duration

	// Now is the clock. Default time.Now.
	Now func() time.Time

	// OnChange receives a snapshot after every confirmed change.
	OnChange func(Snapshot)

	// OnSessionID is called once when the server id replaces the placeholder.
	OnSessionID func(handle, sessionID string)
}

func (d *Deps) validate() error {
	if d.Gateway == nil {
		return fmt.Errorf("workflow: gateway is required")
	}
	if d.Sessions == nil {
		return fmt.Errorf("workflow: session store is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return nil
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator is the session orchestrator for one draft.
//
// # Description
//
// Every user action is validated locally first; a validation or conflict
// error never reaches the network. Gateway calls run under a busy key so a
// duplicate action is refused rather than queued. State is updated only
// from confirmed responses, and the server's step never lowers the local
// one except on Load.
//
// # Thread Safety
//
// Safe for concurrent use. The state lock is never held across a gateway
// call, so actions on different clauses and party search can overlap.
type Orchestrator struct {
	handle string
	deps   Deps
	logger *slog.Logger

	busy     *discipline.BusyGuard
	debounce *discipline.Debouncer
	notices  *Notices

	mu     sync.Mutex
	steps  *StepController
	engine *ClauseEngine

	// stale marks a draft restored from a snapshot whose server session
	// has not been read since.
	stale    bool
	resyncMu sync.Mutex
}

// New creates a draft at step 1. handle identifies the draft for its whole
// life; empty means a fresh placeholder id.
func New(handle string, deps Deps) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	var busyRec discipline.BusyRecorder
	var debounceRec discipline.SupersededRecorder
	var clauseRec ClauseRecorder
	var stepRec StepRecorder
	if deps.Metrics != nil {
		busyRec, debounceRec, clauseRec, stepRec = deps.Metrics, deps.Metrics, deps.Metrics, deps.Metrics
	}

	engine := NewClauseEngine(clauseRec)
	steps := NewStepController(engine, stepRec, deps.Logger)
	if handle == "" {
		handle = steps.sessionID
	} else if datatypes.IsPlaceholderID(handle) {
		steps.sessionID = handle
	}

	return &Orchestrator{
		handle:   handle,
		deps:     deps,
		logger:   deps.Logger.With("draft", handle),
		busy:     discipline.NewBusyGuard(busyRec),
		debounce: discipline.NewDebouncer(deps.DebounceQuiet, debounceRec),
		notices:  NewNotices(deps.NoticeWindow, deps.Now),
		steps:    steps,
		engine:   engine,
	}, nil
}

// Handle returns the draft's stable handle.
func (o *Orchestrator) Handle() string { return o.handle }

// SessionID returns the server session id, or the placeholder.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.steps.SessionID()
}

// =============================================================================
// Load
// =============================================================================

// Load resumes a server session. An empty id keeps the fresh draft at
// step 1. The server's step wins over any local state; resume anomalies
// are logged and returned.
func (o *Orchestrator) Load(ctx context.Context, sessionID string) ([]Anomaly, error) {
	const action = discipline.ActionLoad
	if sessionID == "" {
		return nil, nil
	}
	if datatypes.IsPlaceholderID(sessionID) {
		return nil, o.fail(action, datatypes.NewValidationError("load", "%q is not a server session id", sessionID))
	}

	s, err := callGateway(ctx, o, action, true, func(ctx context.Context) (*datatypes.Session, error) {
		return o.deps.Sessions.GetSession(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	hadSession := o.steps.HasServerSession()
	anomalies := o.steps.Resume(s)
	o.stale = false
	o.mu.Unlock()

	if !hadSession {
		o.sessionIDChanged(s.SessionID)
	}
	o.changed()
	return anomalies, nil
}

// Resync reloads a draft restored from a snapshot from its server session.
// Drafts that were never restored, or were already reloaded, return
// immediately.
func (o *Orchestrator) Resync(ctx context.Context) ([]Anomaly, error) {
	o.resyncMu.Lock()
	defer o.resyncMu.Unlock()

	o.mu.Lock()
	stale, sessionID := o.stale, o.steps.sessionID
	o.mu.Unlock()
	if !stale {
		return nil, nil
	}
	return o.Load(ctx, sessionID)
}

// =============================================================================
// Steps 1 and 2
// =============================================================================

// Analyze sends the request for analysis and stores the verdict as step 1
// data.
func (o *Orchestrator) Analyze(ctx context.Context, prompt string) (*datatypes.AnalysisResult, error) {
	const action = discipline.ActionAnalyze
	o.mu.Lock()
	err := o.checkLive(action)
	if err == nil && o.steps.HasServerSession() {
		err = datatypes.NewValidationError(action, "the request cannot change once the session exists")
	}
	if err == nil && !datatypes.PromptLongEnough(prompt) {
		err = datatypes.NewValidationError(action, "describe the contract in at least %d characters", datatypes.MinPromptChars)
	}
	o.mu.Unlock()
	if err != nil {
		return nil, o.fail(action, err)
	}

	prompt = strings.TrimSpace(prompt)
	res, err := callGateway(ctx, o, action, true, func(ctx context.Context) (*datatypes.AnalysisResult, error) {
		return o.deps.Gateway.AnalyzePrompt(ctx, prompt)
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.steps.step1 = datatypes.Step1Data{Prompt: prompt, Analysis: res}
	o.steps.step2 = datatypes.Step2Data{}
	o.ensureParty1(ctx)
	o.mu.Unlock()
	o.changed()
	return res, nil
}

// Templates returns the templates to show: those at or above the match
// threshold, every suggestion when none qualify, or every suggestion when
// the user asked to see them all.
func (o *Orchestrator) Templates() (visible []datatypes.TemplateSuggestion, degraded bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.templatesLocked()
}

func (o *Orchestrator) templatesLocked() ([]datatypes.TemplateSuggestion, bool) {
	if o.steps.step1.Analysis == nil {
		return []datatypes.TemplateSuggestion{}, false
	}
	all := o.steps.step1.Analysis.SuggestedTemplates
	if o.steps.step2.ShowAllTemplates {
		return append([]datatypes.TemplateSuggestion{}, all...), false
	}
	return FilterTemplates(all)
}

// ShowAllTemplates toggles the unfiltered template list.
func (o *Orchestrator) ShowAllTemplates(show bool) error {
	o.mu.Lock()
	err := o.checkLive("show_all_templates")
	if err == nil {
		o.steps.step2.ShowAllTemplates = show
	}
	o.mu.Unlock()
	if err != nil {
		return err
	}
	o.changed()
	return nil
}

// SelectTemplate picks a template and creates the server session.
//
// # Description
//
// The template must be one of the templates currently shown. The server
// session is created, the placeholder id is replaced by the server's id,
// and step 1 is completed when the draft is still on it. Selecting the
// template the session already has does nothing; selecting another one
// once the session exists is refused.
func (o *Orchestrator) SelectTemplate(ctx context.Context, templateID string) error {
	const action = discipline.ActionCreateSession
	o.mu.Lock()
	err := o.checkLive(action)
	if err == nil {
		err = o.checkTemplateChoice(templateID)
	}
	exists, current := o.steps.HasServerSession(), o.steps.step2.SelectedTemplateID
	prompt, analysis := o.steps.step1.Prompt, o.steps.step1.Analysis
	o.mu.Unlock()
	if err == nil && exists {
		if current == templateID {
			return nil
		}
		err = datatypes.NewValidationError("select_template",
			"the session already uses template %q; start a new draft to change it", current)
	}
	if err != nil {
		return o.fail(action, err)
	}

	s, err := callGateway(ctx, o, action, false, func(ctx context.Context) (*datatypes.Session, error) {
		return o.deps.Gateway.CreateSession(ctx, templateID, prompt, analysis)
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.steps.step2.SelectedTemplateID = templateID
	o.steps.step2.SessionCreated = true
	swapped := o.steps.AdoptSession(s)
	if o.steps.current == datatypes.StepPrompt {
		if _, err := o.steps.CompleteStep(datatypes.StepPrompt); err != nil {
			o.logger.Warn("step 1 not completed after session creation", "error", err)
		}
	}
	if _, anomaly := o.steps.AdoptServerStep(s.CurrentStep); anomaly != nil {
		o.logger.Warn("session creation anomaly", "session_id", s.SessionID, "step", anomaly.Step, "reason", anomaly.Reason)
	}
	o.mu.Unlock()

	if swapped {
		o.sessionIDChanged(s.SessionID)
	}
	o.changed()
	return nil
}

func (o *Orchestrator) checkTemplateChoice(templateID string) error {
	const op = "select_template"
	if cur := o.steps.current; cur != datatypes.StepPrompt && cur != datatypes.StepTemplate {
		return datatypes.NewValidationError(op, "templates are chosen in steps 1 and 2")
	}
	if o.steps.step1.Analysis == nil || !o.steps.step1.Analysis.CanHandle {
		return datatypes.NewValidationError(op, "analyze a request that can be handled first")
	}
	visible, _ := o.templatesLocked()
	for _, t := range visible {
		if t.TemplateID == templateID {
			return nil
		}
	}
	return datatypes.NewValidationError(op, "template %q is not among the templates shown", templateID)
}

// =============================================================================
// Step navigation
// =============================================================================

// ApplyStepCompletion completes step n. Completing step 5 finalizes the
// session with the gateway.
func (o *Orchestrator) ApplyStepCompletion(ctx context.Context, n int) error {
	if n == datatypes.StepReview {
		_, err := o.Complete(ctx, "")
		return err
	}
	action := fmt.Sprintf("complete_step_%d", n)
	o.mu.Lock()
	err := o.checkLive(action)
	if err == nil {
		_, err = o.steps.CompleteStep(n)
	}
	o.mu.Unlock()
	if err != nil {
		return o.fail(action, err)
	}
	o.notices.Clear(action)
	o.changed()
	return nil
}

// GoBack moves to the previous step without contacting the gateway.
func (o *Orchestrator) GoBack() bool {
	o.mu.Lock()
	moved := o.steps.GoBack()
	o.mu.Unlock()
	if moved {
		o.changed()
	}
	return moved
}

// =============================================================================
// Step 3
// =============================================================================

// SetExplanation stores the explanation and mandatory field values.
func (o *Orchestrator) SetExplanation(explanation string, fields map[string]string) error {
	const op = "set_explanation"
	o.mu.Lock()
	err := o.checkLive(op)
	if err == nil {
		err = o.requireStep(op, datatypes.StepMandatory)
	}
	if err == nil {
		o.steps.step3.Explanation = explanation
		if fields != nil {
			o.steps.step3.MandatoryFields = maps.Clone(fields)
		}
	}
	o.mu.Unlock()
	if err != nil {
		return o.fail(op, err)
	}
	o.changed()
	return nil
}

// LookupParty finds the counterparty after the search quiet period.
// Superseded lookups return a superseded error and change nothing.
func (o *Orchestrator) LookupParty(ctx context.Context, externalID string) (*datatypes.PartyInfo, error) {
	const action = discipline.ActionSearch
	externalID = strings.TrimSpace(externalID)
	o.mu.Lock()
	err := o.checkLive(action)
	o.mu.Unlock()
	if err == nil && externalID == "" {
		err = datatypes.NewValidationError(action, "enter the counterparty's id")
	}
	if err == nil && o.deps.Parties == nil {
		err = datatypes.NewNotFoundError(action, "party search is not available")
	}
	if err != nil {
		return nil, o.fail(action, err)
	}

	party, err := discipline.Debounce(ctx, o.debounce, action, func(ctx context.Context) (*datatypes.PartyInfo, error) {
		return callGateway(ctx, o, action, true, func(ctx context.Context) (*datatypes.PartyInfo, error) {
			return o.deps.Parties.LookupParty(ctx, externalID)
		})
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	p := *party
	o.steps.step3.Party2 = &p
	o.mu.Unlock()
	o.changed()
	return party, nil
}

// GenerateMandatory drafts the mandatory clauses. The explanation must
// reach datatypes.MinExplanationWords words.
func (o *Orchestrator) GenerateMandatory(ctx context.Context) ([]datatypes.Clause, error) {
	const action = discipline.ActionGenerateMandatory
	o.mu.Lock()
	err := o.checkLive(action)
	if err == nil {
		err = o.requireStep(action, datatypes.StepMandatory)
	}
	if err == nil {
		err = o.requireSession(action)
	}
	if err == nil {
		if n := datatypes.CountWords(o.steps.step3.Explanation); n < datatypes.MinExplanationWords {
			err = datatypes.NewValidationError(action,
				"the explanation has %d words; at least %d are needed", n, datatypes.MinExplanationWords)
		}
	}
	o.ensureParty1(ctx)
	sessionID := o.steps.sessionID
	explanation := o.steps.step3.Explanation
	templateID := o.steps.step2.SelectedTemplateID
	fields := o.fieldsWithParties()
	o.mu.Unlock()
	if err != nil {
		return nil, o.fail(action, err)
	}

	res, err := callGateway(ctx, o, action, false, func(ctx context.Context) (*datatypes.ClausesResult, error) {
		return o.deps.Gateway.GenerateMandatoryClauses(ctx, sessionID, explanation, fields, templateID)
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.engine.Load(datatypes.KindMandatory, res.Clauses, 0)
	certified := false
	if res.Session != nil {
		var step3 datatypes.Step3Data
		if found, _ := res.Session.DecodeStep(datatypes.StepMandatory, &step3); found {
			certified = step3.Step3Completed
		}
	}
	o.engine.SetCertified(certified)
	o.steps.AdoptSession(res.Session)
	clauses := o.engine.Clauses(datatypes.KindMandatory)
	o.mu.Unlock()
	o.changed()
	return clauses, nil
}

func (o *Orchestrator) fieldsWithParties() map[string]string {
	fields := maps.Clone(o.steps.step3.MandatoryFields)
	if fields == nil {
		fields = make(map[string]string)
	}
	if p := o.steps.step3.Party1; p != nil && fields["party1"] == "" {
		fields["party1"] = p.Name
	}
	if p := o.steps.step3.Party2; p != nil && fields["party2"] == "" {
		fields["party2"] = p.Name
	}
	return fields
}

// =============================================================================
// Clause actions
// =============================================================================

// ApproveClause approves a clause once the gateway confirms it.
func (o *Orchestrator) ApproveClause(ctx context.Context, clauseID string) (datatypes.Clause, error) {
	key := discipline.ClauseKey(clauseID)
	release, err := o.holdClause(key)
	if err != nil {
		return datatypes.Clause{}, err
	}
	defer release()

	o.mu.Lock()
	err = o.checkClauseAction("approve_clause", clauseID)
	if err == nil {
		err = o.engine.PrepareApprove(clauseID)
	}
	sessionID := o.steps.sessionID
	o.mu.Unlock()
	if err != nil {
		return datatypes.Clause{}, o.fail(key, err)
	}

	res, err := o.deps.Gateway.ApproveClause(ctx, sessionID, clauseID, true, "")
	if err := o.settle(key, err, false); err != nil {
		return datatypes.Clause{}, err
	}

	o.mu.Lock()
	if res.Clause.ClauseID == "" {
		res.Clause.ClauseID = clauseID
	}
	o.engine.ApplyApproved(res.Clause, res.Step3Completed)
	o.steps.AdoptSession(res.Session)
	clause, _, _ := o.engine.Find(clauseID)
	o.mu.Unlock()
	o.changed()
	return clause, nil
}

// RejectClause rejects an optional or custom clause. Rejecting a mandatory
// clause fails with a conflict before any network call.
func (o *Orchestrator) RejectClause(ctx context.Context, clauseID string) (datatypes.Clause, error) {
	const op = "reject_clause"
	key := discipline.ClauseKey(clauseID)
	release, err := o.holdClause(key)
	if err != nil {
		return datatypes.Clause{}, err
	}
	defer release()

	o.mu.Lock()
	err = o.checkLive(op)
	// A mandatory clause is a conflict whichever step the draft is on.
	if _, kind, ok := o.engine.Find(clauseID); err == nil && ok && !kind.Rejectable() {
		err = o.engine.PrepareReject(clauseID)
	}
	if err == nil {
		err = o.checkClauseAction(op, clauseID)
	}
	if err == nil {
		err = o.engine.PrepareReject(clauseID)
	}
	sessionID := o.steps.sessionID
	o.mu.Unlock()
	if err != nil {
		return datatypes.Clause{}, o.fail(key, err)
	}

	res, err := o.deps.Gateway.ApproveClause(ctx, sessionID, clauseID, false, "")
	if err := o.settle(key, err, false); err != nil {
		return datatypes.Clause{}, err
	}

	o.mu.Lock()
	if res.Clause.ClauseID == "" {
		res.Clause.ClauseID = clauseID
	}
	o.engine.ApplyRejected(res.Clause)
	if res.Step3Completed != nil {
		o.engine.SetCertified(*res.Step3Completed)
	}
	o.steps.AdoptSession(res.Session)
	clause, _, _ := o.engine.Find(clauseID)
	o.mu.Unlock()
	o.changed()
	return clause, nil
}

// EditClause opens a clause for editing.
func (o *Orchestrator) EditClause(clauseID string) error {
	return o.localClauseAction("edit_clause", clauseID, func() error {
		return o.engine.Edit(clauseID)
	})
}

// UpdateClauseDraft replaces the working text of a clause being edited.
func (o *Orchestrator) UpdateClauseDraft(clauseID, content string) error {
	return o.localClauseAction("update_draft", clauseID, func() error {
		return o.engine.UpdateDraft(clauseID, content)
	})
}

// CancelEdit abandons an edit.
func (o *Orchestrator) CancelEdit(clauseID string) error {
	return o.localClauseAction("cancel_edit", clauseID, func() error {
		return o.engine.Cancel(clauseID)
	})
}

func (o *Orchestrator) localClauseAction(op, clauseID string, fn func() error) error {
	key := discipline.ClauseKey(clauseID)
	if o.busy.InFlight(key) {
		return o.fail(key, datatypes.NewInFlightError(key))
	}
	o.mu.Lock()
	err := o.checkClauseAction(op, clauseID)
	if err == nil {
		err = fn()
	}
	o.mu.Unlock()
	if err != nil {
		return o.fail(key, err)
	}
	o.changed()
	return nil
}

// ReanalyzeClause sends the user's edit for regeneration.
//
// # Description
//
// On success the clause takes the new content. A failure the gateway
// reports marks the clause regeneration_failed, keeping the previous
// content and the user's draft. A timeout or transport failure leaves the
// clause in editing.
func (o *Orchestrator) ReanalyzeClause(ctx context.Context, clauseID string) (datatypes.Clause, error) {
	key := discipline.ClauseKey(clauseID)
	release, err := o.holdClause(key)
	if err != nil {
		return datatypes.Clause{}, err
	}
	defer release()

	o.mu.Lock()
	err = o.checkClauseAction("reanalyze_clause", clauseID)
	var mods string
	if err == nil {
		mods, err = o.engine.PrepareReanalyze(clauseID)
	}
	sessionID := o.steps.sessionID
	o.mu.Unlock()
	if err != nil {
		return datatypes.Clause{}, o.fail(key, err)
	}

	res, err := o.deps.Gateway.ReanalyzeClause(ctx, sessionID, clauseID, mods)
	err = o.settle(key, err, false)

	o.mu.Lock()
	if err != nil {
		o.engine.ApplyReanalyzeFailed(clauseID, err)
		o.mu.Unlock()
		o.changed()
		return datatypes.Clause{}, err
	}
	if res.Clause.ClauseID == "" {
		res.Clause.ClauseID = clauseID
	}
	o.engine.ApplyReanalyzed(res.Clause)
	o.steps.AdoptSession(res.Session)
	clause, _, _ := o.engine.Find(clauseID)
	o.mu.Unlock()
	o.changed()
	return clause, nil
}

// Next advances the cursor of a clause collection.
func (o *Orchestrator) Next(kind datatypes.ClauseKind) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	o.mu.Lock()
	err := o.engine.Next(kind)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	o.changed()
	return nil
}

// Prev moves the cursor of a clause collection back.
func (o *Orchestrator) Prev(kind datatypes.ClauseKind) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	o.mu.Lock()
	o.engine.Prev(kind)
	o.mu.Unlock()
	o.changed()
	return nil
}

func checkKind(kind datatypes.ClauseKind) error {
	switch kind {
	case datatypes.KindMandatory, datatypes.KindOptional, datatypes.KindCustom:
		return nil
	}
	return datatypes.NewValidationError("move_cursor", "unknown clause collection %q", kind)
}

// =============================================================================
// Step 4
// =============================================================================

// GenerateOptional drafts the template's optional clauses.
func (o *Orchestrator) GenerateOptional(ctx context.Context) ([]datatypes.Clause, error) {
	const action = discipline.ActionGenerateOptional
	o.mu.Lock()
	err := o.checkLive(action)
	if err == nil {
		err = o.requireStep(action, datatypes.StepOptional)
	}
	sessionID, templateID := o.steps.sessionID, o.steps.step2.SelectedTemplateID
	o.mu.Unlock()
	if err != nil {
		return nil, o.fail(action, err)
	}

	res, err := callGateway(ctx, o, action, false, func(ctx context.Context) (*datatypes.ClausesResult, error) {
		return o.deps.Gateway.GenerateOptionalClauses(ctx, sessionID, templateID)
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.engine.Load(datatypes.KindOptional, res.Clauses, 0)
	o.steps.step4.OptionalGenerated = true
	o.steps.AdoptSession(res.Session)
	clauses := o.engine.Clauses(datatypes.KindOptional)
	o.mu.Unlock()
	o.changed()
	return clauses, nil
}

// GenerateCustom drafts clauses the user described.
func (o *Orchestrator) GenerateCustom(ctx context.Context, specs []datatypes.CustomClauseSpec) ([]datatypes.Clause, error) {
	const action = discipline.ActionGenerateCustom
	o.mu.Lock()
	err := o.checkLive(action)
	if err == nil {
		err = o.requireStep(action, datatypes.StepOptional)
	}
	sessionID := o.steps.sessionID
	o.mu.Unlock()
	if err == nil {
		if verr := datatypes.Validate(datatypes.CustomClausesRequest{Specs: specs}); verr != nil {
			err = datatypes.NewValidationError(action, "each custom clause needs a title and a description")
		}
	}
	if err != nil {
		return nil, o.fail(action, err)
	}

	res, err := callGateway(ctx, o, action, false, func(ctx context.Context) (*datatypes.ClausesResult, error) {
		return o.deps.Gateway.GenerateCustomClauses(ctx, sessionID, specs)
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	var step4 datatypes.Step4Data
	found := false
	if res.Session != nil {
		found, _ = res.Session.DecodeStep(datatypes.StepOptional, &step4)
	}
	if found && len(step4.CustomClauses) > 0 {
		o.engine.Load(datatypes.KindCustom, step4.CustomClauses, o.engine.Index(datatypes.KindCustom))
	} else {
		o.engine.Append(datatypes.KindCustom, res.Clauses)
	}
	o.steps.step4.CustomSpecs = append(o.steps.step4.CustomSpecs, specs...)
	o.steps.AdoptSession(res.Session)
	o.mu.Unlock()
	o.changed()
	return res.Clauses, nil
}

// =============================================================================
// Step 5
// =============================================================================

// GeneratePreview renders the contract for review.
func (o *Orchestrator) GeneratePreview(ctx context.Context) (*datatypes.ContractPreview, error) {
	const action = discipline.ActionPreview
	o.mu.Lock()
	err := o.checkLive(action)
	if err == nil {
		err = o.requireStep(action, datatypes.StepReview)
	}
	sessionID := o.steps.sessionID
	o.mu.Unlock()
	if err != nil {
		return nil, o.fail(action, err)
	}

	res, err := callGateway(ctx, o, action, false, func(ctx context.Context) (*datatypes.PreviewResult, error) {
		return o.deps.Gateway.GeneratePreview(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	preview := res.Preview
	o.steps.step5.Preview = &preview
	o.mu.Unlock()
	o.changed()
	return &preview, nil
}

// Complete finalizes the session. The preview must exist.
func (o *Orchestrator) Complete(ctx context.Context, reviewNotes string) (*datatypes.FinalContract, error) {
	const action = discipline.ActionComplete
	o.mu.Lock()
	err := o.checkLive(action)
	if err == nil {
		_, err = o.steps.CompleteStep(datatypes.StepReview)
	}
	sessionID := o.steps.sessionID
	review := datatypes.ReviewData{
		ReviewNotes: reviewNotes,
		Party1:      o.steps.step3.Party1,
		Party2:      o.steps.step3.Party2,
	}
	o.mu.Unlock()
	if err != nil {
		return nil, o.fail(action, err)
	}

	res, err := callGateway(ctx, o, action, false, func(ctx context.Context) (*datatypes.CompleteSessionResult, error) {
		return o.deps.Gateway.CompleteSession(ctx, sessionID, review)
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	final := res.FinalContract
	o.steps.step5.ReviewNotes = reviewNotes
	o.steps.step5.FinalContract = &final
	o.steps.AdoptSession(res.Session)
	o.steps.status = datatypes.SessionCompleted
	o.steps.completionPercentage = 100
	o.mu.Unlock()
	o.logger.Info("draft completed", "session_id", sessionID, "contract_id", final.ContractID)
	o.changed()
	return &final, nil
}

// MarkAbandoned records that the server abandoned the session.
func (o *Orchestrator) MarkAbandoned() {
	o.mu.Lock()
	if o.steps.status != datatypes.SessionCompleted {
		o.steps.status = datatypes.SessionAbandoned
	}
	o.mu.Unlock()
	o.changed()
}

// =============================================================================
// Helpers
// =============================================================================

// callGateway runs fn under the busy key and records the outcome as a
// notice.
func callGateway[T any](ctx context.Context, o *Orchestrator, key string, idempotent bool, fn func(context.Context) (T, error)) (T, error) {
	v, err := discipline.Guard(o.busy, key, func() (T, error) {
		return fn(ctx)
	})
	return v, o.settle(key, err, idempotent)
}

// holdClause takes a clause's busy key for a whole action, from the local
// checks to applying the confirmed result.
func (o *Orchestrator) holdClause(key string) (release func(), err error) {
	release, err = o.busy.Acquire(key)
	if err != nil {
		return nil, o.fail(key, err)
	}
	return release, nil
}

// settle records the outcome of a gateway call as a notice.
func (o *Orchestrator) settle(key string, err error, idempotent bool) error {
	if err != nil {
		o.notices.Post(key, err, idempotent)
		return err
	}
	o.notices.Clear(key)
	return nil
}

func (o *Orchestrator) fail(action string, err error) error {
	o.notices.Post(action, err, false)
	return err
}

func (o *Orchestrator) checkLive(op string) error {
	if !o.steps.Terminal(o.deps.Now()) {
		return nil
	}
	if o.steps.status == datatypes.SessionCompleted {
		return datatypes.NewValidationError(op, "the contract is already completed")
	}
	return datatypes.NewValidationError(op, "the session has expired; start a new draft")
}

func (o *Orchestrator) requireStep(op string, step int) error {
	if o.steps.current != step {
		return datatypes.NewValidationError(op, "this action belongs to step %d (%s); the draft is on step %d",
			step, datatypes.StepName(step), o.steps.current)
	}
	return nil
}

func (o *Orchestrator) requireSession(op string) error {
	if !o.steps.HasServerSession() {
		return datatypes.NewValidationError(op, "select a template first")
	}
	return nil
}

// checkClauseAction verifies the session is live and the clause belongs to
// the current step.
func (o *Orchestrator) checkClauseAction(op, clauseID string) error {
	if err := o.checkLive(op); err != nil {
		return err
	}
	_, kind, ok := o.engine.Find(clauseID)
	if !ok {
		return datatypes.NewNotFoundError(op, "clause not found")
	}
	if kind == datatypes.KindMandatory {
		return o.requireStep(op, datatypes.StepMandatory)
	}
	return o.requireStep(op, datatypes.StepOptional)
}

func (o *Orchestrator) ensureParty1(ctx context.Context) {
	if o.steps.step3.Party1 != nil {
		return
	}
	if info, ok := extensions.AuthInfoFromContext(ctx); ok {
		o.steps.step3.Party1 = datatypes.PartyFromAuth(info)
	}
}

func (o *Orchestrator) sessionIDChanged(sessionID string) {
	o.logger.Info("server session adopted", "session_id", sessionID)
	if o.deps.OnSessionID != nil {
		o.deps.OnSessionID(o.handle, sessionID)
	}
}

func (o *Orchestrator) changed() {
	if o.deps.OnChange == nil {
		return
	}
	o.deps.OnChange(o.Snapshot())
}
