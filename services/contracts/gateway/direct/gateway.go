// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package direct implements the generation backend in process.
//
// # Description
//
// Gateway drafts clauses with an LLM (or template boilerplate when no model
// is configured), keeps sessions in a SessionRepository and answers with the
// same shapes the remote generation API does. It backs both the workflow's
// local mode and the generation API served by "contracts serve --mode=gateway".
package direct

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
	"github.com/AleutianAI/AleutianContracts/services/contracts/gateway"
	"github.com/AleutianAI/AleutianContracts/services/llm"
)

const (
	// DefaultSessionTTL is how long an idle session stays live.
	DefaultSessionTTL = 24 * time.Hour

	// DefaultDraftParallelism bounds concurrent clause drafts per request.
	DefaultDraftParallelism = 4

	sessionLockStripes = 64
)

// SessionRepository persists sessions.
type SessionRepository interface {
	gateway.SessionStore
	SaveSession(ctx context.Context, s *datatypes.Session) error
}

// Deps are the collaborators of Gateway. Catalog and Sessions are required.
type Deps struct {
	Catalog    *Catalog
	Sessions   SessionRepository
	Parties    gateway.PartyDirectory
	LLM        llm.LLMClient
	References ReferenceFinder
	Audit      extensions.AuditLogger
	Logger     *slog.Logger

	// SessionTTL extends expires_at on every mutation. Default DefaultSessionTTL.
	SessionTTL time.Duration

	// Parallelism bounds concurrent drafts. Default DefaultDraftParallelism.
	Parallelism int

	// Now is the clock. Default time.Now.
	Now func() time.Time
}

// Gateway is the in-process generation backend.
//
// # Thread Safety
//
// Safe for concurrent use. Mutations of one session are serialized by a
// striped lock held only around load-modify-save; drafting runs unlocked.
type Gateway struct {
	catalog     atomic.Pointer[Catalog]
	sessions    SessionRepository
	parties     gateway.PartyDirectory
	refs        ReferenceFinder
	audit       extensions.AuditLogger
	logger      *slog.Logger
	drafter     *drafter
	ttl         time.Duration
	parallelism int
	now         func() time.Time

	locks [sessionLockStripes]sync.Mutex
}

var _ gateway.Backend = (*Gateway)(nil)

// New validates deps and returns a Gateway.
func New(deps Deps) (*Gateway, error) {
	if deps.Catalog == nil {
		return nil, fmt.Errorf("direct gateway: catalog is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("direct gateway: session repository is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Audit == nil {
		deps.Audit = &extensions.NopAuditLogger{}
	}
	if deps.SessionTTL <= 0 {
		deps.SessionTTL = DefaultSessionTTL
	}
	if deps.Parallelism <= 0 {
		deps.Parallelism = DefaultDraftParallelism
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger.With("component", "direct_gateway")
	g := &Gateway{
		sessions:    deps.Sessions,
		parties:     deps.Parties,
		refs:        deps.References,
		audit:       deps.Audit,
		logger:      logger,
		drafter:     &drafter{client: deps.LLM, logger: logger},
		ttl:         deps.SessionTTL,
		parallelism: deps.Parallelism,
		now:         deps.Now,
	}
	g.catalog.Store(deps.Catalog)
	return g, nil
}

// ReloadCatalog swaps in a new template catalog. Templates that next no
// longer defines stay resolvable by id for sessions that already use them,
// but are no longer suggested.
func (g *Gateway) ReloadCatalog(next *Catalog) {
	for {
		prev := g.catalog.Load()
		if g.catalog.CompareAndSwap(prev, next.retaining(prev)) {
			return
		}
	}
}

// =============================================================================
// Analysis and session creation
// =============================================================================

// AnalyzePrompt matches the prompt against the template catalog.
func (g *Gateway) AnalyzePrompt(_ context.Context, prompt string) (*datatypes.AnalysisResult, error) {
	if !datatypes.PromptLongEnough(prompt) {
		return nil, datatypes.NewValidationError("analyze_prompt",
			"describe the contract in at least %d characters", datatypes.MinPromptChars)
	}
	suggestions, keywords := g.catalog.Load().Match(prompt)
	result := &datatypes.AnalysisResult{
		CanHandle:          len(suggestions) > 0,
		SuggestedTemplates: suggestions,
		Keywords:           keywords,
	}
	if len(suggestions) == 0 {
		result.SuggestedTemplates = []datatypes.TemplateSuggestion{}
		result.Reasoning = "No template matches this request. Name the kind of contract you need, for example an NDA or a services agreement."
		return result, nil
	}
	top := suggestions[0]
	result.ContractType = top.ContractType
	result.Reasoning = fmt.Sprintf("The request reads as a %s (matched: %s).",
		top.Name, strings.Join(keywords, ", "))
	return result, nil
}

// CreateSession mints a session for templateID at step 2.
func (g *Gateway) CreateSession(ctx context.Context, templateID, prompt string, analysis *datatypes.AnalysisResult) (*datatypes.Session, error) {
	const op = "create_session"
	tmpl, ok := g.catalog.Load().Get(templateID)
	if !ok {
		return nil, datatypes.NewNotFoundError(op, fmt.Sprintf("template %q not found", templateID))
	}

	now := g.now().UTC()
	s := &datatypes.Session{
		SessionID:          uuid.NewString(),
		CurrentStep:        datatypes.StepTemplate,
		TotalSteps:         datatypes.TotalSteps,
		Status:             datatypes.SessionActive,
		SelectedTemplateID: tmpl.ID,
		ContractType:       tmpl.ContractType,
		CreatedAt:          now,
		UpdatedAt:          now,
		LastActivityAt:     now,
		ExpiresAt:          now.Add(g.ttl),
	}
	if info, ok := extensions.AuthInfoFromContext(ctx); ok {
		s.OwnerID = info.UserID
	}
	if err := s.PutStep(datatypes.StepPrompt, datatypes.Step1Data{Prompt: prompt, Analysis: analysis}); err != nil {
		return nil, err
	}
	if err := s.PutStep(datatypes.StepTemplate, datatypes.Step2Data{SelectedTemplateID: tmpl.ID, SessionCreated: true}); err != nil {
		return nil, err
	}
	s.CompletionPercentage = completionPercentage(s)

	if err := g.sessions.SaveSession(ctx, s); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	g.logger.Info("session created", "session_id", s.SessionID, "template_id", tmpl.ID)
	g.auditEvent(ctx, extensions.AuditSessionCreated, "create", "session", s.SessionID, s.SessionID, nil)
	return s.Clone(), nil
}

// GetSession returns the session if the caller may see it.
func (g *Gateway) GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	return g.load(ctx, "get_session", sessionID)
}

// LookupParty delegates to the configured party directory.
func (g *Gateway) LookupParty(ctx context.Context, externalID string) (*datatypes.PartyInfo, error) {
	if g.parties == nil {
		return nil, datatypes.NewNotFoundError("lookup_party", "party directory not configured")
	}
	return g.parties.LookupParty(ctx, externalID)
}

// =============================================================================
// Clause generation
// =============================================================================

// GenerateMandatoryClauses drafts every mandatory clause of the template.
//
// # Description
//
// The explanation must reach datatypes.MinExplanationWords. Missing template
// fields are rendered as [field] placeholders. Regenerating keeps the clause
// id of any clause whose title is unchanged.
func (g *Gateway) GenerateMandatoryClauses(ctx context.Context, sessionID, explanation string, fields map[string]string, templateID string) (*datatypes.ClausesResult, error) {
	const op = "generate_mandatory"
	if n := datatypes.CountWords(explanation); n < datatypes.MinExplanationWords {
		return nil, datatypes.NewValidationError(op,
			"explanation has %d words, at least %d are required", n, datatypes.MinExplanationWords)
	}
	current, err := g.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	tmpl, err := g.templateFor(op, current, templateID)
	if err != nil {
		return nil, err
	}

	var step3 datatypes.Step3Data
	if _, err := current.DecodeStep(datatypes.StepMandatory, &step3); err != nil {
		g.logger.Warn("discarding unreadable step data", "session_id", sessionID, "step", 3, "error", err)
	}
	party1 := step3.Party1
	if party1 == nil {
		if info, ok := extensions.AuthInfoFromContext(ctx); ok {
			party1 = datatypes.PartyFromAuth(info)
		}
	}
	party2 := step3.Party2
	if party2 == nil && strings.TrimSpace(fields["party2"]) != "" {
		party2 = &datatypes.PartyInfo{Name: strings.TrimSpace(fields["party2"]), PartyType: datatypes.PartyIndividual}
	}
	vars := g.clauseVars(fields, party1, party2)

	clauses, err := g.draftAll(ctx, op, tmpl, tmpl.MandatoryClauses, datatypes.KindMandatory, explanation, vars)
	if err != nil {
		return nil, err
	}

	updated, err := g.update(ctx, op, sessionID, func(s *datatypes.Session) error {
		var prev datatypes.Step3Data
		_, _ = s.DecodeStep(datatypes.StepMandatory, &prev)
		clauses = keepClauseIDs(prev.Clauses, clauses)
		next := datatypes.Step3Data{
			Explanation:     explanation,
			MandatoryFields: fields,
			Party1:          party1,
			Party2:          party2,
			Clauses:         clauses,
		}
		s.CurrentStep = max(s.CurrentStep, datatypes.StepMandatory)
		return s.PutStep(datatypes.StepMandatory, next)
	})
	if err != nil {
		return nil, err
	}
	return &datatypes.ClausesResult{Clauses: clauses, Session: updated}, nil
}

// GenerateOptionalClauses drafts the template's optional clauses.
func (g *Gateway) GenerateOptionalClauses(ctx context.Context, sessionID, templateID string) (*datatypes.ClausesResult, error) {
	const op = "generate_optional"
	current, err := g.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	tmpl, err := g.templateFor(op, current, templateID)
	if err != nil {
		return nil, err
	}
	var step3 datatypes.Step3Data
	if found, _ := current.DecodeStep(datatypes.StepMandatory, &step3); !found || len(step3.Clauses) == 0 {
		return nil, datatypes.NewValidationError(op, "generate the mandatory clauses first")
	}
	vars := g.clauseVars(step3.MandatoryFields, step3.Party1, step3.Party2)

	clauses, err := g.draftAll(ctx, op, tmpl, tmpl.OptionalClauses, datatypes.KindOptional, step3.Explanation, vars)
	if err != nil {
		return nil, err
	}

	updated, err := g.update(ctx, op, sessionID, func(s *datatypes.Session) error {
		var step4 datatypes.Step4Data
		_, _ = s.DecodeStep(datatypes.StepOptional, &step4)
		clauses = keepClauseIDs(step4.OptionalClauses, clauses)
		step4.OptionalClauses = clauses
		step4.OptionalClauseIndex = 0
		step4.OptionalGenerated = true
		s.CurrentStep = max(s.CurrentStep, datatypes.StepOptional)
		return s.PutStep(datatypes.StepOptional, step4)
	})
	if err != nil {
		return nil, err
	}
	return &datatypes.ClausesResult{Clauses: clauses, Session: updated}, nil
}

// GenerateCustomClauses drafts user-described clauses and appends them to
// the session's custom collection.
func (g *Gateway) GenerateCustomClauses(ctx context.Context, sessionID string, specs []datatypes.CustomClauseSpec) (*datatypes.ClausesResult, error) {
	const op = "generate_custom"
	if err := datatypes.Validate(datatypes.GenerateCustomRequest{Specs: specs}); err != nil {
		return nil, datatypes.NewValidationError(op, "invalid custom clause: %v", err)
	}
	current, err := g.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	tmpl, err := g.templateFor(op, current, "")
	if err != nil {
		return nil, err
	}
	var step3 datatypes.Step3Data
	_, _ = current.DecodeStep(datatypes.StepMandatory, &step3)
	vars := g.clauseVars(step3.MandatoryFields, step3.Party1, step3.Party2)

	clauses := make([]datatypes.Clause, len(specs))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.parallelism)
	for i, spec := range specs {
		group.Go(func() error {
			c, err := g.draftClause(gctx, op, tmpl, datatypes.KindCustom, draftRequest{
				ContractName: tmpl.Name,
				Title:        spec.Title,
				Instructions: fillPlaceholders(spec.Description, vars, tmpl.Fields),
				Explanation:  step3.Explanation,
			}, nil)
			if err != nil {
				return err
			}
			clauses[i] = c
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	updated, err := g.update(ctx, op, sessionID, func(s *datatypes.Session) error {
		var step4 datatypes.Step4Data
		_, _ = s.DecodeStep(datatypes.StepOptional, &step4)
		for i := range clauses {
			clauses[i].Position = len(step4.CustomClauses) + i
		}
		step4.CustomClauses = append(step4.CustomClauses, clauses...)
		step4.CustomSpecs = append(step4.CustomSpecs, specs...)
		s.CurrentStep = max(s.CurrentStep, datatypes.StepOptional)
		return s.PutStep(datatypes.StepOptional, step4)
	})
	if err != nil {
		return nil, err
	}
	return &datatypes.ClausesResult{Clauses: clauses, Session: updated}, nil
}

func (g *Gateway) draftAll(ctx context.Context, op string, tmpl *Template, templates []ClauseTemplate, kind datatypes.ClauseKind, explanation string, vars map[string]string) ([]datatypes.Clause, error) {
	clauses := make([]datatypes.Clause, len(templates))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.parallelism)
	for i, ct := range templates {
		group.Go(func() error {
			c, err := g.draftClause(gctx, op, tmpl, kind, draftRequest{
				ContractName: tmpl.Name,
				Title:        ct.Title,
				Boilerplate:  fillPlaceholders(ct.Body, vars, tmpl.Fields),
				Explanation:  explanation,
			}, ct.References)
			if err != nil {
				return err
			}
			c.Position = i
			clauses[i] = c
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return clauses, nil
}

func (g *Gateway) draftClause(ctx context.Context, op string, tmpl *Template, kind datatypes.ClauseKind, req draftRequest, refs []string) (datatypes.Clause, error) {
	result, err := g.drafter.draft(ctx, op, req)
	if err != nil {
		return datatypes.Clause{}, err
	}
	return datatypes.Clause{
		ClauseID:           uuid.NewString(),
		Title:              req.Title,
		Content:            result.Content,
		AIGeneratedContent: result.Content,
		Status:             datatypes.ClauseAIGenerated,
		IsMandatory:        kind == datatypes.KindMandatory,
		Kind:               kind,
		ConfidenceScore:    result.Confidence,
		RiskAssessment:     result.RiskAssessment,
		LegalReferences:    attachReferences(ctx, g.refs, req.Title, result.Content, refs),
	}, nil
}

// keepClauseIDs carries clause ids over from prev to next where titles match.
func keepClauseIDs(prev, next []datatypes.Clause) []datatypes.Clause {
	ids := make(map[string]string, len(prev))
	for _, c := range prev {
		ids[c.Title] = c.ClauseID
	}
	for i := range next {
		if id, ok := ids[next[i].Title]; ok {
			next[i].ClauseID = id
			delete(ids, next[i].Title)
		}
	}
	return next
}

// =============================================================================
// Clause decisions
// =============================================================================

// ApproveClause approves or rejects one clause.
//
// # Description
//
// Rejecting a mandatory clause is a conflict and changes nothing. Approving
// with modifications replaces the clause content. The result always carries
// step3_completed, true once every mandatory clause is approved.
func (g *Gateway) ApproveClause(ctx context.Context, sessionID, clauseID string, approved bool, modifications string) (*datatypes.ApproveClauseResult, error) {
	const op = "approve_clause"
	var out datatypes.Clause
	var step3Completed bool

	updated, err := g.update(ctx, op, sessionID, func(s *datatypes.Session) error {
		return g.withClause(op, s, clauseID, func(c *datatypes.Clause) error {
			if !approved {
				if c.EffectiveKind() == datatypes.KindMandatory {
					return datatypes.NewConflictError(op,
						"mandatory clauses cannot be rejected; edit the clause and reanalyze it instead")
				}
				c.Status = datatypes.ClauseRejected
				out = *c
				return nil
			}
			if c.Status == datatypes.ClauseRejected {
				return datatypes.NewConflictError(op, "the clause was rejected")
			}
			if modifications != "" {
				c.Content = modifications
				c.UserModifications = modifications
			}
			c.Status = datatypes.ClauseApproved
			out = *c
			return nil
		}, func(step3 *datatypes.Step3Data) {
			step3Completed = step3.Step3Completed
		})
	})
	if err != nil {
		return nil, err
	}

	eventType, action := extensions.AuditClauseApproved, "approve"
	if !approved {
		eventType, action = extensions.AuditClauseRejected, "reject"
	}
	g.auditEvent(ctx, eventType, action, "clause", out.ClauseID, sessionID, map[string]any{"title": out.Title})
	return &datatypes.ApproveClauseResult{Clause: out, Session: updated, Step3Completed: &step3Completed}, nil
}

// ReanalyzeClause redrafts one clause incorporating modifications. A failed
// draft leaves the stored clause untouched.
func (g *Gateway) ReanalyzeClause(ctx context.Context, sessionID, clauseID, modifications string) (*datatypes.ReanalyzeClauseResult, error) {
	const op = "reanalyze_clause"
	if strings.TrimSpace(modifications) == "" {
		return nil, datatypes.NewValidationError(op, "modifications are required")
	}
	current, err := g.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	tmpl, err := g.templateFor(op, current, "")
	if err != nil {
		return nil, err
	}
	var original datatypes.Clause
	if err := g.withClause(op, current, clauseID, func(c *datatypes.Clause) error {
		if c.Status == datatypes.ClauseRejected {
			return datatypes.NewConflictError(op, "a rejected clause cannot be reanalyzed")
		}
		original = *c
		return nil
	}, nil); err != nil {
		return nil, err
	}
	var step3 datatypes.Step3Data
	_, _ = current.DecodeStep(datatypes.StepMandatory, &step3)

	result, err := g.drafter.draft(ctx, op, draftRequest{
		ContractName:  tmpl.Name,
		Title:         original.Title,
		Explanation:   step3.Explanation,
		Previous:      original.Content,
		Modifications: modifications,
	})
	if err != nil {
		return nil, err
	}
	refs := attachReferences(ctx, g.refs, original.Title, result.Content, original.LegalReferences)

	var out datatypes.Clause
	updated, err := g.update(ctx, op, sessionID, func(s *datatypes.Session) error {
		return g.withClause(op, s, clauseID, func(c *datatypes.Clause) error {
			if c.Status == datatypes.ClauseRejected {
				return datatypes.NewConflictError(op, "a rejected clause cannot be reanalyzed")
			}
			c.Content = result.Content
			c.AIGeneratedContent = result.Content
			c.UserModifications = modifications
			c.Status = datatypes.ClauseRegenerated
			c.ConfidenceScore = result.Confidence
			c.RiskAssessment = result.RiskAssessment
			c.LegalReferences = refs
			out = *c
			return nil
		}, nil)
	})
	if err != nil {
		return nil, err
	}
	g.auditEvent(ctx, extensions.AuditClauseReanalyzed, "reanalyze", "clause", clauseID, sessionID, map[string]any{"title": out.Title})
	return &datatypes.ReanalyzeClauseResult{Clause: out, Session: updated}, nil
}

// withClause finds clauseID in any collection of s, applies fn, and writes
// the collection back. after, when set, sees the recomputed step 3 data.
func (g *Gateway) withClause(op string, s *datatypes.Session, clauseID string, fn func(*datatypes.Clause) error, after func(*datatypes.Step3Data)) error {
	var step3 datatypes.Step3Data
	if _, err := s.DecodeStep(datatypes.StepMandatory, &step3); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	var step4 datatypes.Step4Data
	if _, err := s.DecodeStep(datatypes.StepOptional, &step4); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for _, coll := range []struct {
		clauses []datatypes.Clause
		step    int
	}{
		{step3.Clauses, datatypes.StepMandatory},
		{step4.OptionalClauses, datatypes.StepOptional},
		{step4.CustomClauses, datatypes.StepOptional},
	} {
		for i := range coll.clauses {
			if coll.clauses[i].ClauseID != clauseID {
				continue
			}
			if err := fn(&coll.clauses[i]); err != nil {
				return err
			}
			if coll.step == datatypes.StepOptional {
				if after != nil {
					after(&step3)
				}
				return s.PutStep(datatypes.StepOptional, step4)
			}
			step3.Step3Completed = allApproved(step3.Clauses)
			if after != nil {
				after(&step3)
			}
			return s.PutStep(datatypes.StepMandatory, step3)
		}
	}
	return datatypes.NewNotFoundError(op, "clause not found")
}

func allApproved(clauses []datatypes.Clause) bool {
	if len(clauses) == 0 {
		return false
	}
	for _, c := range clauses {
		if c.Status != datatypes.ClauseApproved {
			return false
		}
	}
	return true
}

// =============================================================================
// Session plumbing
// =============================================================================

// load reads a session and checks that the caller owns it.
func (g *Gateway) load(ctx context.Context, op, sessionID string) (*datatypes.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, datatypes.NewValidationError(op, "session id is required")
	}
	s, err := g.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if info, ok := extensions.AuthInfoFromContext(ctx); ok && s.OwnerID != "" && s.OwnerID != info.UserID {
		return nil, datatypes.NewNotFoundError(op, "session not found")
	}
	return s, nil
}

// update applies fn to a freshly loaded session under the session's lock,
// refreshes activity timestamps and completion, and saves it.
func (g *Gateway) update(ctx context.Context, op, sessionID string, fn func(*datatypes.Session) error) (*datatypes.Session, error) {
	mu := g.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	s, err := g.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	now := g.now().UTC()
	switch {
	case s.Status == datatypes.SessionCompleted:
		return nil, datatypes.NewConflictError(op, "the session is already completed")
	case s.Status == datatypes.SessionAbandoned || s.IsExpired(now):
		return nil, datatypes.NewConflictError(op, "the session has expired")
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	s.UpdatedAt = now
	s.LastActivityAt = now
	if s.Status != datatypes.SessionCompleted {
		s.ExpiresAt = now.Add(g.ttl)
	}
	s.CompletionPercentage = completionPercentage(s)
	if err := g.sessions.SaveSession(ctx, s); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.Clone(), nil
}

func (g *Gateway) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &g.locks[h.Sum32()%sessionLockStripes]
}

// templateFor resolves the template a request refers to. An explicit id
// must match the session's selection.
func (g *Gateway) templateFor(op string, s *datatypes.Session, templateID string) (*Template, error) {
	if templateID != "" && s.SelectedTemplateID != "" && templateID != s.SelectedTemplateID {
		return nil, datatypes.NewValidationError(op,
			"template %q does not match the session's template %q", templateID, s.SelectedTemplateID)
	}
	id := s.SelectedTemplateID
	if id == "" {
		id = templateID
	}
	tmpl, ok := g.catalog.Load().Get(id)
	if !ok {
		return nil, datatypes.NewNotFoundError(op, fmt.Sprintf("template %q not found", id))
	}
	return tmpl, nil
}

func (g *Gateway) clauseVars(fields map[string]string, party1, party2 *datatypes.PartyInfo) map[string]string {
	vars := make(map[string]string, len(fields)+3)
	for k, v := range fields {
		vars[k] = v
	}
	if party1 != nil && party1.Name != "" {
		vars["party1"] = party1.Name
	} else if vars["party1"] == "" {
		vars["party1"] = "Party 1"
	}
	if party2 != nil && party2.Name != "" {
		vars["party2"] = party2.Name
	} else if vars["party2"] == "" {
		vars["party2"] = "Party 2"
	}
	if vars["effective_date"] == "" {
		vars["effective_date"] = g.now().UTC().Format("January 2, 2006")
	}
	return vars
}

func (g *Gateway) auditEvent(ctx context.Context, eventType, action, resourceType, resourceID, sessionID string, meta map[string]any) {
	userID := "anonymous"
	if info, ok := extensions.AuthInfoFromContext(ctx); ok {
		userID = info.UserID
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["session_id"] = sessionID
	err := g.audit.Log(ctx, extensions.AuditEvent{
		EventType:    eventType,
		Timestamp:    g.now().UTC(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      "success",
		Metadata:     meta,
	})
	if err != nil {
		g.logger.Warn("audit log failed", "event_type", eventType, "error", err)
	}
}

// completionPercentage weights each step equally. Steps 3 and 4 earn
// partial credit per decided clause.
func completionPercentage(s *datatypes.Session) float64 {
	if s.Status == datatypes.SessionCompleted {
		return 100
	}
	per := 100.0 / datatypes.TotalSteps
	done := float64(max(s.CurrentStep, 1)-1) * per

	switch s.CurrentStep {
	case datatypes.StepMandatory:
		var step3 datatypes.Step3Data
		if _, err := s.DecodeStep(datatypes.StepMandatory, &step3); err == nil && len(step3.Clauses) > 0 {
			approved := 0
			for _, c := range step3.Clauses {
				if c.Status == datatypes.ClauseApproved {
					approved++
				}
			}
			done += per * float64(approved) / float64(len(step3.Clauses))
		}
	case datatypes.StepOptional:
		var step4 datatypes.Step4Data
		if _, err := s.DecodeStep(datatypes.StepOptional, &step4); err == nil {
			all := append(append([]datatypes.Clause{}, step4.OptionalClauses...), step4.CustomClauses...)
			if len(all) > 0 {
				decided := 0
				for _, c := range all {
					if c.Status.IsTerminal() {
						decided++
					}
				}
				done += per * float64(decided) / float64(len(all))
			}
		}
	}
	return math.Round(done*10) / 10
}
