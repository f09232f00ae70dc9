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
	"maps"
	"time"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// =============================================================================
// View
// =============================================================================

// ClauseList is one clause collection as the user sees it.
type ClauseList struct {
	Clauses []datatypes.Clause `json:"clauses"`
	Index   int                `json:"index"`
	// Drafts holds the working text of clauses being edited.
	Drafts map[string]string `json:"drafts,omitempty"`
}

// View is a read-only picture of a draft.
type View struct {
	Handle               string                  `json:"handle"`
	SessionID            string                  `json:"session_id"`
	HasSession           bool                    `json:"has_session"`
	Step                 int                     `json:"current_step"`
	StepName             string                  `json:"step_name"`
	TotalSteps           int                     `json:"total_steps"`
	Status               datatypes.SessionStatus `json:"session_status"`
	Terminal             bool                    `json:"terminal"`
	CompletionPercentage float64                 `json:"completion_percentage"`
	ExpiresAt            time.Time               `json:"expires_at,omitempty"`

	CanAdvance bool   `json:"can_advance"`
	Blocker    string `json:"blocker,omitempty"`

	Prompt             string                         `json:"prompt,omitempty"`
	Analysis           *datatypes.AnalysisResult      `json:"analysis,omitempty"`
	Templates          []datatypes.TemplateSuggestion `json:"templates"`
	TemplatesDegraded  bool                           `json:"templates_degraded"`
	ShowAllTemplates   bool                           `json:"show_all_templates"`
	SelectedTemplateID string                         `json:"selected_template_id,omitempty"`

	Explanation      string               `json:"explanation,omitempty"`
	ExplanationWords int                  `json:"explanation_words"`
	ExplanationReady bool                 `json:"explanation_ready"`
	Fields           map[string]string    `json:"mandatory_fields,omitempty"`
	Party1           *datatypes.PartyInfo `json:"party1,omitempty"`
	Party2           *datatypes.PartyInfo `json:"party2,omitempty"`

	Mandatory      ClauseList `json:"mandatory"`
	Optional       ClauseList `json:"optional"`
	Custom         ClauseList `json:"custom"`
	Step3Completed bool       `json:"step3_completed"`

	Preview       *datatypes.ContractPreview `json:"preview,omitempty"`
	FinalContract *datatypes.FinalContract   `json:"final_contract,omitempty"`

	Notices  []Notice `json:"notices"`
	InFlight []string `json:"in_flight"`
}

// View returns the draft's current state.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()

	c := o.steps
	canAdvance, blocker := c.CanComplete(c.current)
	templates, degraded := o.templatesLocked()
	words := datatypes.CountWords(c.step3.Explanation)

	return View{
		Handle:               o.handle,
		SessionID:            c.sessionID,
		HasSession:           c.HasServerSession(),
		Step:                 c.current,
		StepName:             datatypes.StepName(c.current),
		TotalSteps:           datatypes.TotalSteps,
		Status:               c.status,
		Terminal:             c.Terminal(o.deps.Now()),
		CompletionPercentage: c.completionPercentage,
		ExpiresAt:            c.expiresAt,
		CanAdvance:           canAdvance,
		Blocker:              blocker,
		Prompt:               c.step1.Prompt,
		Analysis:             c.step1.Analysis,
		Templates:            templates,
		TemplatesDegraded:    degraded,
		ShowAllTemplates:     c.step2.ShowAllTemplates,
		SelectedTemplateID:   c.step2.SelectedTemplateID,
		Explanation:          c.step3.Explanation,
		ExplanationWords:     words,
		ExplanationReady:     words >= datatypes.MinExplanationWords,
		Fields:               maps.Clone(c.step3.MandatoryFields),
		Party1:               c.step3.Party1,
		Party2:               c.step3.Party2,
		Mandatory:            o.clauseList(datatypes.KindMandatory),
		Optional:             o.clauseList(datatypes.KindOptional),
		Custom:               o.clauseList(datatypes.KindCustom),
		Step3Completed:       o.engine.MandatoryComplete(),
		Preview:              c.step5.Preview,
		FinalContract:        c.step5.FinalContract,
		Notices:              o.notices.Active(),
		InFlight:             o.busy.Keys(),
	}
}

func (o *Orchestrator) clauseList(kind datatypes.ClauseKind) ClauseList {
	list := ClauseList{
		Clauses: o.engine.Clauses(kind),
		Index:   o.engine.Index(kind),
	}
	for _, cl := range list.Clauses {
		if draft, ok := o.engine.Draft(cl.ClauseID); ok {
			if list.Drafts == nil {
				list.Drafts = make(map[string]string)
			}
			list.Drafts[cl.ClauseID] = draft
		}
	}
	return list
}

// Notices returns the active error notices.
func (o *Orchestrator) Notices() []Notice {
	return o.notices.Active()
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is the persisted form of a draft. Session carries everything
// the server would store; Engine adds the local edit overlays.
type Snapshot struct {
	Handle  string             `json:"handle"`
	Session *datatypes.Session `json:"session"`
	Engine  engineSnapshot     `json:"engine"`
	SavedAt time.Time          `json:"saved_at"`
}

// Snapshot captures the draft for persistence.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		Handle:  o.handle,
		Session: o.steps.Export(),
		Engine:  o.engine.snapshot(),
		SavedAt: o.deps.Now().UTC(),
	}
}

// Restore rebuilds a draft from a snapshot without contacting the gateway.
// A draft with a server session is marked stale until Resync or Load reads
// the session again.
func Restore(snap Snapshot, deps Deps) (*Orchestrator, error) {
	o, err := New(snap.Handle, deps)
	if err != nil {
		return nil, err
	}
	o.steps.Resume(snap.Session)
	o.engine.restore(snap.Engine)
	o.stale = o.steps.HasServerSession()
	return o, nil
}
