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
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// StepRecorder receives step transitions.
type StepRecorder interface {
	RecordStepTransition(from, to int)
}

// Anomaly is a problem found while resuming a session. Anomalies are
// logged and never fatal.
type Anomaly struct {
	Step   int    `json:"step"`
	Reason string `json:"reason"`
}

// StepController owns the five-step position and the per-step data of one
// draft.
//
// # Description
//
// A step can only be completed from the current step and only when its
// predicate holds. The predicate is checked every time, whatever a caller
// believes about the state. Going back never contacts the gateway. Resume
// takes the server's step unconditionally.
//
// # Thread Safety
//
// Not safe for concurrent use. The orchestrator serializes access.
type StepController struct {
	sessionID            string
	current              int
	status               datatypes.SessionStatus
	templateID           string
	contractType         string
	ownerID              string
	completionPercentage float64
	createdAt            time.Time
	expiresAt            time.Time

	step1 datatypes.Step1Data
	step2 datatypes.Step2Data
	step3 datatypes.Step3Data
	step4 datatypes.Step4Data
	step5 datatypes.Step5Data

	engine   *ClauseEngine
	recorder StepRecorder
	logger   *slog.Logger
}

// NewStepController starts a fresh draft at step 1 under a placeholder id.
func NewStepController(engine *ClauseEngine, rec StepRecorder, logger *slog.Logger) *StepController {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepController{
		sessionID: datatypes.NewPlaceholderID(),
		current:   datatypes.StepPrompt,
		status:    datatypes.SessionAnalyzing,
		engine:    engine,
		recorder:  rec,
		logger:    logger,
	}
}

// Current returns the current step.
func (c *StepController) Current() int { return c.current }

// SessionID returns the server id, or the placeholder before one exists.
func (c *StepController) SessionID() string { return c.sessionID }

// HasServerSession reports whether the server has minted the session.
func (c *StepController) HasServerSession() bool {
	return !datatypes.IsPlaceholderID(c.sessionID)
}

// Status returns the session status.
func (c *StepController) Status() datatypes.SessionStatus { return c.status }

// Terminal reports whether the session accepts no further changes.
func (c *StepController) Terminal(now time.Time) bool {
	if c.status.IsTerminal() {
		return true
	}
	return !c.expiresAt.IsZero() && !now.Before(c.expiresAt)
}

// =============================================================================
// Predicates
// =============================================================================

// CanComplete reports whether step n's predicate holds, with the reason
// when it does not.
func (c *StepController) CanComplete(n int) (bool, string) {
	switch n {
	case datatypes.StepPrompt:
		if !datatypes.PromptLongEnough(c.step1.Prompt) {
			return false, "describe the contract in at least 10 characters"
		}
		if c.step1.Analysis == nil {
			return false, "analyze the request first"
		}
		if !c.step1.Analysis.CanHandle {
			return false, "this request cannot be handled; try rephrasing it"
		}
		return true, ""
	case datatypes.StepTemplate:
		if c.step2.SelectedTemplateID == "" || !c.step1.Analysis.HasTemplate(c.step2.SelectedTemplateID) {
			return false, "select a template from the list"
		}
		if !c.HasServerSession() {
			return false, "the session has not been created yet"
		}
		return true, ""
	case datatypes.StepMandatory:
		if !c.engine.MandatoryComplete() {
			return false, "approve every mandatory clause"
		}
		return true, ""
	case datatypes.StepOptional:
		if !c.engine.OptionalComplete() {
			return false, "approve or reject every optional and custom clause"
		}
		return true, ""
	case datatypes.StepReview:
		if c.step5.Preview == nil || c.step5.Preview.HTMLContent == "" {
			return false, "generate the preview first"
		}
		return true, ""
	default:
		return false, "unknown step"
	}
}

// =============================================================================
// Transitions
// =============================================================================

// CompleteStep completes step n and advances.
//
// # Outputs
//
//   - bool: True when n was the last step; the caller finalizes the session.
//   - error: Validation error when n is not the current step or its
//     predicate fails. The state is unchanged.
func (c *StepController) CompleteStep(n int) (bool, error) {
	const op = "complete_step"
	if n != c.current {
		return false, datatypes.NewValidationError(op, "step %d is not the current step (%d)", n, c.current)
	}
	if ok, reason := c.CanComplete(n); !ok {
		return false, datatypes.NewValidationError(op, "%s", reason)
	}
	if n == datatypes.StepReview {
		return true, nil
	}
	c.moveTo(n + 1)
	return false, nil
}

// GoBack moves to the previous step. At step 1 it does nothing.
func (c *StepController) GoBack() bool {
	if c.current <= datatypes.StepPrompt {
		return false
	}
	c.moveTo(c.current - 1)
	return true
}

// AdoptServerStep raises the current step to the server's. A lower server
// step is reported and ignored.
func (c *StepController) AdoptServerStep(step int) (raised bool, anomaly *Anomaly) {
	switch {
	case step > c.current && step <= datatypes.TotalSteps:
		c.moveTo(step)
		return true, nil
	case step < c.current:
		return false, &Anomaly{Step: step, Reason: "server step is behind the local step"}
	}
	return false, nil
}

func (c *StepController) moveTo(step int) {
	if step == c.current {
		return
	}
	if c.recorder != nil {
		c.recorder.RecordStepTransition(c.current, step)
	}
	c.current = step
}

// =============================================================================
// Server reconciliation
// =============================================================================

// AdoptSession swaps the placeholder for the server's id and copies the
// server's status fields. The step is left alone; the server only tracks
// generation milestones, so its step routinely trails the local one.
func (c *StepController) AdoptSession(s *datatypes.Session) (swapped bool) {
	if s == nil {
		return false
	}
	if s.SessionID != "" && !c.HasServerSession() {
		c.sessionID = s.SessionID
		swapped = true
	}
	c.adoptMeta(s)
	return swapped
}

func (c *StepController) adoptMeta(s *datatypes.Session) {
	if s.Status != "" {
		c.status = s.Status
	}
	if s.SelectedTemplateID != "" {
		c.templateID = s.SelectedTemplateID
	}
	if s.ContractType != "" {
		c.contractType = s.ContractType
	}
	if s.OwnerID != "" {
		c.ownerID = s.OwnerID
	}
	if !s.CreatedAt.IsZero() {
		c.createdAt = s.CreatedAt
	}
	c.expiresAt = s.ExpiresAt
	c.completionPercentage = s.CompletionPercentage
}

// Resume rebuilds the controller from a session snapshot.
//
// # Description
//
// The snapshot's step wins over anything cached locally. Each step's data
// is decoded from its key; a missing key yields the empty default and a
// malformed one yields the default plus an Anomaly. Clause collections are
// rebuilt from the snapshot with their cursors; local edits are dropped.
func (c *StepController) Resume(s *datatypes.Session) []Anomaly {
	var anomalies []Anomaly
	decode := func(step int, dst any) {
		if _, err := s.DecodeStep(step, dst); err != nil {
			anomalies = append(anomalies, Anomaly{Step: step, Reason: err.Error()})
		}
	}

	var (
		step1 datatypes.Step1Data
		step2 datatypes.Step2Data
		step3 datatypes.Step3Data
		step4 datatypes.Step4Data
		step5 datatypes.Step5Data
	)
	decode(datatypes.StepPrompt, &step1)
	decode(datatypes.StepTemplate, &step2)
	decode(datatypes.StepMandatory, &step3)
	decode(datatypes.StepOptional, &step4)
	decode(datatypes.StepReview, &step5)

	if s.SessionID != "" {
		c.sessionID = s.SessionID
	}
	c.adoptMeta(s)

	step := s.CurrentStep
	if step < datatypes.StepPrompt || step > datatypes.TotalSteps {
		anomalies = append(anomalies, Anomaly{Step: step, Reason: "step out of range"})
		step = min(max(step, datatypes.StepPrompt), datatypes.TotalSteps)
	}
	c.current = step

	if step2.SelectedTemplateID == "" {
		step2.SelectedTemplateID = s.SelectedTemplateID
	}
	step2.SessionCreated = c.HasServerSession()

	c.engine.Reset()
	c.engine.Load(datatypes.KindMandatory, step3.Clauses, step3.CurrentClauseIndex)
	c.engine.Load(datatypes.KindOptional, step4.OptionalClauses, step4.OptionalClauseIndex)
	c.engine.Load(datatypes.KindCustom, step4.CustomClauses, step4.CustomClauseIndex)
	c.engine.SetCertified(step3.Step3Completed)
	step3.Clauses, step4.OptionalClauses, step4.CustomClauses = nil, nil, nil

	c.step1, c.step2, c.step3, c.step4, c.step5 = step1, step2, step3, step4, step5

	for _, a := range anomalies {
		c.logger.Warn("session resume anomaly", "session_id", c.sessionID, "step", a.Step, "reason", a.Reason)
	}
	return anomalies
}

// Export writes the controller's state as a session snapshot, clause
// collections included.
func (c *StepController) Export() *datatypes.Session {
	s := &datatypes.Session{
		SessionID:            c.sessionID,
		CurrentStep:          c.current,
		TotalSteps:           datatypes.TotalSteps,
		Status:               c.status,
		CompletionPercentage: c.completionPercentage,
		SelectedTemplateID:   c.step2.SelectedTemplateID,
		ContractType:         c.contractType,
		OwnerID:              c.ownerID,
		CreatedAt:            c.createdAt,
		ExpiresAt:            c.expiresAt,
	}
	if s.SelectedTemplateID == "" {
		s.SelectedTemplateID = c.templateID
	}

	step3 := c.step3
	step3.Clauses = c.engine.ServerClauses(datatypes.KindMandatory)
	step3.CurrentClauseIndex = c.engine.Index(datatypes.KindMandatory)
	step3.Step3Completed = c.engine.Certified()
	step4 := c.step4
	step4.OptionalClauses = c.engine.ServerClauses(datatypes.KindOptional)
	step4.CustomClauses = c.engine.ServerClauses(datatypes.KindCustom)
	step4.OptionalClauseIndex = c.engine.Index(datatypes.KindOptional)
	step4.CustomClauseIndex = c.engine.Index(datatypes.KindCustom)

	for step, data := range map[int]any{
		datatypes.StepPrompt:    c.step1,
		datatypes.StepTemplate:  c.step2,
		datatypes.StepMandatory: step3,
		datatypes.StepOptional:  step4,
		datatypes.StepReview:    c.step5,
	} {
		if err := s.PutStep(step, data); err != nil {
			c.logger.Error("encode step data", "session_id", c.sessionID, "step", step, "error", err)
		}
	}
	return s
}
