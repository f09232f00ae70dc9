// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package direct

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"math"
	"regexp"
	"sort"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

var contractHTML = template.Must(template.New("contract").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`<article class="contract" data-template="{{.TemplateID}}">
<h1>{{.Title}}</h1>
<p class="effective-date">Effective {{.Date}}</p>
<section class="parties">
{{- range $i, $p := .Parties}}
<p class="party"><strong>Party {{inc $i}}:</strong> {{$p.Name}}{{if $p.Address}}, {{$p.Address}}{{end}}</p>
{{- end}}
</section>
{{- range $i, $c := .Clauses}}
<section class="clause" id="clause-{{$c.ClauseID}}">
<h2>{{inc $i}}. {{$c.Title}}</h2>
<p>{{$c.Content}}</p>
</section>
{{- end}}
</article>
`))

var unfilledField = regexp.MustCompile(`\[[a-z][a-z0-9_]*\]`)

type contractView struct {
	TemplateID string
	Title      string
	Date       string
	Parties    []datatypes.PartyInfo
	Clauses    []datatypes.Clause
}

// GeneratePreview renders the contract as it stands and scores it.
//
// # Description
//
// The document holds every mandatory clause plus the optional and custom
// clauses that were approved. Warnings name undecided clauses, missing
// parties and unfilled template fields.
func (g *Gateway) GeneratePreview(ctx context.Context, sessionID string) (*datatypes.PreviewResult, error) {
	const op = "generate_preview"
	var preview datatypes.ContractPreview

	_, err := g.update(ctx, op, sessionID, func(s *datatypes.Session) error {
		tmpl, err := g.templateFor(op, s, "")
		if err != nil {
			return err
		}
		var step3 datatypes.Step3Data
		if found, _ := s.DecodeStep(datatypes.StepMandatory, &step3); !found || len(step3.Clauses) == 0 {
			return datatypes.NewValidationError(op, "generate the mandatory clauses first")
		}
		var step4 datatypes.Step4Data
		_, _ = s.DecodeStep(datatypes.StepOptional, &step4)

		view := contractView{
			TemplateID: tmpl.ID,
			Title:      tmpl.Name,
			Date:       g.now().UTC().Format("January 2, 2006"),
			Parties:    parties(step3.Party1, step3.Party2),
			Clauses:    contractClauses(step3, step4),
		}
		html, err := renderContract(view)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		score, warnings := assessCompliance(step3, step4, view.Clauses)
		preview = datatypes.ContractPreview{
			HTMLContent:     html,
			ComplianceScore: &score,
			Warnings:        warnings,
			GeneratedAt:     g.now().UTC(),
		}

		var step5 datatypes.Step5Data
		_, _ = s.DecodeStep(datatypes.StepReview, &step5)
		step5.Preview = &preview
		s.CurrentStep = max(s.CurrentStep, datatypes.StepReview)
		return s.PutStep(datatypes.StepReview, step5)
	})
	if err != nil {
		return nil, err
	}
	return &datatypes.PreviewResult{Preview: preview}, nil
}

// CompleteSession finalizes the contract. A preview must exist and every
// mandatory clause must be approved.
func (g *Gateway) CompleteSession(ctx context.Context, sessionID string, review datatypes.ReviewData) (*datatypes.CompleteSessionResult, error) {
	const op = "complete_session"
	var final datatypes.FinalContract

	updated, err := g.update(ctx, op, sessionID, func(s *datatypes.Session) error {
		tmpl, err := g.templateFor(op, s, "")
		if err != nil {
			return err
		}
		var step5 datatypes.Step5Data
		if _, err := s.DecodeStep(datatypes.StepReview, &step5); err != nil || step5.Preview == nil || step5.Preview.HTMLContent == "" {
			return datatypes.NewValidationError(op, "generate a preview before completing")
		}
		var step3 datatypes.Step3Data
		_, _ = s.DecodeStep(datatypes.StepMandatory, &step3)
		if !allApproved(step3.Clauses) {
			return datatypes.NewValidationError(op, "every mandatory clause must be approved")
		}
		var step4 datatypes.Step4Data
		_, _ = s.DecodeStep(datatypes.StepOptional, &step4)

		party1, party2 := step3.Party1, step3.Party2
		if review.Party1 != nil {
			party1 = review.Party1
		}
		if review.Party2 != nil {
			party2 = review.Party2
		}
		view := contractView{
			TemplateID: tmpl.ID,
			Title:      tmpl.Name,
			Date:       g.now().UTC().Format("January 2, 2006"),
			Parties:    parties(party1, party2),
			Clauses:    contractClauses(step3, step4),
		}
		html, err := renderContract(view)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		final = datatypes.FinalContract{
			ContractID:   uuid.NewString(),
			SessionID:    s.SessionID,
			Title:        tmpl.Name,
			ContractType: tmpl.ContractType,
			HTMLContent:  html,
			Clauses:      view.Clauses,
			Parties:      view.Parties,
			CompletedAt:  g.now().UTC(),
		}
		step5.ReviewNotes = review.ReviewNotes
		step5.FinalContract = &final
		s.Status = datatypes.SessionCompleted
		s.CurrentStep = datatypes.StepReview
		return s.PutStep(datatypes.StepReview, step5)
	})
	if err != nil {
		return nil, err
	}
	g.logger.Info("session completed", "session_id", sessionID, "contract_id", final.ContractID)
	g.auditEvent(ctx, extensions.AuditSessionCompleted, "complete", "session", sessionID, sessionID,
		map[string]any{"contract_id": final.ContractID, "clauses": len(final.Clauses)})
	return &datatypes.CompleteSessionResult{Session: updated, FinalContract: final}, nil
}

func renderContract(view contractView) (string, error) {
	var buf bytes.Buffer
	if err := contractHTML.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render contract: %w", err)
	}
	return buf.String(), nil
}

func parties(party1, party2 *datatypes.PartyInfo) []datatypes.PartyInfo {
	var out []datatypes.PartyInfo
	for _, p := range []*datatypes.PartyInfo{party1, party2} {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// contractClauses lists mandatory clauses, then approved optional clauses,
// then approved custom clauses.
func contractClauses(step3 datatypes.Step3Data, step4 datatypes.Step4Data) []datatypes.Clause {
	out := append([]datatypes.Clause{}, step3.Clauses...)
	for _, coll := range [][]datatypes.Clause{step4.OptionalClauses, step4.CustomClauses} {
		for _, c := range coll {
			if c.Status == datatypes.ClauseApproved {
				out = append(out, c)
			}
		}
	}
	return out
}

// assessCompliance scores the draft in [0,1].
//
// Mandatory approval carries 60%, decided optional and custom clauses 20%,
// named parties 10% and filled template fields 10%.
func assessCompliance(step3 datatypes.Step3Data, step4 datatypes.Step4Data, included []datatypes.Clause) (float64, []string) {
	var warnings []string

	approved := 0
	for _, c := range step3.Clauses {
		if c.Status == datatypes.ClauseApproved {
			approved++
		} else {
			warnings = append(warnings, fmt.Sprintf("Mandatory clause %q is not approved yet.", c.Title))
		}
	}
	score := 0.6 * float64(approved) / float64(max(len(step3.Clauses), 1))

	decided, total := 0, 0
	for _, coll := range [][]datatypes.Clause{step4.OptionalClauses, step4.CustomClauses} {
		for _, c := range coll {
			total++
			if c.Status.IsTerminal() {
				decided++
			} else {
				warnings = append(warnings, fmt.Sprintf("Clause %q has not been approved or rejected.", c.Title))
			}
		}
	}
	if total == 0 {
		score += 0.2
	} else {
		score += 0.2 * float64(decided) / float64(total)
	}

	switch {
	case step3.Party1 != nil && step3.Party2 != nil:
		score += 0.1
	case step3.Party2 == nil:
		warnings = append(warnings, "The counterparty (Party 2) has not been identified.")
	default:
		warnings = append(warnings, "Party 1 has not been identified.")
	}

	unfilled := map[string]bool{}
	for _, c := range included {
		for _, m := range unfilledField.FindAllString(c.Content, -1) {
			unfilled[m] = true
		}
	}
	if len(unfilled) == 0 {
		score += 0.1
	}
	fields := make([]string, 0, len(unfilled))
	for m := range unfilled {
		fields = append(fields, m)
	}
	sort.Strings(fields)
	for _, m := range fields {
		warnings = append(warnings, fmt.Sprintf("Field %s is not filled in.", m))
	}
	return math.Round(score*100) / 100, warnings
}
