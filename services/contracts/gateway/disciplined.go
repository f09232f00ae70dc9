// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
	"github.com/AleutianAI/AleutianContracts/services/contracts/discipline"
)

// Disciplined applies request discipline to every call of an inner Backend.
//
// # Description
//
// Policies are chosen per operation:
//
//   - AnalyzePrompt: Analyze (idempotent, retried)
//   - GetSession: Read (idempotent, retried, concurrent duplicates shared)
//   - LookupParty: Search (idempotent, retried, concurrent duplicates shared)
//   - ApproveClause: Approve (30 s, single attempt)
//   - everything else: Generate (60 s, single attempt, rate limited)
//
// Shared reads are keyed by id and caller token, so two users never
// receive each other's result.
//
// # Thread Safety
//
// Safe for concurrent use.
type Disciplined struct {
	inner    Backend
	exec     *discipline.Executor
	policies discipline.Policies
	reads    singleflight.Group
}

// NewDisciplined wraps inner.
func NewDisciplined(inner Backend, exec *discipline.Executor, policies discipline.Policies) *Disciplined {
	return &Disciplined{
		inner:    inner,
		exec:     exec,
		policies: policies,
	}
}

var _ Backend = (*Disciplined)(nil)

func (d *Disciplined) AnalyzePrompt(ctx context.Context, prompt string) (*datatypes.AnalysisResult, error) {
	return discipline.Execute(ctx, d.exec, d.policies.Analyze.Named("analyze_prompt"),
		func(ctx context.Context) (*datatypes.AnalysisResult, error) {
			return d.inner.AnalyzePrompt(ctx, prompt)
		})
}

func (d *Disciplined) CreateSession(ctx context.Context, templateID, prompt string, analysis *datatypes.AnalysisResult) (*datatypes.Session, error) {
	return discipline.Execute(ctx, d.exec, d.policies.Generate.Named("create_session"),
		func(ctx context.Context) (*datatypes.Session, error) {
			return d.inner.CreateSession(ctx, templateID, prompt, analysis)
		})
}

func (d *Disciplined) GenerateMandatoryClauses(ctx context.Context, sessionID, explanation string, fields map[string]string, templateID string) (*datatypes.ClausesResult, error) {
	return discipline.Execute(ctx, d.exec, d.policies.Generate.Named("generate_mandatory"),
		func(ctx context.Context) (*datatypes.ClausesResult, error) {
			return d.inner.GenerateMandatoryClauses(ctx, sessionID, explanation, fields, templateID)
		})
}

func (d *Disciplined) ApproveClause(ctx context.Context, sessionID, clauseID string, approved bool, modifications string) (*datatypes.ApproveClauseResult, error) {
	return discipline.Execute(ctx, d.exec, d.policies.Approve.Named("approve_clause"),
		func(ctx context.Context) (*datatypes.ApproveClauseResult, error) {
			return d.inner.ApproveClause(ctx, sessionID, clauseID, approved, modifications)
		})
}

func (d *Disciplined) ReanalyzeClause(ctx context.Context, sessionID, clauseID, modifications string) (*datatypes.ReanalyzeClauseResult, error) {
	return discipline.Execute(ctx, d.exec, d.policies.Generate.Named("reanalyze_clause"),
		func(ctx context.Context) (*datatypes.ReanalyzeClauseResult, error) {
			return d.inner.ReanalyzeClause(ctx, sessionID, clauseID, modifications)
		})
}

func (d *Disciplined) GenerateOptionalClauses(ctx context.Context, sessionID, templateID string) (*datatypes.ClausesResult, error) {
	return discipline.Execute(ctx, d.exec, d.policies.Generate.Named("generate_optional"),
		func(ctx context.Context) (*datatypes.ClausesResult, error) {
			return d.inner.GenerateOptionalClauses(ctx, sessionID, templateID)
		})
}

func (d *Disciplined) GenerateCustomClauses(ctx context.Context, sessionID string, specs []datatypes.CustomClauseSpec) (*datatypes.ClausesResult, error) {
	return discipline.Execute(ctx, d.exec, d.policies.Generate.Named("generate_custom"),
		func(ctx context.Context) (*datatypes.ClausesResult, error) {
			return d.inner.GenerateCustomClauses(ctx, sessionID, specs)
		})
}

func (d *Disciplined) GeneratePreview(ctx context.Context, sessionID string) (*datatypes.PreviewResult, error) {
	return discipline.Execute(ctx, d.exec, d.policies.Generate.Named("generate_preview"),
		func(ctx context.Context) (*datatypes.PreviewResult, error) {
			return d.inner.GeneratePreview(ctx, sessionID)
		})
}

func (d *Disciplined) CompleteSession(ctx context.Context, sessionID string, review datatypes.ReviewData) (*datatypes.CompleteSessionResult, error) {
	return discipline.Execute(ctx, d.exec, d.policies.Generate.Named("complete_session"),
		func(ctx context.Context) (*datatypes.CompleteSessionResult, error) {
			return d.inner.CompleteSession(ctx, sessionID, review)
		})
}

func (d *Disciplined) GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	return discipline.Execute(ctx, d.exec, d.policies.Read.Named("get_session"),
		func(ctx context.Context) (*datatypes.Session, error) {
			v, err, _ := d.reads.Do(readKey(ctx, "session", sessionID), func() (any, error) {
				return d.inner.GetSession(ctx, sessionID)
			})
			if err != nil {
				return nil, err
			}
			return v.(*datatypes.Session).Clone(), nil
		})
}

func (d *Disciplined) LookupParty(ctx context.Context, externalID string) (*datatypes.PartyInfo, error) {
	return discipline.Execute(ctx, d.exec, d.policies.Search.Named("lookup_party"),
		func(ctx context.Context) (*datatypes.PartyInfo, error) {
			v, err, _ := d.reads.Do(readKey(ctx, "party", externalID), func() (any, error) {
				return d.inner.LookupParty(ctx, externalID)
			})
			if err != nil {
				return nil, err
			}
			party := *v.(*datatypes.PartyInfo)
			return &party, nil
		})
}

func readKey(ctx context.Context, kind, id string) string {
	token, _ := extensions.TokenFromContext(ctx)
	return kind + "\x00" + id + "\x00" + token
}
