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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

var disciplineTracer = otel.Tracer("contracts.discipline")

// =============================================================================
// Interfaces
// =============================================================================

// CallRecorder receives per-attempt gateway metrics.
// *observability.WorkflowMetrics satisfies it.
type CallRecorder interface {
	RecordGatewayCall(operation, outcome string, seconds float64)
	RecordRetry(operation string)
}

type nopRecorder struct{}

func (nopRecorder) RecordGatewayCall(string, string, float64) {}
func (nopRecorder) RecordRetry(string)                        {}

// =============================================================================
// Executor
// =============================================================================

// Executor applies a Policy to gateway calls.
//
// # Description
//
// Execute resolves a credential before every attempt, bounds each attempt
// with the policy timeout, and retries only idempotent calls that failed
// with a transient error. The credential is handed to the operation through
// the context (extensions.TokenFromContext).
//
// # Thread Safety
//
// Safe for concurrent use.
type Executor struct {
	credentials extensions.CredentialSource
	limiter     *rate.Limiter
	recorder    CallRecorder
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRateLimit limits RateLimited calls to r per second with burst b.
func WithRateLimit(r float64, b int) ExecutorOption {
	return func(e *Executor) {
		if r > 0 {
			if b < 1 {
				b = 1
			}
			e.limiter = rate.NewLimiter(rate.Limit(r), b)
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec CallRecorder) ExecutorOption {
	return func(e *Executor) {
		if rec != nil {
			e.recorder = rec
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an Executor that resolves tokens from credentials.
func NewExecutor(credentials extensions.CredentialSource, opts ...ExecutorOption) *Executor {
	e := &Executor{
		credentials: credentials,
		recorder:    nopRecorder{},
		logger:      slog.Default(),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op under policy p.
//
// # Description
//
// For each attempt:
//  1. Resolve a credential. Failure returns Unauthenticated with no call.
//  2. Wait on the rate limiter when p.RateLimited.
//  3. Run op with a context bounded by p.Timeout. When the bound expires
//     the attempt fails with Timeout and op's eventual result is discarded,
//     even if op ignores its context.
//
// Only idempotent policies retry, and only on transient errors.
//
// # Inputs
//
//   - ctx: Parent context. Its cancellation ends everything.
//   - e: Executor.
//   - p: Policy to apply. p.Name labels metrics, logs and errors.
//   - op: The gateway call.
//
// # Outputs
//
//   - T: op's result on success.
//   - error: A *datatypes.WorkflowError (possibly wrapped with the attempt
//     count), or ctx.Err() when the parent context ended.
//
// # Examples
//
//	analysis, err := discipline.Execute(ctx, exec, policies.Analyze,
//	    func(ctx context.Context) (*datatypes.AnalysisResult, error) {
//	        return gw.AnalyzePrompt(ctx, prompt)
//	    })
func Execute[T any](ctx context.Context, e *Executor, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	ctx, span := disciplineTracer.Start(ctx, "discipline.Execute",
		trace.WithAttributes(
			attribute.String("policy.name", p.Name),
			attribute.Bool("policy.idempotent", p.Idempotent),
			attribute.String("policy.timeout", p.Timeout.String()),
		),
	)
	defer span.End()

	attempts := p.Attempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.Backoff(attempt)
			e.recorder.RecordRetry(p.Name)
			span.AddEvent("retry_attempt", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("delay", delay.String()),
			))
			e.logger.Info("retrying gateway call",
				"operation", p.Name,
				"attempt", attempt,
				"delay", delay,
				"last_error", lastErr,
			)
			if err := e.sleep(ctx, delay); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "context canceled during retry")
				return zero, err
			}
		}

		token, err := e.credentials.CurrentToken(ctx)
		if err != nil {
			e.recorder.RecordGatewayCall(p.Name, "unauthenticated", 0)
			werr := datatypes.NewUnauthenticatedError(p.Name, err)
			span.RecordError(werr)
			span.SetStatus(codes.Error, "no credential")
			return zero, werr
		}
		callCtx := extensions.ContextWithToken(ctx, token)

		if p.RateLimited && e.limiter != nil {
			if err := e.limiter.Wait(callCtx); err != nil {
				if ctx.Err() != nil {
					return zero, ctx.Err()
				}
				return zero, datatypes.NewTimeoutError(p.Name, err)
			}
		}

		start := time.Now()
		v, err := runAttempt(callCtx, p, op)
		elapsed := time.Since(start).Seconds()

		if err == nil {
			e.recorder.RecordGatewayCall(p.Name, "success", elapsed)
			span.SetAttributes(attribute.Int("attempts", attempt))
			return v, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			e.recorder.RecordGatewayCall(p.Name, "canceled", elapsed)
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "canceled")
			return zero, ctx.Err()
		}
		outcome := "failure"
		if errors.Is(err, datatypes.ErrTimeout) {
			outcome = "timeout"
		}
		e.recorder.RecordGatewayCall(p.Name, outcome, elapsed)

		if !datatypes.IsTransient(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "non-retryable error")
			return zero, err
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "all attempts failed")
	span.SetAttributes(attribute.Int("attempts", attempts))
	if attempts > 1 {
		return zero, fmt.Errorf("%s failed after %d attempts: %w", p.Name, attempts, lastErr)
	}
	return zero, lastErr
}

// runAttempt runs op once with the policy timeout.
func runAttempt[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultGeneralTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := op(attemptCtx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.v, nil
		}
		return zero, classify(ctx, attemptCtx, p.Name, r.err)
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, datatypes.NewTimeoutError(p.Name, attemptCtx.Err())
	}
}

// classify converts a raw op error into the workflow taxonomy.
func classify(parent, attemptCtx context.Context, op string, err error) error {
	var werr *datatypes.WorkflowError
	if errors.As(err, &werr) {
		return err
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() != nil {
		return datatypes.NewTimeoutError(op, err)
	}
	return &datatypes.WorkflowError{Kind: datatypes.KindGateway, Op: op, Message: "the generation service failed", Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
