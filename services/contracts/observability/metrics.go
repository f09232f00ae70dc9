// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics for the contracts workflow.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the generation
// workflow. Metrics include:
//   - Gateway call counters and latency (by operation and outcome)
//   - Retry, busy-guard and debounce counters
//   - Step and clause transition counters
//   - Open draft gauge and expiry sweep counter
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every Record method is safe to call on a nil *WorkflowMetrics.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "contracts"

// Outcome labels for gateway calls.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
	OutcomeAuth    = "unauthenticated"
)

// WorkflowMetrics holds all Prometheus metrics for the workflow.
//
// # Fields
//
//   - GatewayCallsTotal: gateway calls by operation and outcome
//   - GatewayCallDuration: gateway call latency by operation
//   - GatewayRetriesTotal: retry attempts by operation
//   - BusyRejectionsTotal: duplicate in-flight actions refused
//   - DebounceSupersededTotal: debounced calls replaced by newer input
//   - StepTransitionsTotal: step changes by from/to
//   - ClauseTransitionsTotal: confirmed clause status changes
//   - ActiveDrafts: drafts currently held in memory
//   - SessionsAbandonedTotal: sessions marked abandoned by the sweeper
type WorkflowMetrics struct {
	GatewayCallsTotal       *prometheus.CounterVec
	GatewayCallDuration     *prometheus.HistogramVec
	GatewayRetriesTotal     *prometheus.CounterVec
	BusyRejectionsTotal     *prometheus.CounterVec
	DebounceSupersededTotal *prometheus.CounterVec
	StepTransitionsTotal    *prometheus.CounterVec
	ClauseTransitionsTotal  *prometheus.CounterVec
	ActiveDrafts            prometheus.Gauge
	SessionsAbandonedTotal  prometheus.Counter
}

// DefaultMetrics is the process-wide instance. Initialized by InitMetrics().
var DefaultMetrics *WorkflowMetrics

// InitMetrics registers the metrics on the default Prometheus registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *WorkflowMetrics {
	DefaultMetrics = NewWorkflowMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewWorkflowMetrics creates metrics registered on reg.
//
// # Description
//
// Tests pass prometheus.NewRegistry() to get an isolated set.
//
// # Inputs
//
//   - reg: Registerer to attach metrics to.
//
// # Outputs
//
//   - *WorkflowMetrics: Ready for use.
func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	factory := promauto.With(reg)
	return &WorkflowMetrics{
		GatewayCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "gateway",
				Name:      "calls_total",
				Help:      "Total gateway calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		GatewayCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "gateway",
				Name:      "call_duration_seconds",
				Help:      "Gateway call latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		GatewayRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "gateway",
				Name:      "retries_total",
				Help:      "Retry attempts of idempotent gateway calls",
			},
			[]string{"operation"},
		),
		BusyRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "busy_rejections_total",
				Help:      "Actions refused because the same action was in flight",
			},
			[]string{"action"},
		),
		DebounceSupersededTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "debounce_superseded_total",
				Help:      "Debounced calls replaced by newer input",
			},
			[]string{"action"},
		),
		StepTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "step_transitions_total",
				Help:      "Workflow step changes",
			},
			[]string{"from", "to"},
		),
		ClauseTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "clause_transitions_total",
				Help:      "Confirmed clause status changes by collection and new status",
			},
			[]string{"kind", "status"},
		),
		ActiveDrafts: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_drafts",
				Help:      "Drafts currently held in memory",
			},
		),
		SessionsAbandonedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_abandoned_total",
				Help:      "Sessions marked abandoned after expires_at passed",
			},
		),
	}
}

// =============================================================================
// Recording Methods
// =============================================================================

// RecordGatewayCall records one gateway attempt.
func (m *WorkflowMetrics) RecordGatewayCall(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.GatewayCallsTotal.WithLabelValues(operation, outcome).Inc()
	m.GatewayCallDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordRetry records a retry of an idempotent call.
func (m *WorkflowMetrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.GatewayRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordBusyRejection records a refused duplicate action.
func (m *WorkflowMetrics) RecordBusyRejection(action string) {
	if m == nil {
		return
	}
	m.BusyRejectionsTotal.WithLabelValues(action).Inc()
}

// RecordSuperseded records a debounced call replaced by newer input.
func (m *WorkflowMetrics) RecordSuperseded(action string) {
	if m == nil {
		return
	}
	m.DebounceSupersededTotal.WithLabelValues(action).Inc()
}

// RecordStepTransition records a step change.
func (m *WorkflowMetrics) RecordStepTransition(from, to int) {
	if m == nil {
		return
	}
	m.StepTransitionsTotal.WithLabelValues(strconv.Itoa(from), strconv.Itoa(to)).Inc()
}

// RecordClauseTransition records a confirmed clause status change.
func (m *WorkflowMetrics) RecordClauseTransition(kind, status string) {
	if m == nil {
		return
	}
	m.ClauseTransitionsTotal.WithLabelValues(kind, status).Inc()
}

// DraftOpened increments the active draft gauge.
func (m *WorkflowMetrics) DraftOpened() {
	if m == nil {
		return
	}
	m.ActiveDrafts.Inc()
}

// DraftClosed decrements the active draft gauge.
func (m *WorkflowMetrics) DraftClosed() {
	if m == nil {
		return
	}
	m.ActiveDrafts.Dec()
}

// RecordAbandoned records sessions marked abandoned by one sweep.
func (m *WorkflowMetrics) RecordAbandoned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsAbandonedTotal.Add(float64(n))
}
