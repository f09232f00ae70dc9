// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Error Kinds
// =============================================================================

// ErrorKind classifies a workflow failure.
type ErrorKind string

const (
	// KindValidation: a precondition was not met. Resolved locally.
	KindValidation ErrorKind = "validation"

	// KindUnauthenticated: no usable credential. No network attempt was made.
	KindUnauthenticated ErrorKind = "unauthenticated"

	// KindTimeout: a gateway call exceeded its bound. Result discarded.
	KindTimeout ErrorKind = "timeout"

	// KindNetwork: transport failure before a response was received.
	KindNetwork ErrorKind = "network"

	// KindGateway: the gateway answered with a structured failure.
	KindGateway ErrorKind = "gateway"

	// KindConflict: the action contradicts clause policy (mandatory reject).
	KindConflict ErrorKind = "conflict"

	// KindNotFound: a looked-up entity does not exist.
	KindNotFound ErrorKind = "not_found"

	// KindInFlight: the same action is already running.
	KindInFlight ErrorKind = "in_flight"

	// KindSuperseded: a debounced call was replaced by a newer one.
	KindSuperseded ErrorKind = "superseded"
)

// =============================================================================
// WorkflowError
// =============================================================================

// WorkflowError is the single error type surfaced by the workflow.
//
// # Description
//
// Kind drives propagation policy. Op names the action ("approve_clause").
// Message is safe to show to the user. StatusCode is set for gateway
// failures that carried an HTTP status. Err is the underlying cause.
//
// # Examples
//
//	if errors.Is(err, datatypes.ErrConflict) { ... }
//
//	var werr *datatypes.WorkflowError
//	if errors.As(err, &werr) && werr.Kind == datatypes.KindGateway { ... }
type WorkflowError struct {
	Kind       ErrorKind
	Op         string
	Message    string
	StatusCode int
	Err        error
}

// Error implements error.
func (e *WorkflowError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is matches kind sentinels, so errors.Is(err, ErrTimeout) works for any
// timeout regardless of Op or Message.
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrValidation      = &WorkflowError{Kind: KindValidation}
	ErrUnauthenticated = &WorkflowError{Kind: KindUnauthenticated}
	ErrTimeout         = &WorkflowError{Kind: KindTimeout}
	ErrNetwork         = &WorkflowError{Kind: KindNetwork}
	ErrGateway         = &WorkflowError{Kind: KindGateway}
	ErrConflict        = &WorkflowError{Kind: KindConflict}
	ErrNotFound        = &WorkflowError{Kind: KindNotFound}
	ErrInFlight        = &WorkflowError{Kind: KindInFlight}
	ErrSuperseded      = &WorkflowError{Kind: KindSuperseded}

	// ErrPartyNotFound is the PartyDirectory miss.
	ErrPartyNotFound = ErrNotFound
)

// =============================================================================
// Constructors
// =============================================================================

// NewValidationError reports an unmet precondition.
func NewValidationError(op, format string, args ...any) *WorkflowError {
	return &WorkflowError{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NewConflictError reports an action refused by clause policy.
func NewConflictError(op, message string) *WorkflowError {
	return &WorkflowError{Kind: KindConflict, Op: op, Message: message}
}

// NewUnauthenticatedError wraps a credential failure.
func NewUnauthenticatedError(op string, cause error) *WorkflowError {
	return &WorkflowError{Kind: KindUnauthenticated, Op: op, Message: "sign in again to continue", Err: cause}
}

// NewTimeoutError reports a call that exceeded its bound.
func NewTimeoutError(op string, cause error) *WorkflowError {
	return &WorkflowError{Kind: KindTimeout, Op: op, Message: "the request took too long", Err: cause}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(op string, cause error) *WorkflowError {
	return &WorkflowError{Kind: KindNetwork, Op: op, Message: "could not reach the generation service", Err: cause}
}

// NewGatewayError reports a structured failure from the gateway.
func NewGatewayError(op string, status int, detail string) *WorkflowError {
	if detail == "" {
		detail = http.StatusText(status)
	}
	return &WorkflowError{Kind: KindGateway, Op: op, Message: detail, StatusCode: status}
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(op, message string) *WorkflowError {
	return &WorkflowError{Kind: KindNotFound, Op: op, Message: message}
}

// NewInFlightError reports a duplicate concurrent action.
func NewInFlightError(op string) *WorkflowError {
	return &WorkflowError{Kind: KindInFlight, Op: op, Message: "this action is already in progress"}
}

// NewSupersededError reports a debounced call replaced by a newer one.
func NewSupersededError(op string) *WorkflowError {
	return &WorkflowError{Kind: KindSuperseded, Op: op, Message: "replaced by a newer request"}
}

// =============================================================================
// Classification
// =============================================================================

// KindOf returns the kind of err, or "" when err is not a WorkflowError.
func KindOf(err error) ErrorKind {
	var werr *WorkflowError
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return ""
}

// IsTransient reports whether err may succeed on a repeat attempt.
//
// Timeouts and network failures are transient. Gateway failures are
// transient only for 429 and 5xx statuses.
func IsTransient(err error) bool {
	var werr *WorkflowError
	if !errors.As(err, &werr) {
		return false
	}
	switch werr.Kind {
	case KindTimeout, KindNetwork:
		return true
	case KindGateway:
		return werr.StatusCode == http.StatusTooManyRequests || werr.StatusCode >= 500
	default:
		return false
	}
}

// HTTPStatus maps err to the status the service API answers with.
func HTTPStatus(err error) int {
	var werr *WorkflowError
	if !errors.As(err, &werr) {
		return http.StatusInternalServerError
	}
	switch werr.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInFlight, KindSuperseded:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindNetwork:
		return http.StatusBadGateway
	case KindGateway:
		if werr.StatusCode >= 400 && werr.StatusCode < 600 {
			return werr.StatusCode
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the user-facing explanation of err.
func UserMessage(err error) string {
	var werr *WorkflowError
	if errors.As(err, &werr) && werr.Message != "" {
		return werr.Message
	}
	return "something went wrong"
}
