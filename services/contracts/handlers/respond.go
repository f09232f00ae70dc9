// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers serves the generation API and the drafts API over gin.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

// respondError writes the error envelope with the status for err's kind.
// Errors outside the workflow taxonomy are logged and answered with 500.
func respondError(c *gin.Context, err error) {
	status := datatypes.HTTPStatus(err)
	span := trace.SpanFromContext(c.Request.Context())
	span.RecordError(err)

	kind := datatypes.KindOf(err)
	if kind == "" {
		span.SetStatus(codes.Error, err.Error())
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Detail: "internal error"})
		return
	}
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, string(kind))
		slog.Warn("upstream failure", "path", c.FullPath(), "kind", kind, "error", err)
	}
	c.JSON(status, datatypes.ErrorResponse{Detail: datatypes.UserMessage(err), Kind: string(kind)})
}

// bindJSON decodes the body into dst and runs the struct's validate tags.
// An empty body is allowed when optional is true.
func bindJSON(c *gin.Context, op string, dst any, optional bool) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			return datatypes.NewValidationError(op, "invalid request body")
		}
	}
	if err := datatypes.Validate(dst); err != nil {
		return datatypes.NewValidationError(op, "invalid request: %s", validationSummary(err))
	}
	return nil
}

// validationSummary names the failing fields and rules without echoing
// their values.
func validationSummary(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid input"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
