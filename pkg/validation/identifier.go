// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks identifiers that arrive from outside the
// service before they reach storage lookups or outbound URLs.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// externalIDPattern matches party identifiers issued by external
// directories: CRM keys, registry numbers, email-style handles.
// Max length: 128 characters.
var externalIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@\-]{0,127}$`)

// ValidateExternalID validates a party's external identifier.
//
// Valid ids:
//   - 1-128 characters
//   - Letters and digits
//   - Separators . _ : @ - after the first character
//
// Example:
//
//	if err := validation.ValidateExternalID(id); err != nil {
//	    return datatypes.NewValidationError("lookup_party", "%v", err)
//	}
func ValidateExternalID(id string) error {
	if id == "" {
		return fmt.Errorf("external id cannot be empty")
	}
	if !externalIDPattern.MatchString(id) {
		return fmt.Errorf("invalid external id %q (letters, digits and . _ : @ - only, at most 128 chars)", id)
	}
	return nil
}

// SanitizeExternalID trims surrounding whitespace and validates the result.
//
//	id, err := validation.SanitizeExternalID(c.Param("external_id"))
func SanitizeExternalID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateExternalID(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
