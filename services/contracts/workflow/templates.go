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

import "github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"

// TemplateMatchThreshold is the inclusive minimum match score for a
// suggested template to be shown by default.
const TemplateMatchThreshold = 0.70

// FilterTemplates returns the suggestions at or above the threshold, in
// input order. When none qualify the full list is returned and degraded
// is true, so the user is never left without a choice.
func FilterTemplates(suggestions []datatypes.TemplateSuggestion) (visible []datatypes.TemplateSuggestion, degraded bool) {
	visible = make([]datatypes.TemplateSuggestion, 0, len(suggestions))
	for _, s := range suggestions {
		if s.MatchScore >= TemplateMatchThreshold {
			visible = append(visible, s)
		}
	}
	if len(visible) == 0 && len(suggestions) > 0 {
		return append(visible, suggestions...), true
	}
	return visible, false
}
