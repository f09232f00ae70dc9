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
	_ "embed"
	"fmt"
	"maps"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

//go:embed templates.yaml
var defaultCatalogYAML []byte

const (
	extraMatchBonus = 0.03
	maxMatchScore   = 0.99
)

// ClauseTemplate is the boilerplate for one clause.
type ClauseTemplate struct {
	Title      string   `yaml:"title"`
	Body       string   `yaml:"body"`
	References []string `yaml:"references"`
}

// Template is one contract type the backend can draft.
type Template struct {
	ID               string             `yaml:"id"`
	Name             string             `yaml:"name"`
	Description      string             `yaml:"description"`
	ContractType     string             `yaml:"contract_type"`
	Keywords         map[string]float64 `yaml:"keywords"`
	Fields           []string           `yaml:"fields"`
	MandatoryClauses []ClauseTemplate   `yaml:"mandatory_clauses"`
	OptionalClauses  []ClauseTemplate   `yaml:"optional_clauses"`
}

// Catalog is an ordered, id-indexed set of templates.
type Catalog struct {
	templates []Template
	byID      map[string]*Template
}

// DefaultCatalog parses the embedded templates.yaml.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}
	c := &Catalog{byID: make(map[string]*Template, len(doc.Templates))}
	c.templates = doc.Templates
	for i := range c.templates {
		t := &c.templates[i]
		if t.ID == "" {
			return nil, fmt.Errorf("template %d has no id", i)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		if len(t.MandatoryClauses) == 0 {
			return nil, fmt.Errorf("template %q has no mandatory clauses", t.ID)
		}
		c.byID[t.ID] = t
	}
	return c, nil
}

// LoadCatalogFile reads and parses a YAML catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template catalog: %w", err)
	}
	return ParseCatalog(data)
}

// retaining returns c extended with the templates of prev that c no longer
// defines. Those resolve through Get but take no part in Match.
func (c *Catalog) retaining(prev *Catalog) *Catalog {
	if prev == nil {
		return c
	}
	out := &Catalog{
		templates: c.templates,
		byID:      make(map[string]*Template, len(prev.byID)+len(c.byID)),
	}
	maps.Copy(out.byID, prev.byID)
	maps.Copy(out.byID, c.byID)
	return out
}

// Get returns the template with id.
func (c *Catalog) Get(id string) (*Template, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// Templates returns the templates in catalog order.
func (c *Catalog) Templates() []Template {
	return c.templates
}

// Match scores every template against prompt.
//
// # Description
//
// A template's score is its highest matched keyword weight plus a small
// bonus per additional matched keyword, capped below 1. Templates with no
// matching keyword are omitted. Results are ordered by score, then by
// catalog order.
//
// # Outputs
//
//   - []datatypes.TemplateSuggestion: Matching templates.
//   - []string: Every matched keyword, deduplicated, in match order.
func (c *Catalog) Match(prompt string) ([]datatypes.TemplateSuggestion, []string) {
	text := " " + normalize(prompt) + " "
	var suggestions []datatypes.TemplateSuggestion
	var matched []string
	seen := make(map[string]bool)

	for _, t := range c.templates {
		keys := make([]string, 0, len(t.Keywords))
		for kw := range t.Keywords {
			keys = append(keys, kw)
		}
		sort.Strings(keys)

		best, hits := 0.0, 0
		for _, kw := range keys {
			if !strings.Contains(text, " "+normalize(kw)+" ") {
				continue
			}
			hits++
			best = math.Max(best, t.Keywords[kw])
			if !seen[kw] {
				seen[kw] = true
				matched = append(matched, kw)
			}
		}
		if hits == 0 {
			continue
		}
		score := math.Min(best+extraMatchBonus*float64(hits-1), maxMatchScore)
		suggestions = append(suggestions, datatypes.TemplateSuggestion{
			TemplateID:   t.ID,
			Name:         t.Name,
			Description:  t.Description,
			ContractType: t.ContractType,
			MatchScore:   math.Round(score*100) / 100,
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].MatchScore > suggestions[j].MatchScore
	})
	return suggestions, matched
}

// normalize lowercases s and turns every rune other than letters, digits
// and hyphens into a single space.
func normalize(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	return strings.Join(fields, " ")
}
