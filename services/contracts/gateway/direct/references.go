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
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// ReferenceFinder returns legal citations relevant to a clause.
type ReferenceFinder interface {
	FindReferences(ctx context.Context, title, content string) ([]string, error)
}

// WeaviateConfig configures WeaviateReferences.
type WeaviateConfig struct {
	// URL of the Weaviate instance, with or without scheme.
	URL string `yaml:"url"`

	// ClassName of the legal reference collection. Default "LegalReference".
	ClassName string `yaml:"class_name"`

	// Limit is the number of citations attached per clause. Default 3.
	Limit int `yaml:"limit"`
}

// WeaviateReferences finds citations by semantic search over a Weaviate
// collection whose objects carry "citation" and "title" properties.
type WeaviateReferences struct {
	client    *weaviate.Client
	className string
	limit     int
}

// NewWeaviateReferences creates a finder for cfg.URL.
func NewWeaviateReferences(cfg WeaviateConfig) (*WeaviateReferences, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("weaviate url is required")
	}
	if cfg.ClassName == "" {
		cfg.ClassName = "LegalReference"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 3
	}

	clientConf := weaviate.Config{Host: cfg.URL, Scheme: "http"}
	switch {
	case strings.HasPrefix(cfg.URL, "https://"):
		clientConf.Scheme = "https"
		clientConf.Host = strings.TrimPrefix(cfg.URL, "https://")
	case strings.HasPrefix(cfg.URL, "http://"):
		clientConf.Host = strings.TrimPrefix(cfg.URL, "http://")
	}
	client, err := weaviate.NewClient(clientConf)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &WeaviateReferences{client: client, className: cfg.ClassName, limit: cfg.Limit}, nil
}

// FindReferences runs a nearText query with the clause title and the first
// part of its content as concepts.
func (w *WeaviateReferences) FindReferences(ctx context.Context, title, content string) ([]string, error) {
	concepts := []string{title}
	if snippet := firstWords(content, 40); snippet != "" {
		concepts = append(concepts, snippet)
	}
	nearText := w.client.GraphQL().NearTextArgBuilder().WithConcepts(concepts)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(graphql.Field{Name: "citation"}, graphql.Field{Name: "title"}).
		WithNearText(nearText).
		WithLimit(w.limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("legal reference search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("legal reference search: %s", result.Errors[0].Message)
	}
	return parseCitations(result, w.className), nil
}

func parseCitations(result *models.GraphQLResponse, className string) []string {
	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[className].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, obj := range objects {
		props, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		if citation, ok := props["citation"].(string); ok && citation != "" {
			out = append(out, citation)
		}
	}
	return out
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

// attachReferences merges citations found for a clause into existing.
// Search failures are logged and leave existing unchanged.
func attachReferences(ctx context.Context, finder ReferenceFinder, title, content string, existing []string) []string {
	if finder == nil {
		return existing
	}
	refs, err := finder.FindReferences(ctx, title, content)
	if err != nil {
		slog.Warn("legal reference lookup failed", "title", title, "error", err)
		return existing
	}
	seen := make(map[string]bool, len(existing)+len(refs))
	out := make([]string, 0, len(existing)+len(refs))
	for _, r := range append(append([]string{}, existing...), refs...) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
