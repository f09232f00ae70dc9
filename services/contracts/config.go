// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contracts

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/AleutianContracts/services/contracts/discipline"
	"github.com/AleutianAI/AleutianContracts/services/contracts/gateway/direct"
	"github.com/AleutianAI/AleutianContracts/services/contracts/store"
	"github.com/AleutianAI/AleutianContracts/services/llm"
)

// Service modes.
const (
	// ModeWorkflow serves the drafts API on top of a generation gateway.
	ModeWorkflow = "workflow"

	// ModeGateway serves the generation API backed by the in-process gateway.
	ModeGateway = "gateway"
)

// Tracing exporters.
const (
	ExporterNone   = "none"
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// InProcessToken is the credential used for calls to the in-process
// gateway when no service token is configured.
const InProcessToken = "in-process"

// =============================================================================
// Configuration
// =============================================================================

// Config holds the contracts service configuration.
//
// # Description
//
// Every field is optional; applyConfigDefaults fills zero values. The
// YAML layout mirrors the struct. cmd/contracts layers environment
// variables and flags on top.
//
// # Examples
//
//	// In-process gateway, SQLite in the working directory
//	cfg := Config{}
//
//	// Workflow service in front of a remote generation service
//	cfg := Config{
//	    Gateway: GatewayConfig{URL: "http://generation:12310"},
//	}
type Config struct {
	// Mode is ModeWorkflow or ModeGateway. Default: ModeWorkflow.
	Mode string `yaml:"mode"`

	// Addr is the listen address. Default: ":12310".
	Addr string `yaml:"addr"`

	// ServiceName labels traces. Default: "contracts-service".
	ServiceName string `yaml:"service_name"`

	// GinMode is "debug", "release" or "test". Default: "release".
	GinMode string `yaml:"gin_mode"`

	Auth     AuthConfig            `yaml:"auth"`
	Gateway  GatewayConfig         `yaml:"gateway"`
	Workflow WorkflowConfig        `yaml:"workflow"`
	Database store.DBConfig        `yaml:"database"`
	Drafts   store.CacheConfig     `yaml:"drafts"`
	Sweeper  SweeperConfig         `yaml:"sweeper"`
	LLM      llm.Config            `yaml:"llm"`
	Weaviate direct.WeaviateConfig `yaml:"weaviate"`
	Tracing  TracingConfig         `yaml:"tracing"`

	// TemplatesFile replaces the built-in template catalog.
	TemplatesFile string `yaml:"templates_file"`

	// WatchTemplates reloads TemplatesFile when it changes. Sessions keep
	// the templates they already picked.
	WatchTemplates bool `yaml:"watch_templates"`

	// Registerer receives the service metrics. Nil registers them on the
	// default Prometheus registry, which /metrics serves.
	Registerer prometheus.Registerer `yaml:"-"`
}

// AuthConfig lists the bearer tokens accepted by the service. With no
// tokens every request is served as the local user.
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens"`
}

// TokenConfig maps one bearer token to an identity.
type TokenConfig struct {
	Token  string `yaml:"token"`
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
}

// GatewayConfig configures how the workflow reaches the generation backend.
type GatewayConfig struct {
	// URL of a remote generation service. Empty uses the in-process gateway.
	URL string `yaml:"url"`

	// Token is sent on every gateway call instead of the caller's token.
	// Defaults to InProcessToken for the in-process gateway.
	Token string `yaml:"token"`

	// Timeout bounds every call except clause approval. Default 60s.
	Timeout time.Duration `yaml:"timeout"`

	// ApprovalTimeout bounds clause approval. Default 30s.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`

	// RateLimit caps generation calls per second. 0 disables the limit.
	RateLimit float64 `yaml:"rate_limit"`

	// Burst is the limiter burst. Default 1 when RateLimit is set.
	Burst int `yaml:"burst"`
}

// WorkflowConfig tunes per-draft behavior.
type WorkflowConfig struct {
	// DebounceQuiet is the party search quiet period. Default 300ms.
	DebounceQuiet time.Duration `yaml:"debounce_quiet"`

	// NoticeWindow is how long an error notice stays visible. Default 10s.
	NoticeWindow time.Duration `yaml:"notice_window"`
}

// SweeperConfig configures the session expiry sweep.
type SweeperConfig struct {
	Enabled bool `yaml:"enabled"`

	store.SweeperConfig `yaml:",inline"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	// Exporter is ExporterOTLP, ExporterStdout or ExporterNone. Default none.
	Exporter string `yaml:"exporter"`

	// Endpoint of the OTLP collector. Default "aleutian-otel-collector:4317".
	Endpoint string `yaml:"endpoint"`
}

// InProcess reports whether the workflow uses the in-process gateway.
func (c Config) InProcess() bool {
	return c.Mode == ModeGateway || strings.TrimSpace(c.Gateway.URL) == ""
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = ModeWorkflow
	}
	if cfg.Addr == "" {
		cfg.Addr = ":12310"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "contracts-service"
	}
	if cfg.GinMode == "" {
		cfg.GinMode = "release"
	}

	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = discipline.DefaultGeneralTimeout
	}
	if cfg.Gateway.ApprovalTimeout <= 0 {
		cfg.Gateway.ApprovalTimeout = discipline.DefaultApprovalTimeout
	}
	cfg.Gateway.Timeout = discipline.EnforceMinTimeout(cfg.Gateway.Timeout)
	cfg.Gateway.ApprovalTimeout = discipline.EnforceMinTimeout(cfg.Gateway.ApprovalTimeout)
	if cfg.Gateway.RateLimit > 0 && cfg.Gateway.Burst <= 0 {
		cfg.Gateway.Burst = 1
	}
	if cfg.Gateway.Token == "" && cfg.InProcess() {
		cfg.Gateway.Token = InProcessToken
	}

	if cfg.Workflow.DebounceQuiet <= 0 {
		cfg.Workflow.DebounceQuiet = discipline.DefaultDebounceQuiet
	}
	if cfg.Workflow.NoticeWindow <= 0 {
		cfg.Workflow.NoticeWindow = 10 * time.Second
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "contracts.db"
	}
	if cfg.Drafts.Dir == "" && !cfg.Drafts.InMemory {
		defaults := store.DefaultCacheConfig("drafts")
		defaults.Logger = cfg.Drafts.Logger
		cfg.Drafts = defaults
	}

	cfg.Tracing.Exporter = strings.ToLower(strings.TrimSpace(cfg.Tracing.Exporter))
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = ExporterNone
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = "aleutian-otel-collector:4317"
	}
	return cfg
}

// validate rejects configurations New cannot serve.
func (c Config) validate() error {
	switch c.Mode {
	case ModeWorkflow, ModeGateway:
	default:
		return fmt.Errorf("unknown mode %q (want %s or %s)", c.Mode, ModeWorkflow, ModeGateway)
	}
	switch c.Tracing.Exporter {
	case ExporterNone, ExporterOTLP, ExporterStdout:
	default:
		return fmt.Errorf("unknown tracing exporter %q", c.Tracing.Exporter)
	}
	for i, t := range c.Auth.Tokens {
		if t.Token == "" || t.UserID == "" {
			return fmt.Errorf("auth token %d needs both token and user_id", i)
		}
	}
	return nil
}
