// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianContracts/services/contracts"
)

// fileConfig is the on-disk layout: the service config plus logging.
type fileConfig struct {
	contracts.Config `yaml:",inline"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures pkg/logging for the process.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// envOverrides maps environment variables onto config fields. Applied
// after the YAML file and before flags.
var envOverrides = []struct {
	key   string
	apply func(cfg *fileConfig, value string) error
}{
	{"CONTRACTS_MODE", func(c *fileConfig, v string) error { c.Mode = v; return nil }},
	{"CONTRACTS_ADDR", func(c *fileConfig, v string) error { c.Addr = v; return nil }},
	{"CONTRACTS_GATEWAY_URL", func(c *fileConfig, v string) error { c.Gateway.URL = v; return nil }},
	{"CONTRACTS_GATEWAY_TOKEN", func(c *fileConfig, v string) error { c.Gateway.Token = v; return nil }},
	{"CONTRACTS_GATEWAY_RATE_LIMIT", func(c *fileConfig, v string) error {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.Gateway.RateLimit = r
		return nil
	}},
	{"CONTRACTS_DB_PATH", func(c *fileConfig, v string) error { c.Database.Path = v; return nil }},
	{"CONTRACTS_DRAFTS_DIR", func(c *fileConfig, v string) error { c.Drafts.Dir = v; return nil }},
	{"CONTRACTS_TEMPLATES_FILE", func(c *fileConfig, v string) error { c.TemplatesFile = v; return nil }},
	{"CONTRACTS_WATCH_TEMPLATES", func(c *fileConfig, v string) error {
		w, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.WatchTemplates = w
		return nil
	}},
	{"CONTRACTS_LLM_PROVIDER", func(c *fileConfig, v string) error { c.LLM.Provider = v; return nil }},
	{"CONTRACTS_LLM_MODEL", func(c *fileConfig, v string) error { c.LLM.Model = v; return nil }},
	{"CONTRACTS_LLM_BASE_URL", func(c *fileConfig, v string) error { c.LLM.BaseURL = v; return nil }},
	{"CONTRACTS_LLM_API_KEY", func(c *fileConfig, v string) error { c.LLM.APIKey = v; return nil }},
	{"CONTRACTS_WEAVIATE_URL", func(c *fileConfig, v string) error { c.Weaviate.URL = v; return nil }},
	{"CONTRACTS_LOG_LEVEL", func(c *fileConfig, v string) error { c.Logging.Level = v; return nil }},
	{"CONTRACTS_LOG_DIR", func(c *fileConfig, v string) error { c.Logging.Dir = v; return nil }},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", func(c *fileConfig, v string) error {
		c.Tracing.Endpoint = v
		if c.Tracing.Exporter == "" {
			c.Tracing.Exporter = contracts.ExporterOTLP
		}
		return nil
	}},
}

// loadConfig reads path and applies environment overrides. A missing
// file is only an error when required is true.
func loadConfig(path string, required bool) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
	default:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.key)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(&cfg, v); err != nil {
			return cfg, fmt.Errorf("%s: %w", o.key, err)
		}
	}
	return cfg, nil
}
