// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command contracts runs the contract generation service.
//
// # Usage
//
//	# Workflow service with the in-process gateway
//	contracts serve
//
//	# Generation gateway for remote workflow services
//	contracts serve --mode gateway --addr :12311
//
//	# Workflow service in front of a remote gateway
//	CONTRACTS_GATEWAY_URL=http://generation:12311 contracts serve
//
// # Configuration
//
// Settings come from the YAML file named by --config (default
// contracts.yaml, optional), then CONTRACTS_* environment variables, then
// flags. OTEL_EXPORTER_OTLP_ENDPOINT enables OTLP tracing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianContracts/pkg/logging"
	"github.com/AleutianAI/AleutianContracts/services/contracts"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	modeFlag   string
	addrFlag   string
	levelFlag  string
)

var (
	rootCmd = &cobra.Command{
		Use:   "contracts",
		Short: "AI-assisted contract generation service",
		Long: `contracts guides a user from a plain-language request to a finished
contract: template matching, clause drafting and approval, preview and
completion.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service until interrupted",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "contracts.yaml", "path to the YAML config file")

	serveCmd.Flags().StringVar(&modeFlag, "mode", "", "service mode: workflow or gateway")
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "listen address")
	serveCmd.Flags().StringVar(&levelFlag, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runServe loads configuration, starts the service and blocks until
// SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "contracts",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := contracts.New(ctx, cfg.Config, nil)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	return svc.Run(ctx)
}

// applyFlags overrides cfg with flags the user set explicitly.
func applyFlags(cmd *cobra.Command, cfg *fileConfig) {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = modeFlag
	}
	if flags.Changed("addr") {
		cfg.Addr = addrFlag
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = levelFlag
	}
}
